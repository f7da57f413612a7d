package convo

import (
	"testing"
	"time"
)

// newTestAggregator returns an aggregator whose flushes arrive on the
// returned channel.
func newTestAggregator(window time.Duration) (*Aggregator, chan string) {
	flushed := make(chan string, 8)
	agg := NewAggregator(window, func(utterance string) { flushed <- utterance })
	return agg, flushed
}

func waitFlush(t *testing.T, flushed <-chan string, timeout time.Duration) string {
	t.Helper()
	select {
	case utterance := <-flushed:
		return utterance
	case <-time.After(timeout):
		t.Fatal("timed out waiting for flush")
		return ""
	}
}

func assertNoFlush(t *testing.T, flushed <-chan string, wait time.Duration) {
	t.Helper()
	select {
	case utterance := <-flushed:
		t.Fatalf("unexpected flush %q", utterance)
	case <-time.After(wait):
	}
}

func TestAggregatorDebounceSingleFlush(t *testing.T) {
	t.Parallel()

	agg, flushed := newTestAggregator(40 * time.Millisecond)
	agg.Append("open")
	agg.Append("the gate")
	agg.Append("please")

	if got := waitFlush(t, flushed, time.Second); got != "open the gate please" {
		t.Errorf("flushed %q, want %q", got, "open the gate please")
	}
	assertNoFlush(t, flushed, 100*time.Millisecond)
}

func TestAggregatorAppendRestartsTimer(t *testing.T) {
	t.Parallel()

	agg, flushed := newTestAggregator(150 * time.Millisecond)
	agg.Append("open the")
	time.Sleep(80 * time.Millisecond)
	agg.Append("gate")

	// The first fragment's deadline has passed, but the second append
	// restarted the window.
	assertNoFlush(t, flushed, 100*time.Millisecond)
	if got := waitFlush(t, flushed, time.Second); got != "open the gate" {
		t.Errorf("flushed %q, want %q", got, "open the gate")
	}
}

func TestAggregatorDropsEmptyFragments(t *testing.T) {
	t.Parallel()

	agg, flushed := newTestAggregator(30 * time.Millisecond)
	agg.Append("   ")
	agg.Append("")

	assertNoFlush(t, flushed, 100*time.Millisecond)
}

func TestAggregatorCommitFlushesImmediately(t *testing.T) {
	t.Parallel()

	agg, flushed := newTestAggregator(time.Hour)
	agg.Append("open the")
	agg.Commit()

	if got := waitFlush(t, flushed, time.Second); got != "open the" {
		t.Errorf("flushed %q, want %q", got, "open the")
	}
}

func TestAggregatorCommitFoldsInterim(t *testing.T) {
	t.Parallel()

	agg, flushed := newTestAggregator(time.Hour)
	agg.NoteInterim("open the gate")
	agg.Commit()

	if got := waitFlush(t, flushed, time.Second); got != "open the gate" {
		t.Errorf("flushed %q, want %q", got, "open the gate")
	}
}

func TestAggregatorCommitSkipsInterimAlreadyBuffered(t *testing.T) {
	t.Parallel()

	agg, flushed := newTestAggregator(time.Hour)
	agg.Append("open the gate")
	agg.NoteInterim("the gate")
	agg.Commit()

	if got := waitFlush(t, flushed, time.Second); got != "open the gate" {
		t.Errorf("flushed %q, want %q", got, "open the gate")
	}
}

func TestAggregatorCommitEmptyIsNoop(t *testing.T) {
	t.Parallel()

	agg, flushed := newTestAggregator(time.Hour)
	agg.Commit()
	agg.FlushNow()

	assertNoFlush(t, flushed, 50*time.Millisecond)
}

func TestAggregatorClearDiscards(t *testing.T) {
	t.Parallel()

	agg, flushed := newTestAggregator(40 * time.Millisecond)
	agg.Append("never mind")
	agg.NoteInterim("forget it")
	agg.Clear()

	assertNoFlush(t, flushed, 150*time.Millisecond)
}

func TestAggregatorInterimClearedByFinal(t *testing.T) {
	t.Parallel()

	agg, flushed := newTestAggregator(time.Hour)
	agg.NoteInterim("hal")
	agg.Append("halt right there")
	agg.Commit()

	if got := waitFlush(t, flushed, time.Second); got != "halt right there" {
		t.Errorf("flushed %q, want %q", got, "halt right there")
	}
}
