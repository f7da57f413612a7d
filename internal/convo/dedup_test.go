package convo

import (
	"testing"
	"time"
)

func TestDedupShouldProcess(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	d := newDedup(time.Second)
	d.now = func() time.Time { return now }

	if !d.shouldProcess("open the gate") {
		t.Fatal("first utterance should process")
	}

	now = now.Add(300 * time.Millisecond)
	if d.shouldProcess("open the gate") {
		t.Error("identical utterance inside the window should be dropped")
	}

	now = now.Add(200 * time.Millisecond)
	if !d.shouldProcess("close the gate") {
		t.Error("different utterance should process regardless of the window")
	}

	now = now.Add(1100 * time.Millisecond)
	if !d.shouldProcess("close the gate") {
		t.Error("identical utterance after the window should process")
	}
}

func TestDedupNormalizesCaseAndSpace(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	d := newDedup(time.Second)
	d.now = func() time.Time { return now }

	if !d.shouldProcess("Open The Gate") {
		t.Fatal("first utterance should process")
	}
	now = now.Add(100 * time.Millisecond)
	if d.shouldProcess("  open the gate  ") {
		t.Error("case and surrounding whitespace should not defeat dedup")
	}
}

func TestDedupWindowSlidesOnDrop(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	d := newDedup(time.Second)
	d.now = func() time.Time { return now }

	d.shouldProcess("hello")
	now = now.Add(900 * time.Millisecond)
	if d.shouldProcess("hello") {
		t.Fatal("still inside the window")
	}

	// A dropped duplicate must not extend the window; the next attempt is
	// measured against the originally processed utterance.
	now = now.Add(200 * time.Millisecond)
	if !d.shouldProcess("hello") {
		t.Error("window expired relative to the processed utterance")
	}
}

func TestDedupZeroWindowUsesDefault(t *testing.T) {
	t.Parallel()

	d := newDedup(0)
	if d.window != DefaultDedupWindow {
		t.Errorf("window = %v, want %v", d.window, DefaultDedupWindow)
	}
}
