package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/hollowmere/parley/pkg/provider/llm"
)

func TestRecord_Append(t *testing.T) {
	t.Parallel()

	rec := &Record{ID: "c1"}
	rec.Append(llm.Message{Role: "user", Content: "hello"})
	rec.Append(
		llm.Message{Role: "assistant", Content: "well met"},
		llm.Message{Role: "user", Content: "goodbye"},
	)

	if len(rec.History) != 3 {
		t.Fatalf("History length = %d, want 3", len(rec.History))
	}
	if rec.Version != 2 {
		t.Errorf("Version = %d, want 2 (one bump per Append call)", rec.Version)
	}

	rec.Append()
	if rec.Version != 2 {
		t.Errorf("empty Append bumped version to %d", rec.Version)
	}
}

func TestRecord_Clone(t *testing.T) {
	t.Parallel()

	rec := &Record{ID: "c1", History: []llm.Message{{Role: "user", Content: "hi"}}}
	c := rec.Clone()
	c.History[0].Content = "mutated"
	c.Append(llm.Message{Role: "assistant", Content: "extra"})

	if rec.History[0].Content != "hi" {
		t.Errorf("clone mutation leaked into original: %q", rec.History[0].Content)
	}
	if len(rec.History) != 1 {
		t.Errorf("clone append leaked into original: %d messages", len(rec.History))
	}
}

func TestMemStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemStore()
	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	got, err := s.Get(ctx, "c1")
	if err != nil || got != nil {
		t.Fatalf("Get missing = %+v, %v, want nil, nil", got, err)
	}

	rec := &Record{ID: "c1", ProjectID: "p", PlayerID: "player", NPCID: "warden"}
	rec.Append(llm.Message{Role: "user", Content: "hello"})
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err = s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || len(got.History) != 1 || got.Version != 1 {
		t.Fatalf("Get = %+v", got)
	}
	if got.StartedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("Save did not set timestamps")
	}

	// Mutating the returned record must not affect the stored copy.
	got.Append(llm.Message{Role: "assistant", Content: "leak"})
	again, _ := s.Get(ctx, "c1")
	if len(again.History) != 1 {
		t.Errorf("Get result shares storage with store: %d messages", len(again.History))
	}

	// Save again resumes the same record.
	rec.Append(llm.Message{Role: "assistant", Content: "well met"})
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save update: %v", err)
	}
	again, _ = s.Get(ctx, "c1")
	if len(again.History) != 2 || again.Version != 2 {
		t.Fatalf("after update: %+v", again)
	}

	if err := s.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
	got, _ = s.Get(ctx, "c1")
	if got != nil {
		t.Errorf("Get after Delete = %+v, want nil", got)
	}
}
