package cooldown

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a mutable time source for deterministic expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testKey = Key{ProjectID: "proj-1", PlayerID: "player-1", NPCID: "npc-1"}

func TestApplyAndRemaining(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	r.Apply(testKey, 300)

	if !r.IsOnCooldown(testKey) {
		t.Fatal("expected key to be on cooldown immediately after Apply")
	}
	if got := r.RemainingSeconds(testKey); got != 300 {
		t.Errorf("RemainingSeconds: want 300, got %d", got)
	}

	// Remaining seconds must strictly decrease as time passes.
	prev := 300
	for i := 0; i < 4; i++ {
		clock.Advance(30 * time.Second)
		got := r.RemainingSeconds(testKey)
		if got >= prev {
			t.Fatalf("RemainingSeconds did not decrease: prev=%d got=%d", prev, got)
		}
		prev = got
	}

	// At expiry the remaining time reaches exactly 0 and the entry is gone.
	clock.Advance(10 * time.Minute)
	if got := r.RemainingSeconds(testKey); got != 0 {
		t.Errorf("RemainingSeconds after expiry: want 0, got %d", got)
	}
	if r.IsOnCooldown(testKey) {
		t.Error("expected cooldown to have expired")
	}
}

func TestRemainingSecondsRoundsUp(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	r.Apply(testKey, 10)
	clock.Advance(9*time.Second + 500*time.Millisecond)

	// Half a second left still displays as one whole second.
	if got := r.RemainingSeconds(testKey); got != 1 {
		t.Errorf("RemainingSeconds: want 1, got %d", got)
	}
}

func TestCanStart(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	if ok, rem := r.CanStart(testKey); !ok || rem != 0 {
		t.Fatalf("CanStart on empty registry: want (true, 0), got (%v, %d)", ok, rem)
	}

	r.Apply(testKey, 120)
	ok, rem := r.CanStart(testKey)
	if ok {
		t.Error("CanStart during cooldown: want false")
	}
	if rem != 120 {
		t.Errorf("CanStart remaining: want 120, got %d", rem)
	}

	clock.Advance(3 * time.Minute)
	if ok, rem := r.CanStart(testKey); !ok || rem != 0 {
		t.Errorf("CanStart after expiry: want (true, 0), got (%v, %d)", ok, rem)
	}
}

func TestLazyDeletionOnRead(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	r.Apply(testKey, 1)
	clock.Advance(2 * time.Second)

	if r.IsOnCooldown(testKey) {
		t.Fatal("expected cooldown expired")
	}
	if got := r.Len(); got != 0 {
		t.Errorf("expired entry not deleted on read: len=%d", got)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	other := Key{ProjectID: "proj-1", PlayerID: "player-2", NPCID: "npc-1"}
	r.Apply(testKey, 60)

	if r.IsOnCooldown(other) {
		t.Error("cooldown leaked across keys")
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	r := New(WithClock(clock.Now), WithSweepInterval(10*time.Millisecond))

	r.Apply(testKey, 1)
	r.Apply(Key{ProjectID: "p2", PlayerID: "pl2", NPCID: "n2"}, 3600)
	clock.Advance(5 * time.Second)

	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.Len() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sweep did not remove expired entry: len=%d", r.Len())
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	r := New()
	r.Stop() // must not panic or block
}
