// Package cooldown tracks timed re-engagement locks for NPC conversations.
//
// When the moderation layer forces a conversation to end, the player is
// barred from re-engaging that NPC in that project for a configured period.
// The Registry is the single shared resource between connections: the gateway
// consults [Registry.CanStart] before creating a conversation pipeline, and
// the turn controller calls [Registry.Apply] when a moderation-forced exit
// occurs. Entries are lazily deleted on read and periodically swept so that
// memory stays bounded regardless of lookup patterns.
package cooldown

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultSweepInterval is how often the background sweep removes expired entries.
const defaultSweepInterval = time.Minute

// Key identifies one (project, player, NPC) cooldown scope.
type Key struct {
	ProjectID string
	PlayerID  string
	NPCID     string
}

// Registry is a concurrency-safe cooldown table.
// The zero value is not usable; create instances with [New].
type Registry struct {
	mu      sync.Mutex
	entries map[Key]time.Time // key → expiry instant

	now           func() time.Time
	sweepInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Registry during construction.
type Option func(*Registry)

// WithSweepInterval overrides the background sweep period. Default is one minute.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.sweepInterval = d
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a Registry. Call [Registry.Start] to begin the periodic sweep.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:       make(map[Key]time.Time),
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Apply places key on cooldown for the given number of seconds, replacing any
// existing entry.
func (r *Registry) Apply(key Key, seconds int) {
	expires := r.now().Add(time.Duration(seconds) * time.Second)
	r.mu.Lock()
	r.entries[key] = expires
	r.mu.Unlock()
	slog.Info("cooldown applied",
		"project_id", key.ProjectID,
		"player_id", key.PlayerID,
		"npc_id", key.NPCID,
		"seconds", seconds,
	)
}

// IsOnCooldown reports whether key currently has an unexpired entry.
// Expired entries are deleted on read.
func (r *Registry) IsOnCooldown(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	expires, ok := r.entries[key]
	if !ok {
		return false
	}
	if !expires.After(r.now()) {
		delete(r.entries, key)
		return false
	}
	return true
}

// RemainingSeconds returns the whole seconds left on key's cooldown, rounded
// up, or 0 when no cooldown is active.
func (r *Registry) RemainingSeconds(key Key) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	expires, ok := r.entries[key]
	if !ok {
		return 0
	}
	rem := expires.Sub(r.now())
	if rem <= 0 {
		delete(r.entries, key)
		return 0
	}
	secs := int((rem + time.Second - 1) / time.Second)
	return secs
}

// CanStart is the gate consulted before a new conversation pipeline may be
// created for key. It returns false plus the remaining seconds for client
// display while a cooldown is active.
func (r *Registry) CanStart(key Key) (ok bool, remainingSeconds int) {
	if secs := r.RemainingSeconds(key); secs > 0 {
		return false, secs
	}
	return true, 0
}

// Start launches the periodic sweep goroutine. It is a no-op if already started.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.sweepLoop(ctx, r.done)
}

// Stop terminates the sweep goroutine and waits for it to exit.
// Stopping a never-started or already-stopped Registry is a no-op.
func (r *Registry) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Len returns the number of entries currently held, expired or not.
// Intended for metrics and tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// sweepLoop removes all expired entries every sweepInterval until ctx is done.
func (r *Registry) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep deletes every expired entry.
func (r *Registry) sweep() {
	now := r.now()
	r.mu.Lock()
	removed := 0
	for k, expires := range r.entries {
		if !expires.After(now) {
			delete(r.entries, k)
			removed++
		}
	}
	r.mu.Unlock()
	if removed > 0 {
		slog.Debug("cooldown sweep removed expired entries", "count", removed)
	}
}
