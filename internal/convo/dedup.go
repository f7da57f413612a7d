package convo

import (
	"hash/fnv"
	"strings"
	"time"
)

// DefaultDedupWindow is how long after processing an utterance an identical
// one is discarded instead of reprocessed.
const DefaultDedupWindow = time.Second

// dedup discards utterances whose normalized text matches the previously
// processed one within the dedup window. Not safe for concurrent use on its
// own; the pipeline serialises access.
type dedup struct {
	window   time.Duration
	lastHash uint64
	lastAt   time.Time
	now      func() time.Time
}

func newDedup(window time.Duration) *dedup {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &dedup{window: window, now: time.Now}
}

// shouldProcess reports whether the utterance is new enough to act on. When
// it returns true the utterance is recorded as the last processed one.
func (d *dedup) shouldProcess(text string) bool {
	h := normalizedHash(text)
	now := d.now()

	if h == d.lastHash && !d.lastAt.IsZero() && now.Sub(d.lastAt) < d.window {
		return false
	}
	d.lastHash = h
	d.lastAt = now
	return true
}

// normalizedHash hashes the lower-cased, trimmed utterance text.
func normalizedHash(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(text))))
	return h.Sum64()
}
