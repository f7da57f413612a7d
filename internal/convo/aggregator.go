package convo

import (
	"strings"
	"sync"
	"time"
)

// DefaultDebounceWindow is the pause after the last appended fragment before
// the aggregator flushes on its own.
const DefaultDebounceWindow = 1500 * time.Millisecond

// Aggregator merges fragmented STT final transcripts into one utterance.
// Upstream recognition emits a "final" fragment at every brief pause, so a
// single spoken sentence often arrives as several fragments; the aggregator
// buffers them and flushes once no new fragment has arrived for the debounce
// window, or immediately on an explicit commit.
//
// Invariants: the buffer is cleared atomically with scheduling or cancelling
// the flush timer, and at most one timer is pending at any time. The flush
// callback runs on the timer goroutine or the caller's goroutine, never
// concurrently with itself while the mutex is held.
type Aggregator struct {
	mu      sync.Mutex
	buf     strings.Builder
	interim string
	timer   *time.Timer

	window  time.Duration
	flushFn func(utterance string)
}

// NewAggregator creates an aggregator that calls flushFn with each aggregated
// utterance. A zero window selects [DefaultDebounceWindow].
func NewAggregator(window time.Duration, flushFn func(utterance string)) *Aggregator {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Aggregator{window: window, flushFn: flushFn}
}

// Append adds a final transcript fragment to the buffer and restarts the
// debounce timer. Empty fragments (after trimming) are dropped. Append never
// flushes synchronously.
func (a *Aggregator) Append(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.buf.Len() > 0 {
		a.buf.WriteByte(' ')
	}
	a.buf.WriteString(fragment)
	a.interim = ""

	a.restartTimerLocked()
}

// NoteInterim records the latest interim (non-final) transcript text. It is
// advisory only: interim text never triggers processing, but an explicit
// commit folds it into the buffer in case the authoritative final fragment
// has not arrived yet.
func (a *Aggregator) NoteInterim(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.interim = strings.TrimSpace(text)
}

// Commit folds any outstanding interim text into the buffer, then flushes
// immediately, bypassing the debounce timer.
func (a *Aggregator) Commit() {
	a.mu.Lock()
	if a.interim != "" && !strings.Contains(a.buf.String(), a.interim) {
		if a.buf.Len() > 0 {
			a.buf.WriteByte(' ')
		}
		a.buf.WriteString(a.interim)
	}
	a.interim = ""
	utterance := a.takeLocked()
	a.mu.Unlock()

	a.emit(utterance)
}

// FlushNow cancels the timer and flushes the buffer immediately.
func (a *Aggregator) FlushNow() {
	a.mu.Lock()
	utterance := a.takeLocked()
	a.mu.Unlock()

	a.emit(utterance)
}

// Clear cancels the timer and discards the buffer and interim text without
// emitting. Safe to call at any time; used on interruption and teardown.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopTimerLocked()
	a.buf.Reset()
	a.interim = ""
}

// takeLocked cancels the timer and removes the buffered text, returning it.
// Callers must hold a.mu.
func (a *Aggregator) takeLocked() string {
	a.stopTimerLocked()
	utterance := strings.TrimSpace(a.buf.String())
	a.buf.Reset()
	return utterance
}

func (a *Aggregator) emit(utterance string) {
	if utterance == "" {
		return
	}
	a.flushFn(utterance)
}

// restartTimerLocked (re)schedules the debounce flush. Callers must hold a.mu.
func (a *Aggregator) restartTimerLocked() {
	a.stopTimerLocked()
	a.timer = time.AfterFunc(a.window, a.FlushNow)
}

// stopTimerLocked cancels any pending timer. Callers must hold a.mu.
func (a *Aggregator) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
