package convo

import (
	"strings"
	"sync"
)

// SentenceSplitter segments streaming LLM text into speakable sentences for
// incremental TTS dispatch. A sentence boundary is a '.', '!', or '?'
// immediately followed by whitespace, so decimals and abbreviations inside a
// token run are not split eagerly.
//
// Safe for concurrent use: the turn goroutine pushes while an interruption
// may clear the buffer from the connection goroutine.
type SentenceSplitter struct {
	mu  sync.Mutex
	buf strings.Builder
}

// Push appends a text fragment and returns every complete sentence now
// available, in order. Partial trailing text stays buffered.
func (s *SentenceSplitter) Push(text string) []string {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.WriteString(text)

	var sentences []string
	for {
		idx := firstSentenceBoundary(s.buf.String())
		if idx < 0 {
			break
		}
		sentence := s.buf.String()[:idx+1]
		rest := strings.TrimLeft(s.buf.String()[idx+1:], " \t\n\r")
		s.buf.Reset()
		s.buf.WriteString(rest)
		sentences = append(sentences, sentence)
	}
	return sentences
}

// Flush returns any buffered partial sentence and clears the buffer. Returns
// "" when nothing is pending.
func (s *SentenceSplitter) Flush() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}

// Clear discards the buffered partial sentence. Called on interruption so no
// stale text reaches the TTS session afterwards.
func (s *SentenceSplitter) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// character that is immediately followed by a whitespace character (' ',
// '\n', '\r', or '\t'). Returns -1 if no such boundary exists in s.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
