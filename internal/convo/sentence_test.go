package convo

import (
	"reflect"
	"testing"
)

func TestSentenceSplitterPush(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fragments []string
		want      [][]string
	}{
		{
			name:      "single complete sentence",
			fragments: []string{"Good evening, traveler. "},
			want:      [][]string{{"Good evening, traveler."}},
		},
		{
			name:      "sentence split across fragments",
			fragments: []string{"Good eve", "ning, trave", "ler. Stay"},
			want:      [][]string{nil, nil, {"Good evening, traveler."}},
		},
		{
			name:      "multiple sentences in one fragment",
			fragments: []string{"Halt! Who goes there? State your name.\n"},
			want:      [][]string{{"Halt!", "Who goes there?", "State your name."}},
		},
		{
			name:      "decimal point is not a boundary",
			fragments: []string{"The wall is 3.5 meters tall. "},
			want:      [][]string{{"The wall is 3.5 meters tall."}},
		},
		{
			name:      "trailing punctuation without whitespace stays buffered",
			fragments: []string{"Stay warm."},
			want:      [][]string{nil},
		},
		{
			name:      "newline counts as whitespace",
			fragments: []string{"Begone!\nNow"},
			want:      [][]string{{"Begone!"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := &SentenceSplitter{}
			for i, frag := range tc.fragments {
				got := s.Push(frag)
				if !reflect.DeepEqual(got, tc.want[i]) {
					t.Errorf("Push(%q) = %v, want %v", frag, got, tc.want[i])
				}
			}
		})
	}
}

func TestSentenceSplitterFlush(t *testing.T) {
	t.Parallel()

	s := &SentenceSplitter{}
	s.Push("The gate closes at dusk. Come back")

	if got := s.Flush(); got != "Come back" {
		t.Errorf("Flush() = %q, want %q", got, "Come back")
	}
	if got := s.Flush(); got != "" {
		t.Errorf("second Flush() = %q, want empty", got)
	}
}

func TestSentenceSplitterClear(t *testing.T) {
	t.Parallel()

	s := &SentenceSplitter{}
	s.Push("half a sent")
	s.Clear()

	if got := s.Flush(); got != "" {
		t.Errorf("Flush() after Clear = %q, want empty", got)
	}
	if got := s.Push("ence. "); !reflect.DeepEqual(got, []string{"ence."}) {
		t.Errorf("Push() after Clear = %v, want only the new text", got)
	}
}

func TestFirstSentenceBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"", -1},
		{".", -1},
		{". ", 0},
		{"a.b", -1},
		{"Hello. World", 5},
		{"Wait... what", 6},
	}
	for _, tc := range tests {
		if got := firstSentenceBoundary(tc.in); got != tc.want {
			t.Errorf("firstSentenceBoundary(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
