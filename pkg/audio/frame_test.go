package audio

import (
	"encoding/base64"
	"testing"
)

func TestDecodeBase64Frame(t *testing.T) {
	t.Parallel()

	valid := base64.StdEncoding.EncodeToString([]byte{0, 1, 2, 3})

	tests := []struct {
		name    string
		input   string
		wantErr bool
		wantLen int
	}{
		{name: "valid frame", input: valid, wantLen: 4},
		{name: "empty payload", input: "", wantErr: true},
		{name: "invalid base64", input: "not-base64!!!", wantErr: true},
		{name: "odd byte count", input: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pcm, err := DecodeBase64Frame(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("DecodeBase64Frame(%q): expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeBase64Frame: unexpected error: %v", err)
			}
			if len(pcm) != tt.wantLen {
				t.Errorf("decoded length: want %d, got %d", tt.wantLen, len(pcm))
			}
		})
	}
}

func TestDecodeBase64Frame_TooLarge(t *testing.T) {
	t.Parallel()

	big := make([]byte, maxFrameBytes+2)
	if _, err := DecodeBase64Frame(base64.StdEncoding.EncodeToString(big)); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestChunk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pcmLen     int
		chunkBytes int
		wantFrames int
	}{
		{name: "empty", pcmLen: 0, chunkBytes: 4, wantFrames: 0},
		{name: "single frame", pcmLen: 4, chunkBytes: 8, wantFrames: 1},
		{name: "exact split", pcmLen: 8, chunkBytes: 4, wantFrames: 2},
		{name: "remainder frame", pcmLen: 10, chunkBytes: 4, wantFrames: 3},
		{name: "odd chunk size rounds down", pcmLen: 8, chunkBytes: 5, wantFrames: 2},
		{name: "tiny chunk yields whole", pcmLen: 8, chunkBytes: 1, wantFrames: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pcm := make([]byte, tt.pcmLen)
			frames := Chunk(pcm, tt.chunkBytes)
			if len(frames) != tt.wantFrames {
				t.Fatalf("Chunk: want %d frames, got %d", tt.wantFrames, len(frames))
			}
			total := 0
			for _, f := range frames {
				total += len(f)
			}
			if total != tt.pcmLen {
				t.Errorf("frames cover %d bytes, want %d", total, tt.pcmLen)
			}
		})
	}
}

func TestDurationMs(t *testing.T) {
	t.Parallel()

	// 16 kHz mono int16: 32000 bytes per second.
	if got := DurationMs(32000, 16000, 1); got != 1000 {
		t.Errorf("DurationMs: want 1000, got %d", got)
	}
	if got := DurationMs(32000, 0, 1); got != 0 {
		t.Errorf("DurationMs with zero rate: want 0, got %d", got)
	}
}
