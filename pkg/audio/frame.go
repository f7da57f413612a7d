// Package audio provides the audio framing helpers used between the gateway
// and the STT forwarder: base64 frame decoding with validation and chunking of
// PCM byte streams into provider-sized frames.
package audio

import (
	"encoding/base64"
	"fmt"
)

// Frame represents a single frame of PCM audio flowing through the pipeline.
type Frame struct {
	// Data is raw little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for STT input).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// maxFrameBytes bounds a single decoded frame. Larger payloads indicate a
// misbehaving client rather than legitimate audio.
const maxFrameBytes = 1 << 20

// DecodeBase64Frame decodes a base64 payload received from a client into raw
// PCM bytes. It rejects empty payloads, payloads over 1 MiB decoded, and data
// whose byte count is not int16-aligned.
func DecodeBase64Frame(data string) ([]byte, error) {
	if data == "" {
		return nil, fmt.Errorf("audio: empty frame payload")
	}
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	if len(pcm) > maxFrameBytes {
		return nil, fmt.Errorf("audio: frame of %d bytes exceeds %d byte limit", len(pcm), maxFrameBytes)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: odd byte count %d in int16 PCM frame", len(pcm))
	}
	return pcm, nil
}

// EncodeBase64Frame encodes synthesised PCM bytes for transport to a client.
func EncodeBase64Frame(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// Chunk splits pcm into frames of at most chunkBytes, preserving order. The
// final frame carries the remainder. chunkBytes is rounded down to an even
// value so int16 samples are never split; values below 2 yield a single frame.
func Chunk(pcm []byte, chunkBytes int) [][]byte {
	chunkBytes -= chunkBytes % 2
	if chunkBytes < 2 || len(pcm) <= chunkBytes {
		if len(pcm) == 0 {
			return nil
		}
		return [][]byte{pcm}
	}
	var frames [][]byte
	for len(pcm) > 0 {
		n := chunkBytes
		if n > len(pcm) {
			n = len(pcm)
		}
		frames = append(frames, pcm[:n])
		pcm = pcm[n:]
	}
	return frames
}

// DurationMs reports the playback duration in milliseconds of a PCM byte slice
// with the given format. Returns 0 for invalid formats.
func DurationMs(byteLen, sampleRate, channels int) int {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := byteLen / 2 / channels
	return samples * 1000 / sampleRate
}
