package audio

import (
	"time"

	"github.com/google/uuid"
)

// Chunk represents a contiguous span of decoded PCM ready for transmission
type Chunk struct {
	ID       uuid.UUID
	PCM      []int16
	Duration time.Duration
}

// Bytes returns the chunk as little-endian 16-bit PCM
func (c *Chunk) Bytes() []byte {
	out := make([]byte, len(c.PCM)*2)
	for i, sample := range c.PCM {
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

// Decoder interface for opus decoders
type Decoder interface {
	Decode(opus []byte) ([]int16, error)
}

// Encoder interface for opus encoders
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// VAD interface for Voice Activity Detection
type VAD interface {
	IsSpeech(pcm []int16, sampleRate int) bool
	Close() error
}
