package audio

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FrameBuffer accumulates decoded PCM samples and emits chunks once the
// accumulated duration reaches a threshold or too much wall time has passed
// since the last flush, whichever comes first. Finalize flushes whatever
// remains when the capture stream ends. Empty chunks are never emitted.
type FrameBuffer struct {
	thresholdMS int
	timeoutMS   int

	samples   []int16
	lastFlush time.Time

	now func() time.Time // replaceable in tests
}

func NewFrameBuffer(thresholdMS, timeoutMS int) *FrameBuffer {
	b := &FrameBuffer{
		thresholdMS: thresholdMS,
		timeoutMS:   timeoutMS,
		now:         time.Now,
	}
	b.lastFlush = b.now()
	return b
}

// Ingest appends samples and returns a chunk when the flush policy is
// satisfied, nil otherwise.
func (b *FrameBuffer) Ingest(pcm []int16) *Chunk {
	if len(pcm) == 0 {
		return nil
	}

	b.samples = append(b.samples, pcm...)

	if b.durationMS() >= b.thresholdMS {
		return b.flush()
	}

	if b.timeoutMS > 0 && b.now().Sub(b.lastFlush) >= time.Duration(b.timeoutMS)*time.Millisecond {
		return b.flush()
	}

	return nil
}

// Finalize flushes any buffered remainder unconditionally and resets the
// buffer for reuse by a new stream. Returns nil if nothing is buffered.
func (b *FrameBuffer) Finalize() *Chunk {
	defer func() { b.lastFlush = b.now() }()

	if len(b.samples) == 0 {
		return nil
	}
	return b.flush()
}

// Len returns the number of buffered samples.
func (b *FrameBuffer) Len() int {
	return len(b.samples)
}

func (b *FrameBuffer) durationMS() int {
	return len(b.samples) * 1000 / SampleRate
}

func (b *FrameBuffer) flush() *Chunk {
	chunk := &Chunk{
		ID:       uuid.New(),
		PCM:      b.samples,
		Duration: time.Duration(len(b.samples)) * time.Second / SampleRate,
	}

	b.samples = nil
	b.lastFlush = b.now()

	log.Debug().
		Str("chunk_id", chunk.ID.String()).
		Dur("duration", chunk.Duration).
		Int("samples", len(chunk.PCM)).
		Msg("Flushed audio chunk")

	return chunk
}
