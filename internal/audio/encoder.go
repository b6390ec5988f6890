package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// maxOpusFrameBytes is comfortably above anything opus produces for a 20ms frame
const maxOpusFrameBytes = 1000

type OpusEncoder struct {
	encoder *gopus.Encoder
}

func NewOpusEncoder() (*OpusEncoder, error) {
	encoder, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	return &OpusEncoder{
		encoder: encoder,
	}, nil
}

// Encode compresses one FrameSize-sample PCM frame. Short final frames are
// zero-padded to the full frame size, which opus requires.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty frame")
	}

	if len(pcm) < FrameSize {
		padded := make([]int16, FrameSize)
		copy(padded, pcm)
		pcm = padded
	}

	data, err := e.encoder.Encode(pcm, FrameSize, maxOpusFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode opus: %w", err)
	}

	return data, nil
}
