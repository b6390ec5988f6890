package audio

import (
	"math"

	"github.com/maxhawkins/go-webrtcvad"
)

// WebRTCVAD gates captured packets on voice activity. The remote service's
// own VAD is disabled in session settings, so end-of-utterance detection
// happens locally from this signal.
type WebRTCVAD struct {
	vad          *webrtcvad.VAD
	rmsThreshold float64
}

func NewWebRTCVAD() (*WebRTCVAD, error) {
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}

	// Aggressiveness 0-3, 3 filters the most
	vad.SetMode(2)

	return &WebRTCVAD{
		vad:          vad,
		rmsThreshold: 500.0,
	}, nil
}

func (v *WebRTCVAD) IsSpeech(pcm []int16, sampleRate int) bool {
	bytes := pcmToBytes(pcm)

	// WebRTC VAD needs at least a 10ms frame, fall back to RMS below that
	if len(bytes) < 320 {
		return v.rmsIsSpeech(pcm)
	}

	isSpeech, err := v.vad.Process(sampleRate, bytes)
	if err != nil {
		return v.rmsIsSpeech(pcm)
	}
	return isSpeech
}

func (v *WebRTCVAD) rmsIsSpeech(pcm []int16) bool {
	if len(pcm) == 0 {
		return false
	}

	var sum float64
	for _, sample := range pcm {
		sum += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(sum / float64(len(pcm)))
	return rms > v.rmsThreshold
}

// Close satisfies the VAD interface. The underlying detector frees its
// state with the Go object, so there is nothing to release.
func (v *WebRTCVAD) Close() error {
	return nil
}

func pcmToBytes(samples []int16) []byte {
	bytes := make([]byte, len(samples)*2)
	for i, sample := range samples {
		bytes[i*2] = byte(sample)
		bytes[i*2+1] = byte(sample >> 8)
	}
	return bytes
}
