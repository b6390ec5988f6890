package audio

import (
	"math"
	"testing"
)

func TestVADRMSFallbackOnShortFrames(t *testing.T) {
	vad, err := NewWebRTCVAD()
	if err != nil {
		t.Fatalf("NewWebRTCVAD() error: %v", err)
	}
	defer vad.Close()

	// Below the 10ms minimum the detector accepts, RMS decides
	silence := make([]int16, 100)
	if vad.IsSpeech(silence, SampleRate) {
		t.Error("silence classified as speech")
	}

	loud := make([]int16, 100)
	for i := range loud {
		loud[i] = int16(8000 * math.Sin(float64(i)*0.3))
	}
	if !vad.IsSpeech(loud, SampleRate) {
		t.Error("loud tone classified as silence")
	}
}

func TestVADCloseIsSafe(t *testing.T) {
	vad, err := NewWebRTCVAD()
	if err != nil {
		t.Fatalf("NewWebRTCVAD() error: %v", err)
	}

	if err := vad.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := vad.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}
