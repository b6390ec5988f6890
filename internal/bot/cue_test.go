package bot

import (
	"strings"
	"testing"
)

func TestFailureCueShape(t *testing.T) {
	cue := failureCue()

	if len(cue) == 0 {
		t.Fatal("cue is empty")
	}
	if len(cue)%2 != 0 {
		t.Fatalf("cue length %d is not whole 16-bit samples", len(cue))
	}

	// Two 120ms beeps and a 60ms gap at 48kHz
	wantSamples := 48000 * 300 / 1000
	if got := len(cue) / 2; got != wantSamples {
		t.Errorf("cue samples = %d, want %d", got, wantSamples)
	}

	// Starts and ends faded to avoid clicks
	if cue[0] != 0 || cue[1] != 0 {
		t.Errorf("cue does not start at silence: % x", cue[:2])
	}

	var nonZero bool
	for _, b := range cue {
		if b != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Error("cue is all silence")
	}
}

func TestGenerateSessionID(t *testing.T) {
	id := generateSessionID()
	if !strings.HasPrefix(id, "session_") {
		t.Errorf("id = %q, want session_ prefix", id)
	}
}
