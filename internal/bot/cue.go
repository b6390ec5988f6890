package bot

import (
	"math"

	"github.com/user/discord-voicebridge/internal/audio"
)

// failureCue synthesizes a short low double-beep played back to the channel
// when the remote service could not make out what was said. Raw linear16,
// same format the playback path already speaks.
func failureCue() []byte {
	const (
		toneHz  = 330.0
		beepMS  = 120
		gapMS   = 60
		volume  = 6000
		fadeLen = 200 // samples, avoids clicks at the edges
	)

	beep := audio.SampleRate * beepMS / 1000
	gap := audio.SampleRate * gapMS / 1000
	samples := make([]int16, beep*2+gap)

	writeBeep := func(offset int) {
		for i := 0; i < beep; i++ {
			v := volume * math.Sin(2*math.Pi*toneHz*float64(i)/float64(audio.SampleRate))
			if i < fadeLen {
				v *= float64(i) / fadeLen
			}
			if beep-i < fadeLen {
				v *= float64(beep-i) / fadeLen
			}
			samples[offset+i] = int16(v)
		}
	}

	writeBeep(0)
	writeBeep(beep + gap)

	chunk := &audio.Chunk{PCM: samples}
	return chunk.Bytes()
}
