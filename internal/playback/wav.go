package playback

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"
)

const playbackSampleRate = 48000

// decodePayload extracts 48kHz mono 16-bit samples from a synthesized audio
// payload. Payloads carrying a RIFF header are parsed as WAV; anything else
// is treated as raw linear16.
func decodePayload(payload []byte) ([]int16, error) {
	if isWAV(payload) {
		return parseWAV(payload)
	}
	return bytesToPCM(payload), nil
}

func isWAV(payload []byte) bool {
	return len(payload) >= 12 &&
		string(payload[0:4]) == "RIFF" &&
		string(payload[8:12]) == "WAVE"
}

func parseWAV(payload []byte) ([]int16, error) {
	var (
		channels   = 1
		sampleRate = playbackSampleRate
		bits       = 16
		data       []byte
	)

	// Walk the RIFF chunks: [4-byte id][4-byte LE size][payload]
	pos := 12
	for pos+8 <= len(payload) {
		id := string(payload[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(payload[pos+4 : pos+8]))
		body := payload[pos+8:]
		if size > len(body) {
			size = len(body)
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav fmt chunk too short: %d bytes", size)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
		case "data":
			data = body[:size]
		}

		// Chunks are word-aligned
		pos += 8 + size + size%2
	}

	if data == nil {
		return nil, fmt.Errorf("wav payload has no data chunk")
	}
	if bits != 16 {
		return nil, fmt.Errorf("unsupported wav bit depth: %d", bits)
	}
	if sampleRate != playbackSampleRate {
		log.Warn().Int("sample_rate", sampleRate).Msg("Unexpected playback sample rate, playing as-is")
	}

	samples := bytesToPCM(data)
	if channels == 2 {
		samples = downmix(samples)
	} else if channels != 1 {
		return nil, fmt.Errorf("unsupported wav channel count: %d", channels)
	}

	return samples, nil
}

func bytesToPCM(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return samples
}

func downmix(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = int16((int32(stereo[i*2]) + int32(stereo[i*2+1])) / 2)
	}
	return mono
}
