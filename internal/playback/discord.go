package playback

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/user/discord-voicebridge/internal/audio"
)

// DiscordPlayer pushes synthesized audio into a Discord voice connection:
// decode the payload to PCM, re-encode as 20ms opus frames, feed OpusSend.
type DiscordPlayer struct {
	speaking func(bool) error
	opusSend chan<- []byte
	encoder  audio.Encoder
}

func NewDiscordPlayer(conn *discordgo.VoiceConnection) (*DiscordPlayer, error) {
	encoder, err := audio.NewOpusEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create playback encoder: %w", err)
	}

	return &DiscordPlayer{
		speaking: conn.Speaking,
		opusSend: conn.OpusSend,
		encoder:  encoder,
	}, nil
}

func (p *DiscordPlayer) Play(ctx context.Context, payload []byte) error {
	samples, err := decodePayload(payload)
	if err != nil {
		return fmt.Errorf("failed to decode playback payload: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}

	if err := p.speaking(true); err != nil {
		log.Warn().Err(err).Msg("Failed to set speaking state")
	}
	defer func() {
		if err := p.speaking(false); err != nil {
			log.Warn().Err(err).Msg("Failed to clear speaking state")
		}
	}()

	for start := 0; start < len(samples); start += audio.FrameSize {
		// The select below picks randomly when both sides are ready, so
		// check cancellation explicitly for a prompt halt
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + audio.FrameSize
		if end > len(samples) {
			end = len(samples)
		}

		frame, err := p.encoder.Encode(samples[start:end])
		if err != nil {
			return fmt.Errorf("failed to encode playback frame: %w", err)
		}

		select {
		case p.opusSend <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
