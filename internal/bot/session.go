package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
	"github.com/user/discord-voicebridge/internal/audio"
	"github.com/user/discord-voicebridge/internal/config"
	"github.com/user/discord-voicebridge/internal/evi"
	"github.com/user/discord-voicebridge/internal/playback"
	"github.com/user/discord-voicebridge/internal/transcript"
	"golang.org/x/sync/errgroup"
)

// speakerStream is the capture state for one SSRC: a stateful opus decoder,
// the frame buffer feeding the transport, and activity tracking for the
// silence window.
type speakerStream struct {
	decoder    *audio.OpusDecoder
	buffer     *audio.FrameBuffer
	active     bool
	lastActive time.Time
}

// VoiceSession bridges one Discord voice channel to one EVI session: capture
// flows through per-speaker frame buffers into the transport, inbound events
// flow through the router into playback and the transcript.
type VoiceSession struct {
	ID            string
	GuildID       string
	ChannelID     string
	TextChannelID string

	cfg *config.Config

	session   *discordgo.Session
	voiceConn *discordgo.VoiceConnection

	client    *evi.Client
	router    *evi.Router
	store     *transcript.Store
	sequencer *playback.Sequencer
	vad       audio.VAD

	speakers   map[uint32]*speakerStream
	speakerMux sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped bool
	mutex   sync.Mutex
}

func NewVoiceSession(id, guildID, channelID, textChannelID string, session *discordgo.Session, cfg *config.Config) (*VoiceSession, error) {
	vad, err := audio.NewWebRTCVAD()
	if err != nil {
		return nil, fmt.Errorf("failed to create voice activity detector: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	vs := &VoiceSession{
		ID:            id,
		GuildID:       guildID,
		ChannelID:     channelID,
		TextChannelID: textChannelID,
		cfg:           cfg,
		session:       session,
		vad:           vad,
		store:         transcript.NewStore(cfg.MaxContextChars),
		speakers:      make(map[uint32]*speakerStream),
		ctx:           ctx,
		cancel:        cancel,
		group:         &errgroup.Group{},
	}

	vs.client = evi.NewClient(evi.Config{
		BaseURL:              cfg.HumeBaseURL,
		ConfigID:             cfg.HumeConfigID,
		APIKey:               cfg.HumeAPIKey,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   time.Duration(cfg.ReconnectBaseDelayMS) * time.Millisecond,
		KeepAliveInterval:    cfg.KeepAliveInterval,
	}, vs.store.Render)

	return vs, nil
}

func (vs *VoiceSession) Start() error {
	vs.mutex.Lock()
	defer vs.mutex.Unlock()

	if vs.stopped {
		return fmt.Errorf("session already stopped")
	}

	// mute=false so the bot can play replies, deaf=false so it receives audio
	voiceConn, err := vs.session.ChannelVoiceJoin(vs.GuildID, vs.ChannelID, false, false)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}
	vs.voiceConn = voiceConn

	for !vs.voiceConn.Ready {
		time.Sleep(10 * time.Millisecond)
	}

	// Establishes the SSRC mapping before audio arrives
	if err := vs.voiceConn.Speaking(false); err != nil {
		log.Warn().Str("session_id", vs.ID).Err(err).Msg("Failed to send initial speaking state")
	}

	player, err := playback.NewDiscordPlayer(voiceConn)
	if err != nil {
		vs.voiceConn.Disconnect()
		return err
	}
	vs.sequencer = playback.NewSequencer(player)

	vs.router = evi.NewRouter(vs.store, vs.sequencer, vs.client,
		time.Duration(vs.cfg.AssistantDebounceMS)*time.Millisecond)
	vs.router.SetFailureFeedback(func() {
		vs.sequencer.Enqueue(failureCue())
	})

	if err := vs.client.Connect(); err != nil && !errors.Is(err, evi.ErrConnectInFlight) {
		log.Warn().Str("session_id", vs.ID).Err(err).Msg("Initial connect not started")
	}

	vs.group.Go(func() error {
		vs.router.Run(vs.ctx, vs.client.Inbound())
		return nil
	})
	vs.group.Go(func() error {
		vs.captureLoop()
		return nil
	})
	vs.group.Go(func() error {
		vs.silenceReaper()
		return nil
	})

	log.Info().
		Str("session_id", vs.ID).
		Str("guild_id", vs.GuildID).
		Str("channel_id", vs.ChannelID).
		Msg("Voice session started")

	return nil
}

func (vs *VoiceSession) captureLoop() {
	defer log.Debug().Str("session_id", vs.ID).Msg("Capture loop stopped")

	for {
		select {
		case packet, ok := <-vs.voiceConn.OpusRecv:
			if !ok {
				log.Info().Str("session_id", vs.ID).Msg("Voice receive channel closed")
				return
			}
			vs.processPacket(packet)
		case <-vs.ctx.Done():
			return
		}
	}
}

func (vs *VoiceSession) processPacket(packet *discordgo.Packet) {
	vs.speakerMux.Lock()
	defer vs.speakerMux.Unlock()

	stream, err := vs.streamForLocked(packet.SSRC)
	if err != nil {
		log.Warn().Str("session_id", vs.ID).Uint32("ssrc", packet.SSRC).Err(err).Msg("No stream for packet")
		return
	}

	pcm, err := stream.decoder.Decode(packet.Opus)
	if err != nil {
		log.Warn().Str("session_id", vs.ID).Uint32("ssrc", packet.SSRC).Err(err).Msg("Failed to decode opus packet")
		return
	}

	speech := vs.vad.IsSpeech(pcm, audio.SampleRate)

	if !stream.active {
		if !speech {
			// Background noise from an inactive speaker
			return
		}
		stream.active = true
		log.Info().Str("session_id", vs.ID).Uint32("ssrc", packet.SSRC).Msg("Speaker activated")

		// Voice activity is the trigger that revives a dead transport
		if !vs.client.Open() {
			if err := vs.client.Connect(); err != nil && !errors.Is(err, evi.ErrConnectInFlight) {
				log.Debug().Err(err).Msg("Transport revive not started")
			}
		}
	}

	if speech {
		stream.lastActive = time.Now()
	}

	if chunk := stream.buffer.Ingest(pcm); chunk != nil {
		vs.sendChunk(chunk)
	}
}

func (vs *VoiceSession) streamForLocked(ssrc uint32) (*speakerStream, error) {
	if stream, ok := vs.speakers[ssrc]; ok {
		return stream, nil
	}

	decoder, err := audio.NewOpusDecoder()
	if err != nil {
		return nil, err
	}

	stream := &speakerStream{
		decoder: decoder,
		buffer:  audio.NewFrameBuffer(vs.cfg.FlushThresholdMS, vs.cfg.FlushTimeoutMS),
	}
	vs.speakers[ssrc] = stream

	log.Debug().Str("session_id", vs.ID).Uint32("ssrc", ssrc).Msg("Created speaker stream")
	return stream, nil
}

// silenceReaper ends a speaker's stream after the configured silence window,
// flushing whatever the frame buffer still holds.
func (vs *VoiceSession) silenceReaper() {
	window := time.Duration(vs.cfg.SilenceWindowMS) * time.Millisecond
	tick := window / 4
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			vs.speakerMux.Lock()
			for ssrc, stream := range vs.speakers {
				if stream.active && now.Sub(stream.lastActive) >= window {
					stream.active = false
					if chunk := stream.buffer.Finalize(); chunk != nil {
						vs.sendChunk(chunk)
					}
					log.Info().Str("session_id", vs.ID).Uint32("ssrc", ssrc).Msg("Speaker stream ended")
				}
			}
			vs.speakerMux.Unlock()
		case <-vs.ctx.Done():
			return
		}
	}
}

// sendChunk frames one chunk for the transport. Chunks produced while the
// transport is down are dropped, never queued.
func (vs *VoiceSession) sendChunk(chunk *audio.Chunk) {
	err := vs.client.Send(evi.NewAudioInput(chunk.Bytes()))
	if err != nil {
		if errors.Is(err, evi.ErrNotOpen) {
			log.Debug().Str("chunk_id", chunk.ID.String()).Msg("Dropped chunk, transport not open")
			return
		}
		log.Warn().Str("chunk_id", chunk.ID.String()).Err(err).Msg("Failed to send chunk")
	}
}

func (vs *VoiceSession) Stop() error {
	vs.mutex.Lock()
	defer vs.mutex.Unlock()

	if vs.stopped {
		return nil
	}
	vs.stopped = true

	vs.cancel()
	vs.client.Terminate()
	if vs.sequencer != nil {
		vs.sequencer.Stop()
	}

	vs.speakerMux.Lock()
	for _, stream := range vs.speakers {
		stream.active = false
		stream.buffer.Finalize()
	}
	vs.speakerMux.Unlock()

	if vs.voiceConn != nil {
		vs.voiceConn.Disconnect()
	}
	vs.vad.Close()
	vs.group.Wait()

	log.Info().
		Str("session_id", vs.ID).
		Int("transcript_entries", vs.store.Len()).
		Msg("Voice session stopped")

	return nil
}
