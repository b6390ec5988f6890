package evi

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/discord-voicebridge/internal/transcript"
)

// Playback is what the router needs from the playback sequencer.
type Playback interface {
	Enqueue(payload []byte)
	Stop()
}

// Transport is what the router needs from the session transport when
// handling remote-reported errors.
type Transport interface {
	LastSent() []byte
	Terminate()
}

// Router consumes inbound frames in arrival order and dispatches them to
// playback, the transcript store and error handling. Assistant text arrives
// as fragments; they accumulate until a debounce window passes with no new
// fragment, or until assistant_end, then flush as one transcript entry.
//
// All handling is best-effort: a panicking handler is logged and the loop
// moves on to the next frame.
type Router struct {
	store     *transcript.Store
	playback  Playback
	transport Transport
	debounce  time.Duration

	pending []string

	debounceSeq   int
	debounceTimer *time.Timer
	debounceFired chan int

	onFailure func() // recognition-failure feedback, optional
}

func NewRouter(store *transcript.Store, playback Playback, transport Transport, debounce time.Duration) *Router {
	return &Router{
		store:         store,
		playback:      playback,
		transport:     transport,
		debounce:      debounce,
		debounceFired: make(chan int, 4),
	}
}

// SetFailureFeedback installs an optional callback fired when the remote
// service could not recognize the user's speech.
func (r *Router) SetFailureFeedback(f func()) {
	r.onFailure = f
}

// Run processes frames until the channel closes or the context is
// cancelled. All router state is mutated only from this goroutine.
func (r *Router) Run(ctx context.Context, inbound <-chan *Message) {
	defer log.Debug().Msg("Event router stopped")

	for {
		select {
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			r.handle(msg)
		case seq := <-r.debounceFired:
			// A stale timer from before the latest fragment must not
			// flush a half-built utterance
			if seq == r.debounceSeq {
				r.flushPending()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Router) handle(msg *Message) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("type", msg.Type).Msg("Handler panicked, continuing")
		}
	}()

	switch msg.Type {
	case TypeAudioOutput:
		r.handleAudioOutput(msg)
	case TypeAssistantMessage:
		r.handleAssistantFragment(msg)
	case TypeAssistantEnd:
		r.handleAssistantEnd()
	case TypeUserMessage:
		r.handleUserMessage(msg)
	case TypeUserInterruption:
		log.Info().Msg("User interruption, stopping playback")
		r.playback.Stop()
	case TypeError:
		r.handleError(msg)
	case TypeChatMetadata:
		log.Info().
			Str("chat_id", msg.ChatID).
			Str("chat_group_id", msg.ChatGroupID).
			Msg("Received chat metadata")
	default:
		log.Warn().Str("type", msg.Type).Msg("Unhandled message type")
	}
}

func (r *Router) handleAudioOutput(msg *Message) {
	payload, err := msg.AudioPayload()
	if err != nil {
		log.Warn().Err(err).Msg("Dropping undecodable audio output")
		return
	}
	r.playback.Enqueue(payload)
}

func (r *Router) handleAssistantFragment(msg *Message) {
	body, ok := msg.ChatBody()
	if !ok || body.Content == "" {
		return
	}

	r.pending = append(r.pending, body.Content)
	r.restartDebounce()
}

func (r *Router) restartDebounce() {
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
	}
	r.debounceSeq++
	seq := r.debounceSeq
	r.debounceTimer = time.AfterFunc(r.debounce, func() {
		select {
		case r.debounceFired <- seq:
		default:
		}
	})
}

func (r *Router) handleAssistantEnd() {
	if r.debounceTimer != nil {
		r.debounceTimer.Stop()
		r.debounceTimer = nil
	}
	r.debounceSeq++
	r.flushPending()
}

func (r *Router) flushPending() {
	if len(r.pending) == 0 {
		return
	}

	text := strings.Join(r.pending, "")
	r.pending = nil

	log.Info().Str("text", text).Msg("Bot")
	r.store.Append(transcript.SpeakerBot, text)
}

func (r *Router) handleUserMessage(msg *Message) {
	body, ok := msg.ChatBody()
	if !ok || body.Content == "" {
		log.Warn().Msg("Received user message with no content")
		if r.onFailure != nil {
			r.onFailure()
		}
		return
	}

	log.Info().Str("text", body.Content).Msg("User")
	r.store.Append(transcript.SpeakerUser, body.Content)
}

func (r *Router) handleError(msg *Message) {
	switch ClassifyError(msg.Code, msg.Slug) {
	case ErrorKindAuth:
		log.Error().
			Str("channel", "auth").
			Str("code", msg.Code).
			Str("detail", msg.ErrorDetail()).
			Msg("Authentication rejected, session terminated, check credentials")
		r.transport.Terminate()
	case ErrorKindPayload:
		log.Error().
			Str("code", msg.Code).
			Str("detail", msg.ErrorDetail()).
			Str("last_sent", string(r.transport.LastSent())).
			Msg("Remote rejected payload")
	default:
		log.Error().
			Str("code", msg.Code).
			Str("slug", msg.Slug).
			Str("detail", msg.ErrorDetail()).
			Msg("Remote error")
	}
}
