package playback

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Player plays one audio payload to completion. Play returns when the
// payload has finished or the context is cancelled.
type Player interface {
	Play(ctx context.Context, payload []byte) error
}

// Sequencer serializes playback of queued audio payloads: strict FIFO, at
// most one payload active at a time, and an enqueue never preempts whatever
// is currently playing. Stop clears the queue and halts the active payload
// immediately; it is safe to call at any time.
//
// Short pre-recorded cues go through the same queue, so a cue and streamed
// output can never overlap.
type Sequencer struct {
	player Player

	mu      sync.Mutex
	queue   [][]byte
	playing bool
	gen     int
	cancel  context.CancelFunc
	runDone chan struct{}
}

func NewSequencer(player Player) *Sequencer {
	return &Sequencer{
		player: player,
	}
}

// Enqueue appends a payload and starts playback if nothing is playing.
func (s *Sequencer) Enqueue(payload []byte) {
	if len(payload) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, payload)
	if !s.playing {
		s.playing = true
		prev := s.runDone
		done := make(chan struct{})
		s.runDone = done
		go s.run(s.gen, prev, done)
	}
}

func (s *Sequencer) run(gen int, prev, done chan struct{}) {
	defer close(done)

	// A cancelled player may still be winding down after a Stop. Wait for
	// that run to return so two payloads are never active at once.
	if prev != nil {
		<-prev
	}

	for {
		s.mu.Lock()
		if s.gen != gen {
			// Stopped while we were playing; a newer run owns the queue now
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.playing = false
			s.mu.Unlock()
			return
		}
		payload := s.queue[0]
		s.queue = s.queue[1:]

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.mu.Unlock()

		err := s.player.Play(ctx, payload)
		interrupted := ctx.Err() != nil
		cancel()

		if err != nil && !interrupted {
			// Device failure: log and keep going, the next queued item
			// still gets its chance
			log.Warn().Err(err).Int("bytes", len(payload)).Msg("Playback failed")
		}
	}
}

// Stop clears the queue and halts the active payload. Idempotent.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = nil
	s.playing = false
	s.gen++

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Playing reports whether a payload is currently active.
func (s *Sequencer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// QueueLen returns the number of payloads waiting behind the active one.
func (s *Sequencer) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
