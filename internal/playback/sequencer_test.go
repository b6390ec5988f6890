package playback

import (
	"context"
	"sync"
	"testing"
	"time"
)

// scriptedPlayer blocks each Play until released, recording start order.
type scriptedPlayer struct {
	mu        sync.Mutex
	started   [][]byte
	proceed   chan struct{}
	cancelled int
	failNext  bool
}

func newScriptedPlayer() *scriptedPlayer {
	return &scriptedPlayer{proceed: make(chan struct{})}
}

func (p *scriptedPlayer) Play(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	p.started = append(p.started, payload)
	p.mu.Unlock()

	select {
	case <-p.proceed:
		p.mu.Lock()
		fail := p.failNext
		p.failNext = false
		p.mu.Unlock()
		if fail {
			return context.DeadlineExceeded
		}
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		p.cancelled++
		p.mu.Unlock()
		return ctx.Err()
	}
}

func (p *scriptedPlayer) startedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.started)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEnqueueStartsImmediatelyWhenIdle(t *testing.T) {
	player := newScriptedPlayer()
	s := NewSequencer(player)

	s.Enqueue([]byte{1})
	waitFor(t, func() bool { return player.startedCount() == 1 })

	if !s.Playing() {
		t.Error("Playing() = false while payload active")
	}
}

func TestSecondEnqueueWaitsForCompletion(t *testing.T) {
	player := newScriptedPlayer()
	s := NewSequencer(player)

	s.Enqueue([]byte{1})
	waitFor(t, func() bool { return player.startedCount() == 1 })

	// Arrives during active playback: queued, never preempts
	s.Enqueue([]byte{2})
	time.Sleep(20 * time.Millisecond)
	if got := player.startedCount(); got != 1 {
		t.Fatalf("second payload started during first, started = %d", got)
	}

	// Completion of the first starts the second
	player.proceed <- struct{}{}
	waitFor(t, func() bool { return player.startedCount() == 2 })

	player.mu.Lock()
	order := []byte{player.started[0][0], player.started[1][0]}
	player.mu.Unlock()
	if order[0] != 1 || order[1] != 2 {
		t.Errorf("playback order = %v, want [1 2]", order)
	}

	player.proceed <- struct{}{}
	waitFor(t, func() bool { return !s.Playing() })
}

func TestStopClearsQueueAndHaltsActive(t *testing.T) {
	player := newScriptedPlayer()
	s := NewSequencer(player)

	s.Enqueue([]byte{1})
	s.Enqueue([]byte{2})
	s.Enqueue([]byte{3})
	waitFor(t, func() bool { return player.startedCount() == 1 })

	s.Stop()

	if s.Playing() {
		t.Error("Playing() = true immediately after Stop()")
	}
	if s.QueueLen() != 0 {
		t.Errorf("QueueLen() = %d after Stop(), want 0", s.QueueLen())
	}
	waitFor(t, func() bool {
		player.mu.Lock()
		defer player.mu.Unlock()
		return player.cancelled == 1
	})

	// Nothing queued may start afterwards
	time.Sleep(20 * time.Millisecond)
	if got := player.startedCount(); got != 1 {
		t.Errorf("started = %d after Stop(), want 1", got)
	}
}

func TestStopIdempotentAndSafeWhenIdle(t *testing.T) {
	s := NewSequencer(newScriptedPlayer())

	s.Stop()
	s.Stop()
	if s.Playing() || s.QueueLen() != 0 {
		t.Error("Stop() on idle sequencer left inconsistent state")
	}
}

func TestSequencerReusableAfterStop(t *testing.T) {
	player := newScriptedPlayer()
	s := NewSequencer(player)

	s.Enqueue([]byte{1})
	waitFor(t, func() bool { return player.startedCount() == 1 })
	s.Stop()

	s.Enqueue([]byte{2})
	waitFor(t, func() bool { return player.startedCount() == 2 })
	if !s.Playing() {
		t.Error("Playing() = false after re-enqueue")
	}
	player.proceed <- struct{}{}
	waitFor(t, func() bool { return !s.Playing() })
}

func TestEmptyPayloadIgnored(t *testing.T) {
	player := newScriptedPlayer()
	s := NewSequencer(player)

	s.Enqueue(nil)
	time.Sleep(10 * time.Millisecond)
	if player.startedCount() != 0 || s.Playing() {
		t.Error("empty payload started playback")
	}
}

// slowStopPlayer keeps draining for a while after cancellation, the way a
// real device flushes buffered frames, and tracks concurrently active plays.
type slowStopPlayer struct {
	mu        sync.Mutex
	active    int
	maxActive int
	started   int
	release   chan struct{}
}

func (p *slowStopPlayer) Play(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	p.started++
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		time.Sleep(50 * time.Millisecond)
		return ctx.Err()
	}
}

func TestStopThenEnqueueDoesNotOverlapPlayback(t *testing.T) {
	player := &slowStopPlayer{release: make(chan struct{})}
	s := NewSequencer(player)

	s.Enqueue([]byte{1})
	waitFor(t, func() bool {
		player.mu.Lock()
		defer player.mu.Unlock()
		return player.started == 1
	})

	// Interruption, immediately followed by the next utterance. The new
	// payload must wait out the cancelled player's wind-down.
	s.Stop()
	s.Enqueue([]byte{2})

	waitFor(t, func() bool {
		player.mu.Lock()
		defer player.mu.Unlock()
		return player.started == 2
	})

	player.mu.Lock()
	maxActive := player.maxActive
	player.mu.Unlock()
	if maxActive > 1 {
		t.Fatalf("concurrently active plays = %d, want at most 1", maxActive)
	}

	close(player.release)
	waitFor(t, func() bool { return !s.Playing() })
}

func TestPlayerErrorDoesNotStallQueue(t *testing.T) {
	player := newScriptedPlayer()
	s := NewSequencer(player)

	player.mu.Lock()
	player.failNext = true
	player.mu.Unlock()

	s.Enqueue([]byte{1})
	s.Enqueue([]byte{2})
	waitFor(t, func() bool { return player.startedCount() == 1 })

	// First payload fails; the second must still play
	player.proceed <- struct{}{}
	waitFor(t, func() bool { return player.startedCount() == 2 })
	player.proceed <- struct{}{}
	waitFor(t, func() bool { return !s.Playing() })
}
