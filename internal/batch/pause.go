package batch

import (
	"context"
	"sync"
	"time"
)

// PauseToken is a cooperative pause flag observed at file boundaries.
type PauseToken struct {
	mu     sync.Mutex
	paused bool
}

func (p *PauseToken) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

func (p *PauseToken) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Toggle flips the flag and returns the new value.
func (p *PauseToken) Toggle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = !p.paused
	return p.paused
}

func (p *PauseToken) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Wait blocks while the token is paused, checking every poll interval.
// Returns ctx.Err() if the context ends first.
func (p *PauseToken) Wait(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	for p.Paused() {
		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return ctx.Err()
}
