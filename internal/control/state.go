// Package control holds the pause/stop state shared between the input
// listeners and the transfer copy loop.
package control

import (
	"context"
	"sync"
)

// Snapshot is a point-in-time copy of the control flags.
type Snapshot struct {
	Paused  bool `json:"paused"`
	Stopped bool `json:"stopped"`
}

// State is the mutex-guarded pause/stop pair for one download request.
// Once Stopped is set it stays set until the next Reset.
type State struct {
	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
}

// NewState returns a state with both flags cleared.
func NewState() *State {
	s := &State{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Reset clears both flags. It is called once at the start of every request.
func (s *State) Reset() {
	s.mu.Lock()
	s.paused = false
	s.stopped = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

// TogglePause flips the paused flag and returns the new value. It has no
// effect after a stop.
func (s *State) TogglePause() bool {
	s.mu.Lock()
	if !s.stopped {
		s.paused = !s.paused
	}
	paused := s.paused
	s.mu.Unlock()
	s.cond.Broadcast()
	return paused
}

// Stop requests cancellation of the current request.
func (s *State) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Paused reports the paused flag.
func (s *State) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Stopped reports the stopped flag.
func (s *State) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Snapshot returns both flags read under one lock.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Paused: s.paused, Stopped: s.stopped}
}

// WaitWhilePaused blocks while the state is paused and not stopped. It
// returns true when the caller must abandon the request, either because
// stop was requested or ctx is done.
func (s *State) WaitWhilePaused(ctx context.Context) bool {
	stopWake := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stopWake()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.paused && !s.stopped && ctx.Err() == nil {
		s.cond.Wait()
	}
	return s.stopped || ctx.Err() != nil
}
