package ipc

import "sync"

// NoIndex marks a PlaybackSnapshot without a current playlist entry.
const NoIndex = -1

// PlaybackSnapshot is a copy of the live playback state.
type PlaybackSnapshot struct {
	CurrentIndex int  `json:"current_index"`
	Elapsed      int  `json:"elapsed"`
	Paused       bool `json:"paused"`
	Started      bool `json:"started"`
}

// HasIndex reports whether a playlist entry is current.
func (s PlaybackSnapshot) HasIndex() bool {
	return s.CurrentIndex != NoIndex
}

// PlaybackState is written only by the event reader and read by renderers.
type PlaybackState struct {
	mu   sync.RWMutex
	snap PlaybackSnapshot
}

// NewPlaybackState returns the initial state: nothing playing.
func NewPlaybackState() *PlaybackState {
	return &PlaybackState{snap: PlaybackSnapshot{CurrentIndex: NoIndex}}
}

// Snapshot returns the current state.
func (p *PlaybackState) Snapshot() PlaybackSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

func (p *PlaybackState) startTrack(index int) {
	p.mu.Lock()
	p.snap.CurrentIndex = index
	p.snap.Elapsed = 0
	p.snap.Started = true
	p.mu.Unlock()
}

func (p *PlaybackState) setElapsed(sec int) {
	p.mu.Lock()
	p.snap.Elapsed = sec
	p.mu.Unlock()
}

func (p *PlaybackState) setPaused(paused bool) {
	p.mu.Lock()
	p.snap.Paused = paused
	p.mu.Unlock()
}
