package transfer

import (
	"sync"
	"sync/atomic"
)

// ProgressSnapshot is a point-in-time view of the active transfer. Total is
// -1 when the source did not announce a length.
type ProgressSnapshot struct {
	Path    string `json:"path"`
	Written int64  `json:"written"`
	Total   int64  `json:"total"`
	Active  bool   `json:"active"`
}

// Fraction returns the completed share in [0,1], or 0 when the total is unknown.
func (p ProgressSnapshot) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Written) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Progress is the byte counter of the session's current transfer. It is
// written by the copy loop and may be read from any goroutine.
type Progress struct {
	written atomic.Int64
	total   atomic.Int64
	active  atomic.Bool

	mu   sync.Mutex
	path string
}

func (p *Progress) start(path string, total int64) {
	p.mu.Lock()
	p.path = path
	p.mu.Unlock()
	p.written.Store(0)
	p.total.Store(total)
	p.active.Store(true)
}

func (p *Progress) add(n int) int64 {
	return p.written.Add(int64(n))
}

func (p *Progress) finish() {
	p.active.Store(false)
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	path := p.path
	p.mu.Unlock()
	return ProgressSnapshot{
		Path:    path,
		Written: p.written.Load(),
		Total:   p.total.Load(),
		Active:  p.active.Load(),
	}
}
