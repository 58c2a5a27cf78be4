package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"golang.org/x/term"
)

// Key bindings understood by the listener.
const (
	KeyPause = 'p'
	KeyStop  = 'q'
)

// ErrNotListening is returned for intents submitted after Run has exited.
var ErrNotListening = errors.New("control: listener is not running")

type intent struct {
	key     byte
	applied chan struct{}
}

// Listener translates single-key commands into updates of a State. Keys
// come from the input stream or from Submit; either way the listener's Run
// goroutine is the only one that applies them. One listener serves a whole
// batch of requests.
type Listener struct {
	in      io.Reader
	state   *State
	intents chan intent
	exited  chan struct{}
	once    sync.Once
}

// NewListener creates a listener reading from in, which may be nil when
// only submitted intents are served. When in is a terminal the listener
// switches it to cbreak/no-echo mode while running.
func NewListener(in io.Reader, state *State) *Listener {
	return &Listener{
		in:      in,
		state:   state,
		intents: make(chan intent),
		exited:  make(chan struct{}),
	}
}

// Run applies keys until ctx is done or the input reaches EOF. The terminal
// mode, if changed, is restored on every return path.
func (l *Listener) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.exited) })

	if f, ok := l.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		restore, err := enterCbreak(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("control: enter cbreak mode: %w", err)
		}
		defer func() {
			if err := restore(); err != nil {
				log.Printf("[control] failed to restore terminal: %v", err)
			}
		}()
	}

	keys := make(chan byte)
	readErr := make(chan error, 1)

	// The reader stays blocked on the input after ctx is done until the
	// next byte or EOF arrives; it never touches the state afterwards.
	if l.in != nil {
		go func() {
			buf := make([]byte, 1)
			for {
				n, err := l.in.Read(buf)
				if n > 0 {
					select {
					case keys <- buf[0]:
					case <-ctx.Done():
						return
					}
				}
				if err != nil {
					readErr <- err
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("control: read input: %w", err)
		case key := <-keys:
			l.handle(key)
		case in := <-l.intents:
			l.handle(in.key)
			close(in.applied)
		}
	}
}

// Submit hands key to the running listener and waits until it has been
// applied.
func (l *Listener) Submit(ctx context.Context, key byte) error {
	in := intent{key: key, applied: make(chan struct{})}
	select {
	case l.intents <- in:
	case <-l.exited:
		return ErrNotListening
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-in.applied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TogglePause submits a pause toggle.
func (l *Listener) TogglePause(ctx context.Context) error {
	return l.Submit(ctx, KeyPause)
}

// Stop submits a stop.
func (l *Listener) Stop(ctx context.Context) error {
	return l.Submit(ctx, KeyStop)
}

// Snapshot reads the state the listener writes.
func (l *Listener) Snapshot() Snapshot {
	return l.state.Snapshot()
}

func (l *Listener) handle(key byte) {
	switch key | 0x20 {
	case KeyPause:
		if l.state.TogglePause() {
			log.Printf("[control] paused")
		} else {
			log.Printf("[control] resumed")
		}
	case KeyStop:
		l.state.Stop()
		log.Printf("[control] stopped by user")
	}
}
