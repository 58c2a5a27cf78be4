package ipc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"sync"
	"time"

	"github.com/jpp0ca/dabcli/internal/domain"
)

// Observer ids used for the subscriptions.
const (
	ObservePlaylistPos  = 1
	ObservePlaybackTime = 2
	ObservePause        = 3
)

const (
	defaultDialAttempts = 10
	defaultDialInterval = 300 * time.Millisecond
	maxLineSize         = 1 << 20
)

var ErrNotConnected = errors.New("ipc: not connected")

// Reader connects to the player's IPC socket, subscribes to the playback
// properties and applies change events to a PlaybackState until the socket
// closes.
type Reader struct {
	socketPath string
	tracks     []domain.Track
	state      *PlaybackState

	dialAttempts int
	dialInterval time.Duration
	onNowPlaying func(index int, track domain.Track)

	mu   sync.Mutex
	conn net.Conn
}

// NewReader creates a reader for the given socket. tracks is the play queue
// in player order; it bounds playlist-pos and supplies now-playing metadata.
func NewReader(socketPath string, tracks []domain.Track, state *PlaybackState) *Reader {
	return &Reader{
		socketPath:   socketPath,
		tracks:       tracks,
		state:        state,
		dialAttempts: defaultDialAttempts,
		dialInterval: defaultDialInterval,
	}
}

// SetRetry overrides the connection retry budget.
func (r *Reader) SetRetry(attempts int, interval time.Duration) {
	r.dialAttempts = max(attempts, 1)
	r.dialInterval = interval
}

// OnNowPlaying registers a callback for playlist position changes. It runs
// on the reader goroutine after the state has been updated.
func (r *Reader) OnNowPlaying(fn func(index int, track domain.Track)) {
	r.onNowPlaying = fn
}

// State returns the state the reader writes to.
func (r *Reader) State() *PlaybackState {
	return r.state
}

// Run connects, subscribes and processes events until the player closes
// the socket or ctx is done. A socket that never appears is not an error:
// playback simply proceeds without live state.
func (r *Reader) Run(ctx context.Context) error {
	conn, err := r.dial(ctx)
	if err != nil {
		log.Printf("[ipc] no player socket at %s, continuing without live state: %v", r.socketPath, err)
		return nil
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.mu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for _, cmd := range []ObserveCommand{
		{ID: ObservePlaylistPos, Property: PropPlaylistPos},
		{ID: ObservePlaybackTime, Property: PropPlaybackTime},
		{ID: ObservePause, Property: PropPause},
	} {
		if err := r.Send(cmd); err != nil {
			log.Printf("[ipc] subscribe %s: %v", cmd.Property, err)
			return nil
		}
	}

	err = readLines(conn, func(line []byte) {
		ev, err := ParseEvent(line)
		if err != nil {
			return
		}
		r.apply(ev)
	})
	if err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("ipc: read %s: %w", r.socketPath, err)
	}
	return nil
}

// readLines calls fn for every newline-terminated line of rd until EOF.
// Lines longer than maxLineSize are dropped whole and reading continues.
func readLines(rd io.Reader, fn func(line []byte)) error {
	br := bufio.NewReaderSize(rd, 64*1024)
	var line []byte
	dropping := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !dropping {
			line = append(line, chunk...)
			if len(line) > maxLineSize {
				log.Printf("[ipc] dropping message longer than %d bytes", maxLineSize)
				dropping = true
				line = line[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if trimmed := bytes.TrimRight(line, "\r\n"); !dropping && len(trimmed) > 0 {
			fn(trimmed)
		}
		line = line[:0]
		dropping = false

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Send writes one command to the player.
func (r *Reader) Send(cmd Command) error {
	line, err := EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("ipc: encode command: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return ErrNotConnected
	}
	if _, err := r.conn.Write(line); err != nil {
		return fmt.Errorf("ipc: write command: %w", err)
	}
	return nil
}

// CyclePause toggles the player's pause property.
func (r *Reader) CyclePause() error {
	return r.Send(RawCommand{"cycle", PropPause})
}

// Next skips to the next playlist entry.
func (r *Reader) Next() error {
	return r.Send(RawCommand{"playlist-next"})
}

func (r *Reader) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	var lastErr error
	for attempt := 1; attempt <= r.dialAttempts; attempt++ {
		conn, err := d.DialContext(ctx, "unix", r.socketPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == r.dialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.dialInterval):
		}
	}
	return nil, lastErr
}

func (r *Reader) apply(ev Event) {
	change, ok := ev.(PropertyChangeEvent)
	if !ok {
		return
	}

	switch change.Name {
	case PropPlaylistPos:
		idx, ok := change.Int()
		if !ok || idx < 0 || idx >= len(r.tracks) {
			return
		}
		r.state.startTrack(idx)
		if r.onNowPlaying != nil {
			r.onNowPlaying(idx, r.tracks[idx])
		}
	case PropPlaybackTime:
		if sec, ok := change.Float(); ok {
			r.state.setElapsed(int(math.Floor(sec)))
		}
	case PropPause:
		r.state.setPaused(change.Bool())
	}
}
