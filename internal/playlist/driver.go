// Package playlist turns an ordered list of tracks into one foreground
// playback session of the external player.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jpp0ca/dabcli/internal/domain"
	"github.com/jpp0ca/dabcli/internal/ipc"
	"github.com/jpp0ca/dabcli/internal/ports"
)

var (
	ErrNothingToPlay = errors.New("no playable tracks")
	ErrNoSession     = errors.New("no active playback session")
)

// drainTimeout bounds how long the event reader may keep running after the
// player has exited.
const drainTimeout = time.Second

// playerFlags suppress video and window output; the socket flag is added
// per session.
var playerFlags = []string{"--no-video", "--force-window=no", "--audio-display=no", "--really-quiet"}

// Display is the terminal surface the driver reports to.
type Display interface {
	Resolving(done, total int)
	NowPlaying(index, total int, track domain.Track)
	Elapsed(snap ipc.PlaybackSnapshot, track domain.Track)
	EndLine()
}

// Options configures a Driver.
type Options struct {
	Player         string
	PlayerArgs     []string // placed before the standard flags
	Quality        string
	SocketDir      string
	TestMode       bool
	DialAttempts   int
	DialInterval   time.Duration
	RenderInterval time.Duration
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

// Session is one running playback: the resolved queue, the player process
// and its IPC endpoint.
type Session struct {
	Tracks     []domain.Track
	URLs       []string
	SocketPath string
	State      *ipc.PlaybackState

	cmd    *exec.Cmd
	reader *ipc.Reader
}

// Driver resolves, spawns and supervises playback sessions, one at a time.
type Driver struct {
	source  ports.ContentSource
	display Display
	opts    Options

	mu     sync.Mutex
	active *Session
}

// NewDriver creates a driver.
func NewDriver(source ports.ContentSource, display Display, opts Options) *Driver {
	if opts.Player == "" {
		opts.Player = "mpv"
	}
	if opts.SocketDir == "" {
		opts.SocketDir = os.TempDir()
	}
	if opts.RenderInterval <= 0 {
		opts.RenderInterval = time.Second
	}
	return &Driver{source: source, display: display, opts: opts}
}

// Play resolves every track, starts the player on the resulting queue and
// blocks until the player exits. Tracks whose URL cannot be resolved are
// left out. The socket file is removed on every exit path.
func (d *Driver) Play(ctx context.Context, tracks []domain.Track) (ipc.PlaybackSnapshot, error) {
	idle := ipc.NewPlaybackState().Snapshot()

	if len(tracks) == 0 {
		return idle, ErrNothingToPlay
	}
	if d.opts.TestMode {
		for i, t := range tracks {
			log.Printf("[player] test mode: would play %d/%d %s", i+1, len(tracks), describe(t))
		}
		return idle, nil
	}

	sess, err := d.resolve(ctx, tracks)
	if err != nil {
		return idle, err
	}

	if err := os.Remove(sess.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return idle, fmt.Errorf("playlist: remove stale socket: %w", err)
	}
	defer func() {
		if err := os.Remove(sess.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[player] failed to remove socket %s: %v", sess.SocketPath, err)
		}
	}()

	args := append([]string{}, d.opts.PlayerArgs...)
	args = append(args, playerFlags...)
	args = append(args, "--input-ipc-server="+sess.SocketPath)
	args = append(args, sess.URLs...)

	sess.cmd = exec.CommandContext(ctx, d.opts.Player, args...)
	sess.cmd.Stdin = d.opts.Stdin
	sess.cmd.Stdout = d.opts.Stdout
	sess.cmd.Stderr = d.opts.Stderr

	sess.reader = ipc.NewReader(sess.SocketPath, sess.Tracks, sess.State)
	if d.opts.DialAttempts > 0 {
		sess.reader.SetRetry(d.opts.DialAttempts, d.opts.DialInterval)
	}
	sess.reader.OnNowPlaying(func(i int, t domain.Track) {
		d.display.NowPlaying(i, len(sess.Tracks), t)
	})

	readerCtx, stopReader := context.WithCancel(ctx)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		if err := sess.reader.Run(readerCtx); err != nil {
			log.Printf("[ipc] %v", err)
		}
	}()
	renderCtx, stopRender := context.WithCancel(ctx)
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		d.render(renderCtx, sess)
	}()
	defer func() {
		stopRender()
		<-renderDone
		stopReader()
		<-readerDone
		d.display.EndLine()
	}()

	if err := sess.cmd.Start(); err != nil {
		return idle, fmt.Errorf("playlist: start %s: %w", d.opts.Player, err)
	}
	log.Printf("[player] playing %d tracks (pid %d)", len(sess.URLs), sess.cmd.Process.Pid)

	d.setActive(sess)
	defer d.setActive(nil)

	waitErr := sess.cmd.Wait()

	// Events already written by the player are drained before teardown.
	select {
	case <-readerDone:
	case <-time.After(drainTimeout):
	}
	stopRender()
	<-renderDone
	stopReader()
	<-readerDone

	final := sess.State.Snapshot()
	if ctx.Err() != nil {
		return final, ctx.Err()
	}
	if waitErr != nil {
		return final, fmt.Errorf("playlist: %s exited: %w", d.opts.Player, waitErr)
	}
	return final, nil
}

// Playback returns the live state of the active session.
func (d *Driver) Playback() (ipc.PlaybackSnapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return ipc.PlaybackSnapshot{CurrentIndex: ipc.NoIndex}, false
	}
	return d.active.State.Snapshot(), true
}

// CyclePause toggles pause in the running player.
func (d *Driver) CyclePause() error {
	r, err := d.activeReader()
	if err != nil {
		return err
	}
	return r.CyclePause()
}

// Next skips to the next track in the running player.
func (d *Driver) Next() error {
	r, err := d.activeReader()
	if err != nil {
		return err
	}
	return r.Next()
}

func (d *Driver) resolve(ctx context.Context, tracks []domain.Track) (*Session, error) {
	sess := &Session{
		SocketPath: filepath.Join(d.opts.SocketDir, "dabcli-mpv-"+uuid.NewString()+".sock"),
		State:      ipc.NewPlaybackState(),
	}

	for i, t := range tracks {
		d.display.Resolving(i+1, len(tracks))
		url, err := d.source.StreamURL(ctx, t.ID, d.opts.Quality)
		if ctx.Err() != nil {
			d.display.EndLine()
			return nil, ctx.Err()
		}
		if err != nil || url == "" {
			log.Printf("[player] skipping track %s: no stream url: %v", t.ID, err)
			continue
		}
		sess.Tracks = append(sess.Tracks, t)
		sess.URLs = append(sess.URLs, url)
	}
	d.display.EndLine()

	if len(sess.URLs) == 0 {
		return nil, ErrNothingToPlay
	}
	return sess, nil
}

func describe(t domain.Track) string {
	if t.Title == "" {
		return t.ID
	}
	return fmt.Sprintf("%s - %s (%s)", t.Artist, t.Title, t.ID)
}

// render redraws the elapsed-time line until ctx is done.
func (d *Driver) render(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(d.opts.RenderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := sess.State.Snapshot()
			if snap.Started && snap.HasIndex() {
				d.display.Elapsed(snap, sess.Tracks[snap.CurrentIndex])
			}
		}
	}
}

func (d *Driver) setActive(s *Session) {
	d.mu.Lock()
	d.active = s
	d.mu.Unlock()
}

func (d *Driver) activeReader() (*ipc.Reader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active == nil {
		return nil, ErrNoSession
	}
	return d.active.reader, nil
}
