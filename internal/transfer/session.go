// Package transfer places a single track on disk: it reuses existing copies
// when it can and otherwise streams the track over HTTP in an interruptible
// chunked copy loop.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/time/rate"

	"github.com/jpp0ca/dabcli/internal/control"
	"github.com/jpp0ca/dabcli/internal/domain"
	"github.com/jpp0ca/dabcli/internal/ports"
)

// Placeholder is the body written in test mode instead of real audio.
var Placeholder = []byte("PHANTOM DATA")

var (
	ErrNoStreamURL       = errors.New("no stream url available")
	ErrStalled           = errors.New("source stalled")
	ErrInsufficientSpace = errors.New("insufficient free space")

	errCancelled = errors.New("cancelled")
)

const (
	defaultChunkSize = 8192
	defaultTimeout   = 30 * time.Second
)

// Options configures a Session.
type Options struct {
	Root           string        // output root searched for cross-tree copies
	TestMode       bool          // write Placeholder instead of downloading
	ChunkSize      int           // copy-loop buffer size
	Timeout        time.Duration // connect, response-header and read-idle bound
	RateLimit      int           // bytes per second, 0 for unlimited
	CheckFreeSpace bool
}

// Session turns download requests into outcomes. A session runs one request
// at a time; the control state is reset at the start of each.
type Session struct {
	source     ports.ContentSource
	control    *control.State
	resolver   *Resolver
	client     *http.Client
	limiter    *rate.Limiter
	progress   *Progress
	opts       Options
	onProgress func(ProgressSnapshot)
	freeSpace  func(dir string) (uint64, error)
}

// NewSession creates a session reading pause/stop intent from state.
func NewSession(source ports.ContentSource, state *control.State, opts Options) *Session {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = opts.Timeout
	transport.ResponseHeaderTimeout = opts.Timeout

	s := &Session{
		source:    source,
		control:   state,
		resolver:  NewResolver(opts.Root),
		client:    &http.Client{Transport: transport},
		progress:  &Progress{},
		opts:      opts,
		freeSpace: freeBytes,
	}
	if opts.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.RateLimit, opts.ChunkSize))
	}
	return s
}

// Progress exposes the byte counter of the current transfer.
func (s *Session) Progress() *Progress {
	return s.progress
}

// OnProgress registers a callback invoked after every written chunk.
func (s *Session) OnProgress(fn func(ProgressSnapshot)) {
	s.onProgress = fn
}

// Download produces the outcome for req. No partial file survives a
// Cancelled or Failed outcome.
func (s *Session) Download(ctx context.Context, req domain.DownloadRequest) domain.Outcome {
	s.control.Reset()

	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return failed(fmt.Errorf("transfer: create %s: %w", req.Dir, err))
	}
	dest := filepath.Join(req.Dir, req.FileName())

	res, err := s.resolver.Resolve(dest, req.IdentitySuffix())
	if err != nil {
		return failed(err)
	}
	if res.Found() {
		if res.Kind == domain.OutcomeAlreadyPresent {
			log.Printf("[downloader] skipped (exists): %s", dest)
		}
		return domain.Outcome{Kind: res.Kind, Path: res.Path, Method: res.Method, Source: res.Source}
	}

	if s.opts.TestMode {
		log.Printf("[downloader] test mode: would download track %s -> %s", req.TrackID, dest)
		if err := os.WriteFile(dest, Placeholder, 0o644); err != nil {
			return failed(fmt.Errorf("transfer: write placeholder: %w", err))
		}
		return domain.Outcome{Kind: domain.OutcomeCompleted, Path: dest, Bytes: int64(len(Placeholder))}
	}

	url, err := s.source.StreamURL(ctx, req.TrackID, req.Quality)
	if err != nil {
		return failed(fmt.Errorf("transfer: %w: %w", ErrNoStreamURL, err))
	}
	if url == "" {
		return failed(ErrNoStreamURL)
	}

	log.Printf("[downloader] downloading: %s", dest)
	return s.fetch(ctx, url, dest)
}

func (s *Session) fetch(ctx context.Context, url, dest string) domain.Outcome {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return failed(fmt.Errorf("transfer: open %s: %w", dest, err))
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		f.Close()
		if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[downloader] failed to remove partial file %s: %v", dest, err)
		}
	}()

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return failed(fmt.Errorf("transfer: build request: %w", err))
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return s.abandon(ctx, fmt.Errorf("transfer: request stream: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return failed(fmt.Errorf("transfer: source returned status %d", resp.StatusCode))
	}

	total := resp.ContentLength
	if s.opts.CheckFreeSpace && total > 0 {
		if err := s.ensureSpace(filepath.Dir(dest), total); err != nil {
			return failed(err)
		}
	}

	s.progress.start(dest, total)
	defer s.progress.finish()

	written, err := s.copy(ctx, reqCtx, cancel, f, resp.Body)
	if err != nil {
		if errors.Is(err, errCancelled) {
			log.Printf("[downloader] download stopped before completion")
			return domain.Outcome{Kind: domain.OutcomeCancelled, Bytes: written}
		}
		return s.abandon(ctx, err)
	}

	if err := f.Close(); err != nil {
		return failed(fmt.Errorf("transfer: close %s: %w", dest, err))
	}
	completed = true
	log.Printf("[downloader] download completed: %s (%d bytes)", dest, written)
	return domain.Outcome{Kind: domain.OutcomeCompleted, Path: dest, Bytes: written}
}

// copy moves chunks from body to f in arrival order. The stop flag is
// checked for every chunk before it is written, and the read-idle timer is
// disarmed while the loop waits on pause.
func (s *Session) copy(ctx, reqCtx context.Context, cancel context.CancelCauseFunc, f io.Writer, body io.Reader) (int64, error) {
	idle := time.AfterFunc(s.opts.Timeout, func() { cancel(ErrStalled) })
	idle.Stop()
	defer idle.Stop()

	buf := make([]byte, s.opts.ChunkSize)
	var written int64
	for {
		idle.Reset(s.opts.Timeout)
		n, readErr := body.Read(buf)
		idle.Stop()

		if n > 0 {
			if s.control.Stopped() || s.control.WaitWhilePaused(ctx) {
				return written, errCancelled
			}
			if s.limiter != nil {
				if err := s.limiter.WaitN(ctx, n); err != nil {
					return written, err
				}
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("transfer: write: %w", err)
			}
			written += int64(n)
			s.progress.add(n)
			if s.onProgress != nil {
				s.onProgress(s.progress.Snapshot())
			}
		}

		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			if errors.Is(context.Cause(reqCtx), ErrStalled) {
				return written, fmt.Errorf("transfer: %w after %s", ErrStalled, s.opts.Timeout)
			}
			return written, fmt.Errorf("transfer: read stream: %w", readErr)
		}
	}
}

// abandon classifies a transport error: an interrupted parent context is a
// user cancellation, anything else a failure.
func (s *Session) abandon(ctx context.Context, err error) domain.Outcome {
	if ctx.Err() != nil {
		log.Printf("[downloader] session stopped by user")
		return domain.Outcome{Kind: domain.OutcomeCancelled}
	}
	log.Printf("[downloader] download failed: %v", err)
	return failed(err)
}

func (s *Session) ensureSpace(dir string, need int64) error {
	free, err := s.freeSpace(dir)
	if err != nil {
		log.Printf("[downloader] could not determine free space in %s: %v", dir, err)
		return nil
	}
	if uint64(need) > free {
		return fmt.Errorf("transfer: %w: need %d bytes, %d available", ErrInsufficientSpace, need, free)
	}
	return nil
}

func freeBytes(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

func failed(err error) domain.Outcome {
	return domain.Outcome{Kind: domain.OutcomeFailed, Err: err}
}
