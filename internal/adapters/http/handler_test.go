package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpp0ca/dabcli/internal/control"
	"github.com/jpp0ca/dabcli/internal/ipc"
	"github.com/jpp0ca/dabcli/internal/playlist"
	"github.com/jpp0ca/dabcli/internal/transfer"
)

// -- Mocks -------------------------------------------------------------------

type mockProgress struct {
	snap transfer.ProgressSnapshot
}

func (m *mockProgress) Snapshot() transfer.ProgressSnapshot { return m.snap }

type mockPlayback struct {
	snap    ipc.PlaybackSnapshot
	active  bool
	err     error
	pauses  int
	skipped int
}

func (m *mockPlayback) CyclePause() error {
	m.pauses++
	return m.err
}

func (m *mockPlayback) Next() error {
	m.skipped++
	return m.err
}

func (m *mockPlayback) Playback() (ipc.PlaybackSnapshot, bool) { return m.snap, m.active }

// -- Helpers -----------------------------------------------------------------

func setupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

// runListener starts a listener serving only submitted intents.
func runListener(t *testing.T, state *control.State) *control.Listener {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := control.NewListener(nil, state)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return l
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

// -- Tests -------------------------------------------------------------------

func TestHealth(t *testing.T) {
	r := setupRouter(NewHandler(nil, nil, nil))

	w := do(r, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestTransferStatus(t *testing.T) {
	state := control.NewState()
	state.TogglePause()
	progress := &mockProgress{snap: transfer.ProgressSnapshot{Path: "/m/a.flac", Written: 25, Total: 100, Active: true}}
	r := setupRouter(NewHandler(runListener(t, state), progress, nil))

	w := do(r, http.MethodGet, "/api/v1/transfer")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp TransferStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Paused)
	assert.True(t, resp.Active)
	assert.Equal(t, int64(25), resp.Written)
	assert.InDelta(t, 0.25, resp.Fraction, 1e-9)
}

func TestTransferPauseAndStop(t *testing.T) {
	state := control.NewState()
	r := setupRouter(NewHandler(runListener(t, state), nil, nil))

	w := do(r, http.MethodPost, "/api/v1/transfer/pause")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, state.Paused())

	w = do(r, http.MethodPost, "/api/v1/transfer/stop")
	assert.Equal(t, http.StatusOK, w.Code)
	var snap control.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.True(t, snap.Stopped)

	// Pause has no effect once stopped.
	do(r, http.MethodPost, "/api/v1/transfer/pause")
	assert.True(t, state.Paused())
	assert.True(t, state.Stopped())
}

func TestTransferPause_ListenerGone(t *testing.T) {
	state := control.NewState()
	l := control.NewListener(nil, state)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))
	r := setupRouter(NewHandler(l, nil, nil))

	w := do(r, http.MethodPost, "/api/v1/transfer/pause")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "listener_unavailable", resp.Error)
	assert.False(t, state.Paused())
}

func TestTransfer_NoDownload(t *testing.T) {
	r := setupRouter(NewHandler(nil, nil, nil))

	for _, path := range []string{"/api/v1/transfer/pause", "/api/v1/transfer/stop"} {
		w := do(r, http.MethodPost, path)
		assert.Equal(t, http.StatusConflict, w.Code, path)
	}
	assert.Equal(t, http.StatusConflict, do(r, http.MethodGet, "/api/v1/transfer").Code)
}

func TestPlaybackStatus(t *testing.T) {
	pb := &mockPlayback{snap: ipc.PlaybackSnapshot{CurrentIndex: 2, Elapsed: 5, Paused: true, Started: true}, active: true}
	r := setupRouter(NewHandler(nil, nil, pb))

	w := do(r, http.MethodGet, "/api/v1/playback")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp PlaybackStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Active)
	assert.Equal(t, 2, resp.CurrentIndex)
	assert.Equal(t, 5, resp.Elapsed)
	assert.True(t, resp.Paused)
}

func TestPlaybackStatus_NoPlayer(t *testing.T) {
	r := setupRouter(NewHandler(nil, nil, nil))

	w := do(r, http.MethodGet, "/api/v1/playback")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp PlaybackStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Active)
	assert.Equal(t, ipc.NoIndex, resp.CurrentIndex)
}

func TestPlaybackCommands(t *testing.T) {
	pb := &mockPlayback{active: true}
	r := setupRouter(NewHandler(nil, nil, pb))

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/v1/playback/pause").Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/v1/playback/next").Code)
	assert.Equal(t, 1, pb.pauses)
	assert.Equal(t, 1, pb.skipped)
}

func TestPlaybackCommands_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"no session", playlist.ErrNoSession, http.StatusConflict},
		{"not connected", ipc.ErrNotConnected, http.StatusConflict},
		{"write failure", errors.New("broken pipe"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupRouter(NewHandler(nil, nil, &mockPlayback{err: tt.err}))

			w := do(r, http.MethodPost, "/api/v1/playback/next")

			assert.Equal(t, tt.code, w.Code)
		})
	}

	r := setupRouter(NewHandler(nil, nil, nil))
	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/v1/playback/pause").Code)
}
