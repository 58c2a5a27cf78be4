package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jpp0ca/dabcli/internal/control"
	"github.com/jpp0ca/dabcli/internal/ipc"
	"github.com/jpp0ca/dabcli/internal/playlist"
	"github.com/jpp0ca/dabcli/internal/ports"
	"github.com/jpp0ca/dabcli/internal/transfer"
)

// intentTimeout bounds how long a request waits for the listener.
const intentTimeout = 2 * time.Second

// TransferState is the control state of the active download.
type TransferState interface {
	ports.TransferController
	Snapshot() control.Snapshot
}

// ProgressSource exposes the byte counters of the active download.
type ProgressSource interface {
	Snapshot() transfer.ProgressSnapshot
}

// PlaybackState is the live state and command surface of the player.
type PlaybackState interface {
	ports.PlaybackController
	Playback() (ipc.PlaybackSnapshot, bool)
}

// Handler holds the HTTP handlers for the local control API. Any of its
// collaborators may be nil when the running command has no such activity.
type Handler struct {
	transfer TransferState
	progress ProgressSource
	playback PlaybackState
}

// NewHandler creates a new control API handler.
func NewHandler(transfer TransferState, progress ProgressSource, playback PlaybackState) *Handler {
	return &Handler{transfer: transfer, progress: progress, playback: playback}
}

// RegisterRoutes sets up all API routes on the given Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	{
		api.GET("/transfer", h.TransferStatus)
		api.POST("/transfer/pause", h.TogglePause)
		api.POST("/transfer/stop", h.Stop)

		api.GET("/playback", h.PlaybackStatus)
		api.POST("/playback/pause", h.CyclePause)
		api.POST("/playback/next", h.Next)
	}
}

// TransferStatusResponse describes the active download.
type TransferStatusResponse struct {
	Paused   bool    `json:"paused"`
	Stopped  bool    `json:"stopped"`
	Active   bool    `json:"active"`
	Path     string  `json:"path,omitempty"`
	Written  int64   `json:"written"`
	Total    int64   `json:"total"`
	Fraction float64 `json:"fraction"`
}

// PlaybackStatusResponse describes the running player.
type PlaybackStatusResponse struct {
	Active bool `json:"active"`
	ipc.PlaybackSnapshot
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Health returns a simple health check response.
//
//	@Summary		Health check
//	@Description	Returns the health status of the control API
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Router			/health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// TransferStatus returns the control flags and progress of the download.
//
//	@Summary		Transfer status
//	@Description	Returns the pause/stop flags and byte progress of the active download.
//	@Tags			transfer
//	@Produce		json
//	@Success		200	{object}	TransferStatusResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/v1/transfer [get]
func (h *Handler) TransferStatus(c *gin.Context) {
	if h.transfer == nil {
		noTransfer(c)
		return
	}

	snap := h.transfer.Snapshot()
	resp := TransferStatusResponse{Paused: snap.Paused, Stopped: snap.Stopped}
	if h.progress != nil {
		p := h.progress.Snapshot()
		resp.Active = p.Active
		resp.Path = p.Path
		resp.Written = p.Written
		resp.Total = p.Total
		resp.Fraction = p.Fraction()
	}
	c.JSON(http.StatusOK, resp)
}

// TogglePause flips the pause flag of the active download.
//
//	@Summary		Toggle transfer pause
//	@Description	Pauses the download, or resumes it when already paused. Has no effect after a stop.
//	@Tags			transfer
//	@Produce		json
//	@Success		200	{object}	control.Snapshot
//	@Failure		409	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/v1/transfer/pause [post]
func (h *Handler) TogglePause(c *gin.Context) {
	h.transferIntent(c, func(ctx context.Context, t TransferState) error { return t.TogglePause(ctx) })
}

// Stop cancels the active download.
//
//	@Summary		Stop transfer
//	@Description	Cancels the current download; the partial file is removed.
//	@Tags			transfer
//	@Produce		json
//	@Success		200	{object}	control.Snapshot
//	@Failure		409	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/v1/transfer/stop [post]
func (h *Handler) Stop(c *gin.Context) {
	h.transferIntent(c, func(ctx context.Context, t TransferState) error { return t.Stop(ctx) })
}

// PlaybackStatus returns the live state of the player.
//
//	@Summary		Playback status
//	@Description	Returns the current playlist index, elapsed seconds and pause flag.
//	@Tags			playback
//	@Produce		json
//	@Success		200	{object}	PlaybackStatusResponse
//	@Router			/api/v1/playback [get]
func (h *Handler) PlaybackStatus(c *gin.Context) {
	resp := PlaybackStatusResponse{PlaybackSnapshot: ipc.PlaybackSnapshot{CurrentIndex: ipc.NoIndex}}
	if h.playback != nil {
		resp.PlaybackSnapshot, resp.Active = h.playback.Playback()
	}
	c.JSON(http.StatusOK, resp)
}

// CyclePause toggles pause in the player.
//
//	@Summary		Toggle playback pause
//	@Tags			playback
//	@Produce		json
//	@Success		202	{object}	map[string]string
//	@Failure		409	{object}	ErrorResponse
//	@Failure		502	{object}	ErrorResponse
//	@Router			/api/v1/playback/pause [post]
func (h *Handler) CyclePause(c *gin.Context) {
	h.playerCommand(c, func(p PlaybackState) error { return p.CyclePause() })
}

// Next skips to the next playlist entry.
//
//	@Summary		Next track
//	@Tags			playback
//	@Produce		json
//	@Success		202	{object}	map[string]string
//	@Failure		409	{object}	ErrorResponse
//	@Failure		502	{object}	ErrorResponse
//	@Router			/api/v1/playback/next [post]
func (h *Handler) Next(c *gin.Context) {
	h.playerCommand(c, func(p PlaybackState) error { return p.Next() })
}

func (h *Handler) playerCommand(c *gin.Context, send func(PlaybackState) error) {
	if h.playback == nil {
		noPlayback(c)
		return
	}

	err := send(h.playback)
	switch {
	case errors.Is(err, playlist.ErrNoSession), errors.Is(err, ipc.ErrNotConnected):
		noPlayback(c)
	case err != nil:
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "player_error",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	}
}

// transferIntent hands an intent to the listener and reports the state it
// left behind.
func (h *Handler) transferIntent(c *gin.Context, submit func(context.Context, TransferState) error) {
	if h.transfer == nil {
		noTransfer(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), intentTimeout)
	defer cancel()
	if err := submit(ctx, h.transfer); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "listener_unavailable",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, h.transfer.Snapshot())
}

func noTransfer(c *gin.Context) {
	c.JSON(http.StatusConflict, ErrorResponse{
		Error:   "no_transfer",
		Message: "no download is running",
	})
}

func noPlayback(c *gin.Context) {
	c.JSON(http.StatusConflict, ErrorResponse{
		Error:   "no_playback",
		Message: "no playback session is active",
	})
}
