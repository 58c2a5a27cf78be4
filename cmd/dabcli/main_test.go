package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpp0ca/dabcli/internal/adapters/dab"
	"github.com/jpp0ca/dabcli/internal/config"
	"github.com/jpp0ca/dabcli/internal/ui"
)

// -- Helpers -----------------------------------------------------------------

// fakeAPI serves albums and album search, counting every request.
func fakeAPI(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var hits atomic.Int32
	r := gin.New()
	r.Use(func(c *gin.Context) {
		hits.Add(1)
		c.Next()
	})

	r.GET("/search", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"albums": []gin.H{
			{"id": "al10001", "title": "Greatest", "artist": "Band", "releaseDate": "1999-01-01"},
			{"id": "al10002", "title": "Greatest Live", "artist": "Band"},
		}})
	})
	r.GET("/albums/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"album": gin.H{
			"id": c.Param("id"), "title": "Greatest Live", "artist": "Band",
			"tracks": []gin.H{{"id": "t1", "title": "One", "artist": "Band"}},
		}})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	return &config.Config{
		BaseURL:       baseURL,
		Token:         "good-token",
		OutputDir:     t.TempDir(),
		OutputFormat:  "flac",
		StreamQuality: "27",
		StreamPlayer:  filepath.Join(t.TempDir(), "no-such-player"),
		HTTPTimeout:   5 * time.Second,
		ChunkSize:     8192,
	}
}

func runCLI(t *testing.T, ctx context.Context, cfg *config.Config, stdin string, args ...string) (int, string) {
	t.Helper()
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	var out bytes.Buffer
	code := run(ctx, cfg, args, strings.NewReader(stdin), &out)
	return code, out.String()
}

// -- Tests -------------------------------------------------------------------

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		msg  string
	}{
		{"success", nil, 0, ""},
		{"interrupted", fmt.Errorf("download: %w", context.Canceled), 0, "Interrupted."},
		{"not logged in", fmt.Errorf("dab: %w", dab.ErrNotLoggedIn), 1, "Not logged in."},
		{"other", fmt.Errorf("boom"), 1, "Error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code := exitCode(ui.NewPrinter(&out, false), tt.err)

			assert.Equal(t, tt.code, code)
			assert.Contains(t, out.String(), tt.msg)
		})
	}
}

func TestRun_InterruptedExitsZero(t *testing.T) {
	srv, _ := fakeAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, out := runCLI(t, ctx, testConfig(t, srv.URL), "", "track", "t1")

	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Interrupted.")
}

func TestRun_PlayTestModeMakesNoRequests(t *testing.T) {
	srv, hits := fakeAPI(t)
	cfg := testConfig(t, srv.URL)
	cfg.TestMode = true

	code, out := runCLI(t, context.Background(), cfg, "", "play", "t1", "t2")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "would play 2/2 t2")

	code, out = runCLI(t, context.Background(), cfg, "", "play", "--album", "al10001")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "would queue album al10001")

	assert.Zero(t, hits.Load())
}

func TestRun_PlayDownloadModeTestMode(t *testing.T) {
	srv, hits := fakeAPI(t)
	cfg := testConfig(t, srv.URL)
	cfg.TestMode = true

	code, out := runCLI(t, context.Background(), cfg, "", "play", "--mode", "download", "t1")

	assert.Equal(t, 0, code, out)
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "unknown - untitled - t1.flac"))
	assert.Contains(t, out, "Queue: 1 completed")
	assert.Zero(t, hits.Load())
}

func TestRun_PlayRejectsUnknownMode(t *testing.T) {
	code, out := runCLI(t, context.Background(), testConfig(t, "http://127.0.0.1:0"), "", "play", "--mode", "shuffle", "t1")

	assert.Equal(t, 1, code)
	assert.Contains(t, out, `unknown mode "shuffle"`)
}

func TestRun_AlbumByTitlePromptsForChoice(t *testing.T) {
	srv, _ := fakeAPI(t)
	cfg := testConfig(t, srv.URL)
	cfg.TestMode = true

	code, out := runCLI(t, context.Background(), cfg, "2\n", "album", "Greatest")

	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "Band - Greatest (1999)  al10001")
	assert.FileExists(t, filepath.Join(cfg.OutputDir, "Greatest Live [FLAC]", "01 - Band - One - t1.flac"))
}

func TestRun_AlbumByTitleInvalidChoice(t *testing.T) {
	srv, _ := fakeAPI(t)
	cfg := testConfig(t, srv.URL)
	cfg.TestMode = true

	code, out := runCLI(t, context.Background(), cfg, "7\n", "album", "Greatest")

	assert.Equal(t, 1, code)
	assert.Contains(t, out, "invalid selection")
}

func TestRun_Status(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:0")
	cfg.Email = "someone@example.com"

	code, out := runCLI(t, context.Background(), cfg, "", "status")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Login status  : Logged in")
	assert.Contains(t, out, "so****le.com")
	assert.NotContains(t, out, "someone")

	cfg.Token = ""
	_, out = runCLI(t, context.Background(), cfg, "", "status")
	assert.Contains(t, out, "Token present : No")
}

func TestRun_UnknownCommand(t *testing.T) {
	code, out := runCLI(t, context.Background(), testConfig(t, "http://127.0.0.1:0"), "", "dance")

	assert.Equal(t, 2, code)
	assert.Contains(t, out, `unknown command "dance"`)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "(unknown)", maskEmail(""))
	assert.Equal(t, "ab****", maskEmail("ab@c.de"))
	assert.Equal(t, "jo****le.com", maskEmail("john@example.com"))
}
