package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/term"

	"github.com/jpp0ca/dabcli/internal/adapters/dab"
	handler "github.com/jpp0ca/dabcli/internal/adapters/http"
	"github.com/jpp0ca/dabcli/internal/app"
	"github.com/jpp0ca/dabcli/internal/config"
	"github.com/jpp0ca/dabcli/internal/control"
	"github.com/jpp0ca/dabcli/internal/domain"
	"github.com/jpp0ca/dabcli/internal/playlist"
	"github.com/jpp0ca/dabcli/internal/transfer"
	"github.com/jpp0ca/dabcli/internal/ui"

	_ "github.com/jpp0ca/dabcli/docs"
)

const usageText = `Usage: dabcli [flags] <command> [args]

Commands:
  login <email> [password]   log in and store the session token in .env
  logout                     remove the stored session token
  status                     show whether a session token is stored
  track <id>...              download tracks
  album <id|title>           download an album, searching by title if needed
  library <id>               download a library
  play <id>...               stream tracks through the player
  play --album <id>          stream an album
  play --library <id>        stream a library
  play --mode download ...   download the queue into the output root instead

Flags:
`

// @title			dabcli control API
// @version		1.0
// @description	Local control surface for the running download or playback session.

// @contact.name	dabcli
// @license.name	MIT

// @host		127.0.0.1:8765
// @BasePath	/
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, config.Load(), os.Args[1:], os.Stdin, os.Stderr)
	stop()
	os.Exit(code)
}

type cli struct {
	cfg     *config.Config
	printer *ui.Printer
	client  *dab.Client
	stdin   io.Reader
}

func run(ctx context.Context, cfg *config.Config, argv []string, stdin io.Reader, stderr io.Writer) int {
	flags := pflag.NewFlagSet("dabcli", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.SetInterspersed(false)
	flags.StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "output root directory")
	flags.StringVarP(&cfg.OutputFormat, "format", "f", cfg.OutputFormat, "output format (flac, mp3)")
	flags.BoolVar(&cfg.TestMode, "test", cfg.TestMode, "write placeholder files instead of downloading")
	flags.StringVar(&cfg.ControlAddr, "control", cfg.ControlAddr, "serve the control API on this address")
	flags.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log every API request")
	flags.BoolVar(&cfg.ShowProgress, "progress", cfg.ShowProgress, "show the download progress bar")
	flags.Usage = func() {
		fmt.Fprint(stderr, usageText)
		flags.PrintDefaults()
	}

	if err := flags.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		return 2
	}

	printer := ui.NewPrinter(stderr, cfg.ShowProgress)
	log.SetOutput(printer)

	client := dab.NewClient(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.BaseURL, cfg.Token)
	client.SetDebug(cfg.Debug)
	client.SetCredentials(dab.Credentials{Email: cfg.Email, Password: cfg.Password}, func(email, token string) {
		if err := config.SaveCredentials(config.EnvFile, email, token); err != nil {
			log.Printf("[config] failed to save token: %v", err)
		}
	})

	c := &cli{cfg: cfg, printer: printer, client: client, stdin: stdin}

	var err error
	switch args[0] {
	case "login":
		err = c.login(ctx, args[1:])
	case "logout":
		err = config.ClearCredentials(config.EnvFile)
		if err == nil {
			printer.Line("Logged out.")
		}
	case "status":
		c.status()
	case "track":
		err = c.tracks(ctx, args[1:])
	case "album":
		err = c.album(ctx, args[1:])
	case "library":
		err = c.library(ctx, args[1:])
	case "play":
		err = c.play(ctx, args[1:])
	default:
		printer.Line("unknown command %q", args[0])
		flags.Usage()
		return 2
	}
	return exitCode(printer, err)
}

// exitCode reports err and maps it to the process exit status. An
// interrupt is a clean exit: cleanup has already run by the time the
// command returns.
func exitCode(printer *ui.Printer, err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		printer.Line("Interrupted.")
		return 0
	case errors.Is(err, dab.ErrNotLoggedIn):
		printer.Line("Not logged in. Run: dabcli login <email>")
		return 1
	default:
		printer.Line("Error: %v", err)
		return 1
	}
}

func (c *cli) login(ctx context.Context, args []string) error {
	email, password := c.cfg.Email, c.cfg.Password
	if len(args) > 0 {
		email = args[0]
	}
	if len(args) > 1 {
		password = args[1]
	}
	if email == "" {
		return errors.New("login: email required")
	}
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("login: read password: %w", err)
		}
		password = string(b)
	}

	// The client persists the token through its login callback.
	if _, err := c.client.Login(ctx, dab.Credentials{Email: email, Password: password}); err != nil {
		return err
	}
	c.printer.Line("Login successful. Token saved to %s.", config.EnvFile)
	return nil
}

func (c *cli) status() {
	c.printer.Line("=== DAB CLI Authentication Status ===")
	if c.cfg.Token == "" {
		c.printer.Line("Login status  : Not logged in")
		c.printer.Line("Token present : No")
		return
	}
	c.printer.Line("Login status  : Logged in")
	c.printer.Line("Email         : %s", maskEmail(c.cfg.Email))
	c.printer.Line("Token present : Yes")
}

func maskEmail(email string) string {
	switch {
	case email == "":
		return "(unknown)"
	case len(email) <= 8:
		return email[:min(2, len(email))] + "****"
	}
	return email[:2] + "****" + email[len(email)-6:]
}

// downloader builds the transfer stack shared by the download commands.
func (c *cli) downloader() (*app.Service, *control.State, *transfer.Session) {
	state := control.NewState()
	session := transfer.NewSession(c.client, state, transfer.Options{
		Root:           c.cfg.OutputDir,
		TestMode:       c.cfg.TestMode,
		ChunkSize:      c.cfg.ChunkSize,
		Timeout:        c.cfg.HTTPTimeout,
		RateLimit:      c.cfg.RateLimitKBps * 1024,
		CheckFreeSpace: c.cfg.CheckFreeSpace,
	})
	session.OnProgress(c.printer.Progress)

	svc := app.NewService(c.client, session, app.Options{
		OutputDir: c.cfg.OutputDir,
		Format:    c.cfg.OutputFormat,
		Quality:   c.cfg.QualityFor(c.cfg.OutputFormat),
		TestMode:  c.cfg.TestMode,
	})
	svc.OnTrack(func(i, total int, t domain.Track) {
		c.printer.Line("[%d/%d] %s - %s", i, total, t.Artist, t.Title)
	})
	return svc, state, session
}

// controls starts the keyboard listener and the control API for one
// download command and returns their shutdown func.
func (c *cli) controls(ctx context.Context, state *control.State, session *transfer.Session) func() {
	listener, stopListener := c.startListener(ctx, state)
	stopServer := c.startControlServer(listener, session.Progress(), nil)
	return func() {
		stopServer()
		stopListener()
	}
}

func (c *cli) tracks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return errors.New("track: at least one track id required")
	}
	svc, state, session := c.downloader()
	defer c.controls(ctx, state, session)()

	var failed int
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := svc.DownloadTrack(ctx, id)
		if err != nil {
			return err
		}
		c.printer.EndLine()
		c.printer.Line("%s - %s: %s", res.Track.Artist, res.Track.Title, res.Outcome)
		if res.Outcome.Kind == domain.OutcomeFailed {
			failed++
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(ids))
	}
	return nil
}

func (c *cli) album(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("album: album id or title required")
	}
	input := strings.TrimSpace(strings.Join(args, " "))
	svc, state, session := c.downloader()

	albumID := input
	if !domain.LooksLikeAlbumID(input) {
		c.printer.Line("Searching for album titled %q...", input)
		matches, err := svc.FindAlbums(ctx, input)
		if err != nil {
			return err
		}
		picked, err := c.pickAlbum(matches)
		if err != nil {
			return err
		}
		albumID = picked.ID
	}

	defer c.controls(ctx, state, session)()
	res, err := svc.DownloadAlbum(ctx, albumID)
	if err != nil {
		return err
	}
	c.summary(res)
	return ctx.Err()
}

// pickAlbum selects one search match, asking on stdin when there are
// several.
func (c *cli) pickAlbum(matches []domain.Album) (domain.Album, error) {
	switch len(matches) {
	case 0:
		return domain.Album{}, errors.New("album: no albums found")
	case 1:
		a := matches[0]
		c.printer.Line("Selected: %s by %s (ID: %s)", a.Title, a.Artist, a.ID)
		return a, nil
	}

	for i, a := range matches {
		c.printer.Line("%3d  %s - %s (%s)  %s", i+1, a.Artist, a.Title, a.Year(), a.ID)
	}
	c.printer.Line("Enter the number of the album to download:")
	line, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && line == "" {
		return domain.Album{}, fmt.Errorf("album: read selection: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(matches) {
		return domain.Album{}, fmt.Errorf("album: invalid selection %q", strings.TrimSpace(line))
	}
	return matches[n-1], nil
}

func (c *cli) library(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("library: exactly one library id required")
	}
	svc, state, session := c.downloader()
	defer c.controls(ctx, state, session)()

	res, err := svc.DownloadLibrary(ctx, args[0])
	if err != nil {
		return err
	}
	c.summary(res)
	return ctx.Err()
}

func (c *cli) summary(res *domain.BatchResult) {
	c.printer.EndLine()
	title := res.Title
	if title == "" {
		title = "Queue"
	}
	c.printer.Line("%s: %d completed, %d skipped, %d cancelled, %d failed (of %d) in %s",
		title, res.Completed, res.Skipped, res.Cancelled, res.Failed, res.Total, res.Dir)
}

func (c *cli) play(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("play", pflag.ContinueOnError)
	albumID := flags.String("album", "", "play every track of this album")
	libraryID := flags.String("library", "", "play every track of this library")
	mode := flags.String("mode", "stream", "stream through the player, or download into the output root")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *mode != "stream" && *mode != "download" {
		return fmt.Errorf("play: unknown mode %q", *mode)
	}

	tracks, err := c.queue(ctx, *albumID, *libraryID, flags.Args())
	if err != nil {
		return err
	}
	if len(tracks) == 0 && c.cfg.TestMode && (*albumID != "" || *libraryID != "") {
		return nil
	}
	if len(tracks) == 0 {
		return playlist.ErrNothingToPlay
	}

	if *mode == "download" {
		svc, state, session := c.downloader()
		defer c.controls(ctx, state, session)()
		c.summary(svc.DownloadTracks(ctx, tracks))
		return ctx.Err()
	}

	driver := playlist.NewDriver(c.client, c.printer, playlist.Options{
		Player:   c.cfg.StreamPlayer,
		Quality:  c.cfg.StreamQuality,
		TestMode: c.cfg.TestMode,
		Stdin:    os.Stdin,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
	})
	defer c.startControlServer(nil, nil, driver)()

	snap, err := driver.Play(ctx, tracks)
	if err != nil {
		return err
	}
	if snap.HasIndex() {
		c.printer.Line("Stopped at track %d/%d (%s).", snap.CurrentIndex+1, len(tracks), ui.FormatElapsed(snap.Elapsed))
	}
	return nil
}

// queue collects the tracks to play. Test mode never touches the catalog:
// bare ids are queued as-is and album or library sources are only logged.
func (c *cli) queue(ctx context.Context, albumID, libraryID string, ids []string) ([]domain.Track, error) {
	var tracks []domain.Track
	if c.cfg.TestMode {
		if albumID != "" {
			log.Printf("[player] test mode: would queue album %s", albumID)
		}
		if libraryID != "" {
			log.Printf("[player] test mode: would queue library %s", libraryID)
		}
		for _, id := range ids {
			tracks = append(tracks, domain.Track{ID: id})
		}
		return tracks, nil
	}

	if albumID != "" {
		album, err := c.client.Album(ctx, albumID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, album.Tracks...)
	}
	if libraryID != "" {
		lib, err := c.client.Library(ctx, libraryID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, lib.Tracks...)
	}
	for _, id := range ids {
		t, err := c.client.Track(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[player] skipping %s: %v", id, err)
			continue
		}
		tracks = append(tracks, *t)
	}
	return tracks, nil
}

// startListener runs the listener until the returned func is called; the
// func waits for the terminal mode to be restored. Keys are read only from
// a terminal; otherwise the listener serves control API intents alone.
func (c *cli) startListener(ctx context.Context, state *control.State) (*control.Listener, func()) {
	var in io.Reader
	if f, ok := c.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		in = f
		c.printer.Line("Press 'p' to pause/resume, 'q' to stop the current download.")
	}

	listener := control.NewListener(in, state)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := listener.Run(ctx); err != nil {
			log.Printf("[control] %v", err)
		}
	}()
	return listener, func() {
		cancel()
		<-done
	}
}

// startControlServer serves the control API when an address is configured
// and returns its shutdown func.
func (c *cli) startControlServer(xfer handler.TransferState, progress handler.ProgressSource, playback handler.PlaybackState) func() {
	if c.cfg.ControlAddr == "" {
		return func() {}
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	h := handler.NewHandler(xfer, progress, playback)
	h.RegisterRoutes(r)

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{Addr: c.cfg.ControlAddr, Handler: r}
	go func() {
		log.Printf("[control] API listening on %s (swagger: http://%s/swagger/index.html)", c.cfg.ControlAddr, c.cfg.ControlAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[control] API server failed: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[control] API shutdown: %v", err)
		}
	}
}
