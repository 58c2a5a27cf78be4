// Package ui renders the terminal output of the client: the download
// progress bar, the now-playing block and the elapsed-time line.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/jpp0ca/dabcli/internal/domain"
	"github.com/jpp0ca/dabcli/internal/ipc"
	"github.com/jpp0ca/dabcli/internal/transfer"
)

const redrawInterval = 100 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Faint(true)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Printer serializes all terminal output. Progress lines are redrawn in
// place with a carriage return.
type Printer struct {
	mu         sync.Mutex
	w          io.Writer
	bar        progress.Model
	showBar    bool
	inLine     bool
	lastRedraw time.Time
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, showProgress bool) *Printer {
	return &Printer{
		w:       w,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		showBar: showProgress,
	}
}

// Progress redraws the download bar, at most every redrawInterval except
// for the final chunk.
func (p *Printer) Progress(s transfer.ProgressSnapshot) {
	if !p.showBar {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	final := s.Total > 0 && s.Written >= s.Total
	if !final && time.Since(p.lastRedraw) < redrawInterval {
		return
	}
	p.lastRedraw = time.Now()

	var line string
	if s.Total > 0 {
		line = fmt.Sprintf("%s %s / %s", p.bar.ViewAs(s.Fraction()), FormatBytes(s.Written), FormatBytes(s.Total))
	} else {
		line = "Downloading " + FormatBytes(s.Written)
	}
	fmt.Fprintf(p.w, "\r%s", line)
	p.inLine = true
}

// Line prints a full line, terminating any in-place progress line first.
func (p *Printer) Line(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakLine()
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Write implements io.Writer so the standard logger can share the
// terminal with in-place lines.
func (p *Printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakLine()
	return p.w.Write(b)
}

// EndLine terminates an in-place line, if one is open.
func (p *Printer) EndLine() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakLine()
}

// Resolving shows the stream-URL resolution counter.
func (p *Printer) Resolving(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\rResolving stream URLs %d/%d", done, total)
	p.inLine = true
}

// NowPlaying prints the metadata block of the track that just started.
func (p *Printer) NowPlaying(index, total int, t domain.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakLine()
	fmt.Fprintln(p.w, RenderNowPlaying(index, total, t))
}

// Elapsed redraws the playback clock line.
func (p *Printer) Elapsed(s ipc.PlaybackSnapshot, t domain.Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	icon := "▶"
	if s.Paused {
		icon = "⏸"
	}
	fmt.Fprintf(p.w, "\r%s %s  %s", icon, FormatElapsed(s.Elapsed), t.Title)
	p.inLine = true
}

func (p *Printer) breakLine() {
	if p.inLine {
		fmt.Fprintln(p.w)
		p.inLine = false
	}
}

// RenderNowPlaying formats the now-playing block.
func RenderNowPlaying(index, total int, t domain.Track) string {
	rows := []string{
		titleStyle.Render(fmt.Sprintf("Now Playing (%d/%d)", index+1, total)),
		labelStyle.Render("Title : ") + orDash(t.Title),
		labelStyle.Render("Artist: ") + orDash(t.Artist),
		labelStyle.Render("Album : ") + orDash(t.AlbumTitle),
		labelStyle.Render("Year  : ") + orDash(t.Year()),
		labelStyle.Render("Genre : ") + orDash(t.Genre),
	}
	return boxStyle.Render(strings.Join(rows, "\n"))
}

// FormatElapsed renders seconds as mm:ss, or h:mm:ss past an hour.
func FormatElapsed(sec int) string {
	if sec < 0 {
		sec = 0
	}
	h, m, s := sec/3600, (sec/60)%60, sec%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}
