package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/jpp0ca/dabcli/internal/domain"
	"github.com/jpp0ca/dabcli/internal/ports"
)

// Downloader places one track on disk. transfer.Session implements it.
type Downloader interface {
	Download(ctx context.Context, req domain.DownloadRequest) domain.Outcome
}

// Options configures a Service.
type Options struct {
	OutputDir string
	Format    string
	Quality   string
	TestMode  bool
	Tagger    ports.TagWriter // optional
}

// Service implements the track, album, library and queue download use
// cases on top of a catalog and a single-request downloader. Batch tracks
// are fetched one at a time so the pause/stop controls always address
// exactly one transfer.
type Service struct {
	catalog    ports.Catalog
	downloader Downloader
	opts       Options
	onTrack    func(index, total int, track domain.Track)
}

// NewService creates a new download service.
func NewService(catalog ports.Catalog, downloader Downloader, opts Options) *Service {
	if opts.Format == "" {
		opts.Format = "flac"
	}
	return &Service{catalog: catalog, downloader: downloader, opts: opts}
}

// OnTrack registers a callback invoked before each batch track starts.
func (s *Service) OnTrack(fn func(index, total int, track domain.Track)) {
	s.onTrack = fn
}

// LookupTrack returns track metadata. In test mode a failed lookup yields
// a bare track so the download path can still be exercised offline.
func (s *Service) LookupTrack(ctx context.Context, trackID string) (domain.Track, error) {
	t, err := s.catalog.Track(ctx, trackID)
	if err == nil {
		return *t, nil
	}
	if s.opts.TestMode {
		log.Printf("[download] test mode: metadata lookup for %s failed: %v", trackID, err)
		return domain.Track{ID: trackID}, nil
	}
	return domain.Track{}, fmt.Errorf("failed to look up track %s: %w", trackID, err)
}

func (s *Service) DownloadTrack(ctx context.Context, trackID string) (domain.TrackResult, error) {
	track, err := s.LookupTrack(ctx, trackID)
	if err != nil {
		return domain.TrackResult{}, err
	}

	log.Printf("[download] %s - %s (%s)", track.Artist, track.Title, track.ID)
	out := s.download(ctx, s.opts.OutputDir, 0, track)
	return domain.TrackResult{Track: track, Outcome: out}, nil
}

// DownloadAlbum downloads every album track into the album folder. A stop
// issued by the user cancels only the current track; a cancelled ctx ends
// the batch.
func (s *Service) DownloadAlbum(ctx context.Context, albumID string) (*domain.BatchResult, error) {
	album, err := s.catalog.Album(ctx, albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch album %s: %w", albumID, err)
	}
	if len(album.Tracks) == 0 {
		return nil, errors.New("album has no tracks")
	}

	log.Printf("[download] album %q: %d tracks", album.Title, len(album.Tracks))
	return s.batch(ctx, album.Title, s.folder(album.Title), album.Tracks, true), nil
}

// DownloadLibrary downloads every library track into the library folder.
// Library files carry no index prefix.
func (s *Service) DownloadLibrary(ctx context.Context, libraryID string) (*domain.BatchResult, error) {
	lib, err := s.catalog.Library(ctx, libraryID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch library %s: %w", libraryID, err)
	}
	if len(lib.Tracks) == 0 {
		return nil, errors.New("library has no tracks")
	}

	log.Printf("[download] library %q: %d tracks", lib.Name, len(lib.Tracks))
	return s.batch(ctx, lib.Name, s.folder(lib.Name), lib.Tracks, false), nil
}

// DownloadTracks downloads an ad-hoc queue straight into the output root.
func (s *Service) DownloadTracks(ctx context.Context, tracks []domain.Track) *domain.BatchResult {
	return s.batch(ctx, "", s.opts.OutputDir, tracks, false)
}

// FindAlbums searches the catalog for albums by title.
func (s *Service) FindAlbums(ctx context.Context, title string) ([]domain.Album, error) {
	albums, err := s.catalog.SearchAlbums(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("failed to search albums %q: %w", title, err)
	}
	return albums, nil
}

func (s *Service) folder(title string) string {
	name := domain.SanitizeFilename(fmt.Sprintf("%s [%s]", title, strings.ToUpper(s.opts.Format)))
	return filepath.Join(s.opts.OutputDir, name)
}

// batch downloads tracks one at a time into dir. Indexed batches prefix
// each file with its 1-based position.
func (s *Service) batch(ctx context.Context, title, dir string, tracks []domain.Track, indexed bool) *domain.BatchResult {
	result := &domain.BatchResult{Title: title, Dir: dir, Total: len(tracks)}

	for i, track := range tracks {
		if ctx.Err() != nil {
			log.Printf("[download] interrupted, %d tracks not attempted", result.Total-i)
			break
		}
		if s.onTrack != nil {
			s.onTrack(i+1, result.Total, track)
		}

		index := 0
		if indexed {
			index = i + 1
		}
		out := s.download(ctx, dir, index, track)
		result.Results = append(result.Results, domain.TrackResult{Track: track, Outcome: out})

		switch {
		case out.NeededNetwork():
			result.Completed++
		case out.HasFile():
			result.Skipped++
		case out.Kind == domain.OutcomeCancelled:
			result.Cancelled++
		default:
			result.Failed++
		}
	}

	log.Printf("[download] %q done: completed=%d skipped=%d cancelled=%d failed=%d",
		orQueue(title), result.Completed, result.Skipped, result.Cancelled, result.Failed)

	return result
}

func (s *Service) download(ctx context.Context, dir string, index int, track domain.Track) domain.Outcome {
	req := domain.DownloadRequest{
		TrackID: track.ID,
		Quality: s.opts.Quality,
		Dir:     dir,
		Format:  s.opts.Format,
		Index:   index,
		Artist:  track.Artist,
		Title:   track.Title,
	}

	out := s.downloader.Download(ctx, req)
	log.Printf("[download] %s: %s", track.ID, out)

	if out.Kind == domain.OutcomeCompleted && s.opts.Tagger != nil && !s.opts.TestMode {
		if err := s.opts.Tagger.Tag(ctx, out.Path, Metadata(track), ""); err != nil {
			log.Printf("[download] failed to tag %s: %v", out.Path, err)
		}
	}
	return out
}

// Metadata is the flat tag map written into a completed file.
func Metadata(t domain.Track) map[string]string {
	return map[string]string{
		"title":  t.Title,
		"artist": t.Artist,
		"album":  t.AlbumTitle,
		"genre":  t.Genre,
		"date":   t.Year(),
	}
}

func orQueue(title string) string {
	if title == "" {
		return "queue"
	}
	return title
}
