package ports

import (
	"context"

	"github.com/jpp0ca/dabcli/internal/domain"
)

// ContentSource resolves a track into a time-limited stream URL. This is the
// primary driven port: both the download path and the playlist driver
// depend on it.
type ContentSource interface {
	// StreamURL returns an HTTP(S) URL streaming the raw audio bytes of the
	// track at the requested quality tier.
	StreamURL(ctx context.Context, trackID string, quality string) (string, error)
}

// Catalog looks up track, album and library metadata.
type Catalog interface {
	// Track returns the metadata of a single track.
	Track(ctx context.Context, trackID string) (*domain.Track, error)

	// Album returns an album with its tracks in playback order.
	Album(ctx context.Context, albumID string) (*domain.Album, error)

	// SearchAlbums returns albums whose title matches, without tracks.
	SearchAlbums(ctx context.Context, title string) ([]domain.Album, error)

	// Library returns a user library with its tracks.
	Library(ctx context.Context, libraryID string) (*domain.Library, error)
}

// TagWriter embeds a flat metadata map and an optional cover image into an
// audio file.
type TagWriter interface {
	Tag(ctx context.Context, path string, metadata map[string]string, coverPath string) error
}

// TransferController is the surface a remote client uses to steer the
// active download. It only publishes intent; the keyboard listener applies
// it and the copy loop decides.
type TransferController interface {
	TogglePause(ctx context.Context) error
	Stop(ctx context.Context) error
}

// PlaybackController forwards commands to the running player, if any.
type PlaybackController interface {
	CyclePause() error
	Next() error
}
