package domain

import (
	"fmt"
	"strings"
)

// Track represents a catalog track with the display metadata used for file
// naming, tagging and the now-playing block.
type Track struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	AlbumTitle  string `json:"albumTitle,omitempty"`
	Genre       string `json:"genre,omitempty"`
	ReleaseDate string `json:"releaseDate,omitempty"`
	AlbumCover  string `json:"albumCover,omitempty"`
}

// Year returns the first four characters of the release date, if any.
func (t Track) Year() string {
	if len(t.ReleaseDate) < 4 {
		return t.ReleaseDate
	}
	return t.ReleaseDate[:4]
}

// Album is an ordered collection of tracks. Search results carry no tracks.
type Album struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist,omitempty"`
	ReleaseDate string  `json:"releaseDate,omitempty"`
	Tracks      []Track `json:"tracks"`
}

// Year returns the first four characters of the release date, if any.
func (a Album) Year() string {
	return Track{ReleaseDate: a.ReleaseDate}.Year()
}

// Library is a user-curated track list.
type Library struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Tracks []Track `json:"tracks"`
}

// LooksLikeAlbumID reports whether s is an album identifier rather than a
// title to search for.
func LooksLikeAlbumID(s string) bool {
	return strings.HasPrefix(s, "al") && len(s) > 5
}

// DownloadRequest contains everything needed to place one track on disk.
// Index is the 1-based position inside an album; zero means no index prefix.
type DownloadRequest struct {
	TrackID string `json:"track_id"`
	Quality string `json:"quality"`
	Dir     string `json:"dir"`
	Format  string `json:"format"`
	Index   int    `json:"index,omitempty"`
	Artist  string `json:"artist,omitempty"`
	Title   string `json:"title,omitempty"`
}

// IdentitySuffix is the trailing filename fragment shared by every copy of
// the same logical track.
func (r DownloadRequest) IdentitySuffix() string {
	return fmt.Sprintf(" - %s.%s", r.TrackID, r.Format)
}

// FileName is the sanitized canonical filename for the request.
func (r DownloadRequest) FileName() string {
	parts := []string{
		truncate(orDefault(r.Artist, "unknown"), maxNamePart),
		truncate(orDefault(r.Title, "untitled"), maxNamePart),
		r.TrackID,
	}
	name := strings.Join(parts, " - ") + "." + r.Format
	if r.Index > 0 {
		name = fmt.Sprintf("%02d - %s", r.Index, name)
	}
	return SanitizeFilename(name)
}

// OutcomeKind classifies how a download request finished.
type OutcomeKind string

const (
	OutcomeAlreadyPresent OutcomeKind = "already_present"
	OutcomeLinked         OutcomeKind = "linked"
	OutcomeCompleted      OutcomeKind = "completed"
	OutcomeCancelled      OutcomeKind = "cancelled"
	OutcomeFailed         OutcomeKind = "failed"
)

// LinkMethod records how an existing file was reused.
type LinkMethod string

const (
	LinkRenamed  LinkMethod = "renamed"
	LinkHardLink LinkMethod = "hardlink"
	LinkSymlink  LinkMethod = "symlink"
)

// Outcome is the typed result of a single download request. Exactly one is
// produced per request.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Path   string      `json:"path,omitempty"`
	Method LinkMethod  `json:"method,omitempty"`
	Source string      `json:"source,omitempty"`
	Bytes  int64       `json:"bytes,omitempty"`
	Err    error       `json:"-"`
}

// HasFile reports whether the outcome left a usable file at Path.
func (o Outcome) HasFile() bool {
	switch o.Kind {
	case OutcomeAlreadyPresent, OutcomeLinked, OutcomeCompleted:
		return true
	}
	return false
}

// NeededNetwork reports whether the file was freshly fetched.
func (o Outcome) NeededNetwork() bool {
	return o.Kind == OutcomeCompleted
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeLinked:
		return fmt.Sprintf("%s (%s from %s): %s", o.Kind, o.Method, o.Source, o.Path)
	case OutcomeFailed:
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	case OutcomeCancelled:
		return string(o.Kind)
	}
	return fmt.Sprintf("%s: %s", o.Kind, o.Path)
}

// BatchResult summarizes a sequence of download requests.
type BatchResult struct {
	Title     string        `json:"title,omitempty"`
	Dir       string        `json:"dir"`
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Skipped   int           `json:"skipped"`
	Cancelled int           `json:"cancelled"`
	Failed    int           `json:"failed"`
	Results   []TrackResult `json:"results"`
}

// TrackResult pairs a track with the outcome of downloading it.
type TrackResult struct {
	Track   Track   `json:"track"`
	Outcome Outcome `json:"outcome"`
}
