package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jpp0ca/dabcli/internal/domain"
)

// errStopWalk ends the output-root walk after the first candidate.
var errStopWalk = errors.New("stop walk")

// Resolution describes what the resolver found for a request.
type Resolution struct {
	Kind   domain.OutcomeKind // AlreadyPresent, Linked, or empty for no match
	Path   string
	Method domain.LinkMethod
	Source string
}

// Found reports whether the resolver satisfied the request.
func (r Resolution) Found() bool {
	return r.Kind != ""
}

// Resolver reuses an already-downloaded copy of a track instead of
// fetching it again.
type Resolver struct {
	root    string
	link    func(oldname, newname string) error
	symlink func(oldname, newname string) error
	rename  func(oldpath, newpath string) error
}

// NewResolver creates a resolver searching root for cross-tree matches.
func NewResolver(root string) *Resolver {
	return &Resolver{
		root:    root,
		link:    os.Link,
		symlink: os.Symlink,
		rename:  os.Rename,
	}
}

// Resolve looks for an existing body for dest. The first success wins:
// an entry already at dest, a same-directory file carrying the identity
// suffix (renamed into place), then a regular file anywhere under the root
// (hard-linked, or symlinked when hard links are refused). When both link
// attempts fail for the first cross-tree candidate the search stops and an
// empty resolution is returned.
func (r *Resolver) Resolve(dest, suffix string) (Resolution, error) {
	if _, err := os.Lstat(dest); err == nil {
		return Resolution{Kind: domain.OutcomeAlreadyPresent, Path: dest}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Resolution{}, fmt.Errorf("dedup: stat %s: %w", dest, err)
	}

	dir := filepath.Dir(dest)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Resolution{}, fmt.Errorf("dedup: read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		src := filepath.Join(dir, e.Name())
		if err := r.rename(src, dest); err != nil {
			return Resolution{}, fmt.Errorf("dedup: rename %s: %w", src, err)
		}
		log.Printf("[dedup] renamed existing file %s -> %s", src, dest)
		return Resolution{Kind: domain.OutcomeLinked, Path: dest, Method: domain.LinkRenamed, Source: src}, nil
	}

	if r.root == "" {
		return Resolution{}, nil
	}

	// WalkDir does not descend into a symlinked root.
	root, err := filepath.EvalSymlinks(r.root)
	if errors.Is(err, fs.ErrNotExist) {
		return Resolution{}, nil
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("dedup: resolve root %s: %w", r.root, err)
	}

	var res Resolution
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			return nil
		}
		if !d.Type().IsRegular() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		// Report paths under the configured root, not its link target.
		src := path
		if rel, err := filepath.Rel(root, path); err == nil {
			src = filepath.Join(r.root, rel)
		}
		if src == dest {
			return nil
		}
		res = r.linkInto(src, dest)
		return errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return Resolution{}, fmt.Errorf("dedup: walk %s: %w", r.root, err)
	}
	return res, nil
}

func (r *Resolver) linkInto(src, dest string) Resolution {
	err := r.link(src, dest)
	if err == nil {
		log.Printf("[dedup] hard-linked %s -> %s", src, dest)
		return Resolution{Kind: domain.OutcomeLinked, Path: dest, Method: domain.LinkHardLink, Source: src}
	}

	target, absErr := filepath.Abs(src)
	if absErr != nil {
		target = src
	}
	if err := r.symlink(target, dest); err != nil {
		log.Printf("[dedup] failed to link existing file %s: %v", src, err)
		return Resolution{}
	}
	log.Printf("[dedup] symlinked %s -> %s", target, dest)
	return Resolution{Kind: domain.OutcomeLinked, Path: dest, Method: domain.LinkSymlink, Source: src}
}
