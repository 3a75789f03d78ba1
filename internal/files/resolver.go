package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cdnbox/internal/security"
)

// Kind classifies what a request path resolved to
type Kind int

const (
	KindNotFound Kind = iota
	KindListing
	KindFile
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindListing:
		return "listing"
	case KindFile:
		return "file"
	case KindForbidden:
		return "forbidden"
	default:
		return "not_found"
	}
}

// Entry is one child of a listed directory
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Resolution is the outcome of resolving a request path
type Resolution struct {
	Kind Kind

	// RequestPath is the path as requested, used for listing titles and links
	RequestPath string

	// Location is the filesystem path inside the root. Empty when forbidden.
	Location string

	// Entries holds the visible children, set for KindListing
	Entries []Entry

	// Info describes the file, set for KindFile
	Info fs.FileInfo
}

// Resolver maps request paths onto a sandboxed root directory
type Resolver struct {
	Root string
}

// NewResolver creates a resolver for root, which must be an existing
// absolute directory.
func NewResolver(root string) (*Resolver, error) {
	clean, err := security.SanitizePath(root)
	if err != nil {
		return nil, fmt.Errorf("invalid data dir: %w", err)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("invalid data dir: %s is not a directory", clean)
	}
	return &Resolver{Root: clean}, nil
}

// Normalize strips leading slashes and cleans requestPath lexically. ok is
// false when the path contains a parent reference, either as a raw segment
// or anywhere in the cleaned form. The root itself normalizes to ".".
func Normalize(requestPath string) (string, bool) {
	trimmed := strings.TrimLeft(requestPath, "/")
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", false
		}
	}

	clean := path.Clean(trimmed)
	if strings.Contains(clean, "..") {
		return "", false
	}
	return clean, true
}

// Resolve classifies requestPath. The error is non-nil only for unexpected
// I/O failures while reading a directory.
func (r *Resolver) Resolve(requestPath string) (*Resolution, error) {
	res := &Resolution{Kind: KindNotFound, RequestPath: requestPath}

	clean, ok := Normalize(requestPath)
	if !ok {
		res.Kind = KindForbidden
		return res, nil
	}

	location := r.Root
	if clean != "." {
		location = filepath.Join(r.Root, filepath.FromSlash(clean))
	}

	info, err := os.Stat(location)
	if err != nil {
		return res, nil
	}

	if _, err := security.ContainedPath(r.Root, location); err != nil {
		if errors.Is(err, security.ErrOutsideRoot) {
			res.Kind = KindForbidden
		}
		return res, nil
	}

	res.Location = location

	switch {
	case info.IsDir():
		entries, err := r.readDir(location)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", requestPath, err)
		}
		res.Kind = KindListing
		res.Entries = VisibleEntries(entries)
	case info.Mode().IsRegular():
		res.Kind = KindFile
		res.Info = info
	}

	return res, nil
}

// readDir stats every child, following symlinks. Children that are neither
// directories nor regular files, and symlinks leading out of the root, are
// dropped.
func (r *Resolver) readDir(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		full := filepath.Join(dir, de.Name())

		if de.Type()&fs.ModeSymlink != 0 {
			if _, err := security.ContainedPath(r.Root, full); err != nil {
				continue
			}
		}

		info, err := os.Stat(full)
		if err != nil {
			continue
		}

		switch {
		case info.IsDir():
			entries = append(entries, Entry{Name: de.Name(), IsDir: true, ModTime: info.ModTime()})
		case info.Mode().IsRegular():
			entries = append(entries, Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()})
		}
	}

	return entries, nil
}

// VisibleEntries drops hidden names and orders directories before files,
// each group sorted by name. The input is not modified.
func VisibleEntries(entries []Entry) []Entry {
	visible := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name, ".") {
			continue
		}
		visible = append(visible, e)
	}

	sort.SliceStable(visible, func(i, j int) bool {
		if visible[i].IsDir != visible[j].IsDir {
			return visible[i].IsDir
		}
		return visible[i].Name < visible[j].Name
	})

	return visible
}
