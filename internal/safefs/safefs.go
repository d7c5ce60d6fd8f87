// Package safefs is a capability-scoped, read-only view of a directory.
//
// Every path is validated before any I/O happens. Paths may be
// percent-encoded; they are decoded first, then checked for control
// characters and finally resolved below the root (following symlinks).
// Rejections are typed errors and are permanent: retrying the same path
// can never succeed.
package safefs

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// PathTraversalError is returned when a path would escape the root.
type PathTraversalError struct {
	Path string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("safefs: path traversal not allowed: %q", e.Path)
}

// IllegalCharacterInPathError is returned for paths containing control
// characters.
type IllegalCharacterInPathError struct {
	Path string
	Char rune
}

func (e *IllegalCharacterInPathError) Error() string {
	return fmt.Sprintf("safefs: illegal character %U in path %q", e.Char, e.Path)
}

// FailedToDecodePathError is returned for malformed percent-encoding.
type FailedToDecodePathError struct {
	Path string
	Err  error
}

func (e *FailedToDecodePathError) Error() string {
	return fmt.Sprintf("safefs: failed to decode path %q: %v", e.Path, e.Err)
}

func (e *FailedToDecodePathError) Unwrap() error {
	return e.Err
}

// IsRejection reports whether err is one of the permanent path rejections.
func IsRejection(err error) bool {
	var (
		traversal *PathTraversalError
		illegal   *IllegalCharacterInPathError
		decode    *FailedToDecodePathError
	)
	return errors.As(err, &traversal) || errors.As(err, &illegal) || errors.As(err, &decode)
}

// Entry is one item returned by ListDir. Path is slash separated and
// relative to the listed directory.
type Entry struct {
	Path  string
	IsDir bool
	Size  int64
}

// FS provides read-only helpers that resolve paths relative to a fixed root.
type FS struct {
	absRoot string // absolute root with symlinks resolved
}

// New locks all future operations to the given root directory.
func New(root string) (*FS, error) {
	if root == "" {
		return nil, errors.New("safefs: empty root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("safefs: root is not a directory")
	}
	return &FS{absRoot: abs}, nil
}

// Root returns the absolute root directory.
func (s *FS) Root() string {
	return s.absRoot
}

// Read returns the content of a file below the root.
func (s *FS) Read(userPath string) ([]byte, error) {
	p, err := s.resolve(userPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("safefs: %q is a directory", userPath)
	}
	return os.ReadFile(p)
}

// Stat returns metadata for a file or directory below the root.
func (s *FS) Stat(userPath string) (fs.FileInfo, error) {
	p, err := s.resolve(userPath)
	if err != nil {
		return nil, err
	}
	return os.Stat(p)
}

// ListDir lists a directory below the root. With recursive set, files of
// nested directories are included and directories themselves are omitted.
// Entries are sorted by path.
func (s *FS) ListDir(userPath string, recursive bool) ([]Entry, error) {
	dir, err := s.resolve(userPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("safefs: %q is not a directory", userPath)
	}

	var entries []Entry
	if !recursive {
		items, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			e := Entry{Path: item.Name(), IsDir: item.IsDir()}
			if fi, err := item.Info(); err == nil && !item.IsDir() {
				e.Size = fi.Size()
			}
			entries = append(entries, e)
		}
		return entries, nil
	}

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		e := Entry{Path: filepath.ToSlash(rel)}
		if fi, err := d.Info(); err == nil {
			e.Size = fi.Size()
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Check validates a path without touching the filesystem.
func Check(userPath string) (string, error) {
	decoded, err := url.PathUnescape(userPath)
	if err != nil {
		return "", &FailedToDecodePathError{Path: userPath, Err: err}
	}
	for _, r := range decoded {
		if r < 0x20 || r == 0x7f {
			return "", &IllegalCharacterInPathError{Path: userPath, Char: r}
		}
	}
	slashed := filepath.ToSlash(decoded)
	if filepath.IsAbs(decoded) || strings.HasPrefix(slashed, "/") || escapes(slashed) {
		return "", &PathTraversalError{Path: userPath}
	}
	return strings.TrimPrefix(path.Clean("/"+slashed), "/"), nil
}

// escapes reports whether a relative slash path climbs above its start.
func escapes(p string) bool {
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

func (s *FS) resolve(userPath string) (string, error) {
	rel, err := Check(userPath)
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" && filepath.VolumeName(rel) != "" {
		return "", &PathTraversalError{Path: userPath}
	}
	if rel == "" {
		return s.absRoot, nil
	}

	joined := filepath.Join(s.absRoot, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}
	if !hasPathPrefix(resolved, s.absRoot) {
		return "", &PathTraversalError{Path: userPath}
	}
	return resolved, nil
}

func hasPathPrefix(p, root string) bool {
	p = filepath.Clean(p)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		p = strings.ToLower(p)
		root = strings.ToLower(root)
	}
	if p == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(p+sep, root)
}
