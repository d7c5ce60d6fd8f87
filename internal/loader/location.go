package loader

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/vk/pipegrid/internal/safefs"
)

// Module source extensions, in candidate order.
var sourceExtensions = []string{".hcl", ".hcl.json"}

// LocationKind tells where a module lives.
type LocationKind int

const (
	LocalLocation LocationKind = iota
	RemoteLocation
	URLLocation
)

// Location is the resolved address of one module.
type Location struct {
	Kind LocationKind
	// Path is the slash separated path below the loader root for local
	// modules.
	Path   string
	Remote RemoteIdentifier
	URL    string
}

// String returns the canonical form used for de-duplication and in error
// messages.
func (l Location) String() string {
	switch l.Kind {
	case RemoteLocation:
		return l.Remote.String()
	case URLLocation:
		return l.URL
	default:
		return l.Path
	}
}

// filePath returns the path of the module file within its namespace.
func (l Location) filePath() string {
	switch l.Kind {
	case RemoteLocation:
		return l.Remote.Path
	case URLLocation:
		u, err := url.Parse(l.URL)
		if err != nil {
			return ""
		}
		return u.Path
	default:
		return l.Path
	}
}

// IsJSON reports whether the module uses the JSON syntax.
func (l Location) IsJSON() bool {
	return strings.HasSuffix(l.filePath(), ".json")
}

func (l Location) withPath(p string) Location {
	switch l.Kind {
	case RemoteLocation:
		l.Remote = l.Remote.WithPath(p)
	case URLLocation:
		u, _ := url.Parse(l.URL)
		u.Path = p
		u.RawPath = ""
		l.URL = u.String()
	default:
		l.Path = p
	}
	return l
}

func isRelative(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		strings.HasPrefix(spec, "/") || spec == "." || spec == ".."
}

func isURL(spec string) bool {
	return strings.HasPrefix(spec, "https://") || strings.HasPrefix(spec, "http://")
}

// Resolve turns an import specifier found in the module at importer into
// the ordered list of locations to try.
func Resolve(importer Location, spec string) ([]Location, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case IsRemote(spec):
		id, err := ParseRemote(spec)
		if err != nil {
			return nil, err
		}
		return candidates(Location{Kind: RemoteLocation, Remote: id}), nil
	case isURL(spec):
		u, err := url.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedSpecifier, err)
		}
		return candidates(Location{Kind: URLLocation, URL: u.String()}), nil
	case !isRelative(spec):
		return nil, fmt.Errorf("%w: '%s' must be relative ('./', '../', '/'), a remote identifier or a URL", ErrUnsupportedSpecifier, spec)
	}

	var joined string
	if strings.HasPrefix(spec, "/") {
		joined = spec
	} else {
		joined = path.Join("/", path.Dir(importer.filePath()), spec)
	}

	switch importer.Kind {
	case RemoteLocation:
		p, err := cleanRepoPath(strings.TrimPrefix(joined, "/"))
		if err != nil || escapesRoot(importer.filePath(), spec) {
			return nil, fmt.Errorf("%w: '%s' leaves the repository of %s", ErrUnsupportedSpecifier, spec, importer)
		}
		return candidates(importer.withPath(p)), nil
	case URLLocation:
		base, err := url.Parse(importer.URL)
		if err != nil {
			return nil, err
		}
		ref, err := url.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedSpecifier, err)
		}
		return candidates(Location{Kind: URLLocation, URL: base.ResolveReference(ref).String()}), nil
	default:
		if escapesRoot(importer.filePath(), spec) {
			return nil, &safefs.PathTraversalError{Path: spec}
		}
		// Local paths are stored decoded, so the importer's directory is
		// escaped again before the specifier is joined onto it.
		if !strings.HasPrefix(spec, "/") {
			joined = path.Join("/", escapePath(path.Dir(importer.filePath())), spec)
		}
		p, err := safefs.Check(strings.TrimPrefix(joined, "/"))
		if err != nil {
			return nil, err
		}
		return candidates(Location{Kind: LocalLocation, Path: p}), nil
	}
}

// escapesRoot reports whether spec, taken relative to the directory of
// file, climbs above the namespace root.
func escapesRoot(file, spec string) bool {
	if strings.HasPrefix(spec, "/") {
		return strings.HasPrefix(path.Clean(spec), "/..")
	}
	dir := path.Dir(file)
	if dir == "." {
		dir = ""
	}
	depth := 0
	for _, seg := range strings.Split(dir+"/"+spec, "/") {
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

// candidates expands a location lacking a module extension into the
// extension and index variants, in fixed order.
func candidates(l Location) []Location {
	p := l.filePath()
	for _, ext := range sourceExtensions {
		if strings.HasSuffix(p, ext) {
			return []Location{l}
		}
	}
	trimmed := strings.TrimSuffix(p, "/")
	var out []Location
	if trimmed != "" && !strings.HasSuffix(p, "/") {
		for _, ext := range sourceExtensions {
			out = append(out, l.withPath(trimmed+ext))
		}
	}
	index := "index"
	if trimmed != "" {
		index = trimmed + "/index"
	}
	if l.Kind == URLLocation && !strings.HasPrefix(index, "/") {
		index = "/" + index
	}
	for _, ext := range sourceExtensions {
		out = append(out, l.withPath(index+ext))
	}
	return out
}
