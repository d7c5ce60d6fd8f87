package loader

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// DefaultRef is the ref used when a RemoteIdentifier does not name one.
const DefaultRef = "HEAD"

// Providers of git hosted modules.
const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// RemoteIdentifier addresses a file in a git hosted repository.
type RemoteIdentifier struct {
	Provider string
	Owner    string
	Repo     string
	Ref      string
	// Path is a slash separated path relative to the repository root. It
	// may be empty.
	Path string
}

// IsRemote reports whether s uses a git provider scheme.
func IsRemote(s string) bool {
	scheme, _, ok := strings.Cut(s, "://")
	return ok && (scheme == ProviderGitHub || scheme == ProviderGitLab)
}

// ParseRemote parses "<provider>://<owner>/<repo>?ref=<ref>&path=<path>".
func ParseRemote(s string) (RemoteIdentifier, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return RemoteIdentifier{}, fmt.Errorf("%w %q: %v", ErrInvalidRemoteIdentifier, s, err)
	}
	if u.Scheme != ProviderGitHub && u.Scheme != ProviderGitLab {
		return RemoteIdentifier{}, fmt.Errorf("%w %q: unknown provider '%s'", ErrInvalidRemoteIdentifier, s, u.Scheme)
	}
	repo := strings.Trim(u.Path, "/")
	if u.Host == "" || repo == "" || strings.Contains(repo, "/") {
		return RemoteIdentifier{}, fmt.Errorf("%w %q: expected '%s://<owner>/<repo>'", ErrInvalidRemoteIdentifier, s, u.Scheme)
	}
	q := u.Query()
	for k := range q {
		if k != "ref" && k != "path" {
			return RemoteIdentifier{}, fmt.Errorf("%w %q: unknown parameter '%s'", ErrInvalidRemoteIdentifier, s, k)
		}
	}

	id := RemoteIdentifier{
		Provider: u.Scheme,
		Owner:    u.Host,
		Repo:     repo,
		Ref:      q.Get("ref"),
		Path:     q.Get("path"),
	}
	if id.Ref == "" {
		id.Ref = DefaultRef
	}
	if id.Path, err = cleanRepoPath(id.Path); err != nil {
		return RemoteIdentifier{}, fmt.Errorf("%w %q: %v", ErrInvalidRemoteIdentifier, s, err)
	}
	return id, nil
}

// String returns the canonical identifier form. ParseRemote(id.String())
// yields id for every valid identifier.
func (id RemoteIdentifier) String() string {
	ref := id.Ref
	if ref == "" {
		ref = DefaultRef
	}
	return fmt.Sprintf("%s://%s/%s?ref=%s&path=%s",
		id.Provider, id.Owner, id.Repo, url.QueryEscape(ref), queryEscapePath(id.Path))
}

// Dir returns the logical directory of the identified file.
func (id RemoteIdentifier) Dir() string {
	d := path.Dir(id.Path)
	if d == "." {
		return ""
	}
	return d
}

// WithPath returns a copy of id addressing another file of the same
// repository and ref.
func (id RemoteIdentifier) WithPath(p string) RemoteIdentifier {
	id.Path = p
	return id
}

// RawURL returns the URL serving the raw file content.
func (id RemoteIdentifier) RawURL(githubBase, gitlabBase string) string {
	ref := url.PathEscape(id.Ref)
	switch id.Provider {
	case ProviderGitLab:
		return fmt.Sprintf("%s/%s/%s/-/raw/%s/%s", strings.TrimSuffix(gitlabBase, "/"), id.Owner, id.Repo, ref, escapePath(id.Path))
	default:
		return fmt.Sprintf("%s/%s/%s/%s/%s", strings.TrimSuffix(githubBase, "/"), id.Owner, id.Repo, ref, escapePath(id.Path))
	}
}

// cleanRepoPath normalises a repository path and rejects paths leaving
// the repository.
func cleanRepoPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean("/" + p)
	if strings.Contains(p, "\\") {
		return "", fmt.Errorf("path %q must use forward slashes", p)
	}
	for _, seg := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if seg == ".." {
			return "", fmt.Errorf("path %q leaves the repository", p)
		}
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

func queryEscapePath(p string) string {
	return strings.ReplaceAll(url.QueryEscape(p), "%2F", "/")
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
