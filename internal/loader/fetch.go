package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/safefs"
)

// Fetcher retrieves the raw source of a module. A missing module is
// reported with an error wrapping ErrModuleNotFound or ErrRemoteNotFound.
type Fetcher interface {
	Fetch(ctx context.Context, loc Location) ([]byte, error)
}

// localFetcher reads modules below the loader root.
type localFetcher struct {
	fs      *safefs.FS
	maxSize int64
}

func (f *localFetcher) Fetch(ctx context.Context, loc Location) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// loc.Path is already decoded; re-escape it so safefs decodes it exactly once.
	name := escapePath(loc.Path)
	info, err := f.fs.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, loc.Path)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrModuleNotFound, loc.Path)
	}
	if f.maxSize > 0 && info.Size() > f.maxSize {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrModuleTooLarge, loc.Path, info.Size())
	}
	return f.fs.Read(name)
}

// httpFetcher retrieves remote identifiers from the raw file endpoints of
// their provider, and URL locations as they are.
type httpFetcher struct {
	client        *http.Client
	githubBaseURL string
	gitlabBaseURL string
	githubToken   string
	gitlabToken   string
	maxSize       int64
}

func (f *httpFetcher) Fetch(ctx context.Context, loc Location) ([]byte, error) {
	target := loc.URL
	if loc.Kind == RemoteLocation {
		target = loc.Remote.RawURL(f.githubBaseURL, f.gitlabBaseURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", loc, err)
	}
	if loc.Kind == RemoteLocation {
		switch loc.Remote.Provider {
		case ProviderGitHub:
			if f.githubToken != "" {
				req.Header.Set("Authorization", "Bearer "+f.githubToken)
			}
		case ProviderGitLab:
			if f.gitlabToken != "" {
				req.Header.Set("PRIVATE-TOKEN", f.gitlabToken)
			}
		}
	}

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Fetching remote module.", "location", loc.String(), "url", target)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", loc, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrRemoteNotFound, loc)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %s", loc, resp.Status)
	}

	body := io.Reader(resp.Body)
	if f.maxSize > 0 {
		body = io.LimitReader(resp.Body, f.maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", loc, err)
	}
	if f.maxSize > 0 && int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("%w: %s", ErrModuleTooLarge, loc)
	}
	return data, nil
}

// routingFetcher dispatches on the location kind and memoises remote
// fetches. Local modules are always read fresh.
type routingFetcher struct {
	local  Fetcher
	remote Fetcher
	cache  *lru.Cache[string, []byte]
}

func (f *routingFetcher) Fetch(ctx context.Context, loc Location) ([]byte, error) {
	if loc.Kind == LocalLocation {
		if f.local == nil {
			return nil, fmt.Errorf("%w: %s (no local root configured)", ErrModuleNotFound, loc)
		}
		return f.local.Fetch(ctx, loc)
	}
	key := loc.String()
	if data, ok := f.cache.Get(key); ok {
		ctxlog.FromContext(ctx).Debug("Remote module served from resolution cache.", "location", key)
		return data, nil
	}
	data, err := f.remote.Fetch(ctx, loc)
	if err != nil {
		return nil, err
	}
	f.cache.Add(key, data)
	return data, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrModuleNotFound) || errors.Is(err, ErrRemoteNotFound)
}
