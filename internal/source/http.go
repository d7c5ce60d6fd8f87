package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vk/pipegrid/internal/pipeline"
)

// HTTPConfig configures an HTTP backend.
type HTTPConfig struct {
	// BaseURL is the URL below which "<version>/<path>" is served.
	BaseURL string
	// Files is a static manifest of paths available for every version.
	Files []string
	// Listing is an optional path, relative to each version, of a JSON
	// array of file paths.
	Listing string
	Headers map[string]string
	Client  *http.Client
}

// HTTP fetches files from a plain HTTP endpoint. Without a manifest or a
// listing document it is fetch-only.
type HTTP struct {
	base    *url.URL
	files   []string
	listing string
	headers map[string]string
	client  *http.Client
}

// NewHTTP validates cfg and creates the backend.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("source: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("source: base url must be http or https, got %q", cfg.BaseURL)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		base:    base,
		files:   cfg.Files,
		listing: cfg.Listing,
		headers: cfg.Headers,
		client:  client,
	}, nil
}

func (h *HTTP) url(version, p string) string {
	return h.base.JoinPath(version, p).String()
}

func (h *HTTP) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build request: %w", err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: %s %s: %w", method, target, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("source: %s %s: unexpected status %s", method, target, resp.Status)
	}
	return resp, nil
}

func (h *HTTP) ListFiles(ctx context.Context, version string) ([]pipeline.FileContext, error) {
	var paths []string
	switch {
	case len(h.files) > 0:
		paths = h.files
	case h.listing != "":
		resp, err := h.do(ctx, http.MethodGet, h.url(version, h.listing))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&paths); err != nil {
			return nil, fmt.Errorf("source: decode listing for %s: %w", version, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrListingUnsupported, h.base)
	}

	files := make([]pipeline.FileContext, 0, len(paths))
	for _, p := range paths {
		files = append(files, pipeline.NewFileContext(version, p))
	}
	return files, nil
}

func (h *HTTP) ReadFile(ctx context.Context, file pipeline.FileContext) (string, error) {
	resp, err := h.do(ctx, http.MethodGet, h.url(file.Version, file.Path))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("source: read %s: %w", file, err)
	}
	return string(data), nil
}

func (h *HTTP) GetMetadata(ctx context.Context, file pipeline.FileContext) (pipeline.Metadata, error) {
	resp, err := h.do(ctx, http.MethodHead, h.url(file.Version, file.Path))
	if err != nil {
		return pipeline.Metadata{}, err
	}
	resp.Body.Close()

	md := pipeline.Metadata{Size: resp.ContentLength}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			t = t.In(time.UTC)
			md.LastModified = &t
		}
	}
	return md, nil
}
