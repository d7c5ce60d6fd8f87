package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/safefs"
)

var _ pipeline.Backend = (*Memory)(nil)
var _ pipeline.Backend = (*Local)(nil)
var _ pipeline.Backend = (*HTTP)(nil)
var _ pipeline.Backend = (*S3)(nil)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(map[string]string{
		"16.0.0/UnicodeData.txt":          "0041;A\n",
		"16.0.0/extracted/DerivedAge.txt": "age",
		"15.1.0/UnicodeData.txt":          "old",
	})

	files, err := m.ListFiles(ctx, "16.0.0")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "UnicodeData.txt", files[0].Path)
	assert.Equal(t, "extracted", files[1].Dir)

	content, err := m.ReadFile(ctx, files[0])
	require.NoError(t, err)
	assert.Equal(t, "0041;A\n", content)

	md, err := m.GetMetadata(ctx, files[0])
	require.NoError(t, err)
	assert.Equal(t, int64(7), md.Size)
	assert.NotNil(t, md.LastModified)

	_, err = m.ReadFile(ctx, pipeline.NewFileContext("16.0.0", "missing.txt"))
	assert.ErrorIs(t, err, ErrNotFound)

	m.Put("17.0.0", "UnicodeData.txt", "new")
	files, err = m.ListFiles(ctx, "17.0.0")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.ReadFile(cancelled, files[0])
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "16.0.0", "emoji"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "16.0.0", "UnicodeData.txt"), []byte("0041;A\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "16.0.0", "emoji", "emoji-data.txt"), []byte("e"), 0o644))

	l, err := NewLocal(root)
	require.NoError(t, err)

	files, err := l.ListFiles(ctx, "16.0.0")
	require.NoError(t, err)
	assert.Equal(t, []pipeline.FileContext{
		{Version: "16.0.0", Dir: "", Path: "UnicodeData.txt", Name: "UnicodeData.txt", Ext: ".txt"},
		{Version: "16.0.0", Dir: "emoji", Path: "emoji/emoji-data.txt", Name: "emoji-data.txt", Ext: ".txt"},
	}, files)

	content, err := l.ReadFile(ctx, files[0])
	require.NoError(t, err)
	assert.Equal(t, "0041;A\n", content)

	md, err := l.GetMetadata(ctx, files[1])
	require.NoError(t, err)
	assert.Equal(t, int64(1), md.Size)

	_, err = l.ReadFile(ctx, pipeline.FileContext{Version: "16.0.0", Path: "nope.txt"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.ReadFile(ctx, pipeline.FileContext{Version: "..", Path: "etc/passwd"})
	assert.True(t, safefs.IsRejection(err), "traversal must be rejected, got %v", err)

	_, err = l.ListFiles(ctx, "99.0.0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTP(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("/Public/16.0.0/UnicodeData.txt", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pipegrid", r.Header.Get("User-Agent"))
		w.Header().Set("Last-Modified", "Wed, 10 Sep 2024 10:00:00 GMT")
		w.Write([]byte("0041;A\n"))
	})
	mux.HandleFunc("/Public/16.0.0/index.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["UnicodeData.txt","extracted/DerivedAge.txt"]`))
	})
	mux.HandleFunc("/Public/16.0.0/slow.txt", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	newBackend := func(cfg HTTPConfig) *HTTP {
		cfg.BaseURL = srv.URL + "/Public"
		cfg.Headers = map[string]string{"User-Agent": "pipegrid"}
		h, err := NewHTTP(cfg)
		require.NoError(t, err)
		return h
	}

	t.Run("fetch only backend cannot list", func(t *testing.T) {
		_, err := newBackend(HTTPConfig{}).ListFiles(ctx, "16.0.0")
		assert.ErrorIs(t, err, ErrListingUnsupported)
	})

	t.Run("static manifest", func(t *testing.T) {
		files, err := newBackend(HTTPConfig{Files: []string{"UnicodeData.txt"}}).ListFiles(ctx, "16.0.0")
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "16.0.0", files[0].Version)
	})

	t.Run("listing document", func(t *testing.T) {
		files, err := newBackend(HTTPConfig{Listing: "index.json"}).ListFiles(ctx, "16.0.0")
		require.NoError(t, err)
		require.Len(t, files, 2)
		assert.Equal(t, "extracted/DerivedAge.txt", files[1].Path)
	})

	t.Run("read and metadata", func(t *testing.T) {
		h := newBackend(HTTPConfig{})
		file := pipeline.NewFileContext("16.0.0", "UnicodeData.txt")
		content, err := h.ReadFile(ctx, file)
		require.NoError(t, err)
		assert.Equal(t, "0041;A\n", content)

		md, err := h.GetMetadata(ctx, file)
		require.NoError(t, err)
		require.NotNil(t, md.LastModified)
		assert.Equal(t, 2024, md.LastModified.Year())
	})

	t.Run("not found", func(t *testing.T) {
		_, err := newBackend(HTTPConfig{}).ReadFile(ctx, pipeline.NewFileContext("16.0.0", "missing.txt"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("timeout cancels only the operation", func(t *testing.T) {
		opCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := newBackend(HTTPConfig{}).ReadFile(opCtx, pipeline.NewFileContext("16.0.0", "slow.txt"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})

	t.Run("invalid base url", func(t *testing.T) {
		_, err := NewHTTP(HTTPConfig{BaseURL: "ftp://example.com"})
		assert.Error(t, err)
	})
}
