package cache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/pipegrid/internal/pipeline"
)

func sampleEntry(input string) *Entry {
	return &Entry{
		Key: Key{
			RouteID:        "names",
			Version:        "16.0.0",
			InputHash:      input,
			ArtifactHashes: map[string]string{"blocks": "b1"},
		},
		Output:            []pipeline.Entry{{"codepoint": "0041", "value": "A"}},
		OutputHash:        "out-" + input,
		ProducedArtifacts: map[string]any{"names": "A"},
		ArtifactHashes:    map[string]string{"names": "n1"},
		CreatedAt:         time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Meta:              map[string]string{"execution": "exec-1"},
	}
}

// testStoreContract exercises the Store contract shared by all backends.
func testStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Clear(ctx))

	entry := sampleEntry("in-1")

	ok, err := store.Has(ctx, entry.Key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err := store.Get(ctx, entry.Key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, entry))
	require.NoError(t, store.Set(ctx, entry), "repeated set of an identical entry is idempotent")

	ok, err = store.Has(ctx, entry.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	got, found, err := store.Get(ctx, entry.Key)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Key.Equal(entry.Key))
	assert.Equal(t, entry.OutputHash, got.OutputHash)
	require.Len(t, got.Output, 1)
	assert.Equal(t, "0041", got.Output[0]["codepoint"])
	assert.Equal(t, "A", got.Output[0]["value"])
	assert.Equal(t, "A", got.ProducedArtifacts["names"])
	assert.Equal(t, entry.ArtifactHashes, got.ArtifactHashes)
	assert.True(t, entry.CreatedAt.Equal(got.CreatedAt))

	// A key differing only in artifact hashes is a different entry.
	other := entry.Key
	other.ArtifactHashes = map[string]string{"blocks": "b2"}
	_, found, err = store.Get(ctx, other)
	require.NoError(t, err)
	assert.False(t, found)

	second := sampleEntry("in-2")
	require.NoError(t, store.Set(ctx, second))

	deleted, err := store.Delete(ctx, entry.Key)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = store.Delete(ctx, entry.Key)
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, store.Clear(ctx))
	ok, err = store.Has(ctx, second.Key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore(0, 0))

	t.Run("returned entries are copies", func(t *testing.T) {
		ctx := context.Background()
		s := NewMemoryStore(10, 0)
		e := sampleEntry("x")
		require.NoError(t, s.Set(ctx, e))

		got, _, _ := s.Get(ctx, e.Key)
		got.Output[0]["value"] = "mutated"

		again, _, _ := s.Get(ctx, e.Key)
		assert.Equal(t, "A", again.Output[0]["value"])
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		ctx := context.Background()
		s := NewMemoryStore(1, 0)
		require.NoError(t, s.Set(ctx, sampleEntry("a")))
		require.NoError(t, s.Set(ctx, sampleEntry("b")))
		assert.Equal(t, 1, s.Len())
		ok, _ := s.Has(ctx, sampleEntry("a").Key)
		assert.False(t, ok)
	})

	t.Run("expires entries after ttl", func(t *testing.T) {
		ctx := context.Background()
		s := NewMemoryStore(10, 20*time.Millisecond)
		require.NoError(t, s.Set(ctx, sampleEntry("a")))
		assert.Eventually(t, func() bool {
			_, found, _ := s.Get(ctx, sampleEntry("a").Key)
			return !found
		}, time.Second, 10*time.Millisecond)
	})
}

func TestFSStore(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			store, err := NewFSStore(t.TempDir(), codec)
			require.NoError(t, err)
			testStoreContract(t, store)
		})
	}

	t.Run("corrupt entries are reported", func(t *testing.T) {
		ctx := context.Background()
		root := t.TempDir()
		store, err := NewFSStore(root, JSONCodec{})
		require.NoError(t, err)

		e := sampleEntry("x")
		require.NoError(t, store.Set(ctx, e))
		require.NoError(t, os.WriteFile(store.path(e.Key), []byte("{not json"), 0o644))

		_, found, err := store.Get(ctx, e.Key)
		assert.Error(t, err)
		assert.False(t, found)
	})

	t.Run("no temp files are left behind", func(t *testing.T) {
		ctx := context.Background()
		root := t.TempDir()
		store, err := NewFSStore(root, JSONCodec{})
		require.NoError(t, err)
		e := sampleEntry("x")
		require.NoError(t, store.Set(ctx, e))

		matches, err := filepath.Glob(filepath.Join(root, "*", ".tmp-*"))
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("empty root is rejected", func(t *testing.T) {
		_, err := NewFSStore(" ", nil)
		assert.Error(t, err)
	})
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = CodecByName("msgpack")
	require.NoError(t, err)
	assert.Equal(t, ".msgpack", c.Ext())

	_, err = CodecByName("xml")
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("PIPEGRID_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PIPEGRID_TEST_POSTGRES_DSN not set")
	}
	store, err := NewPostgresStore(context.Background(), dsn, MsgpackCodec{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	testStoreContract(t, store)
}

func TestS3Store(t *testing.T) {
	endpoint := os.Getenv("PIPEGRID_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("PIPEGRID_TEST_S3_ENDPOINT not set")
	}
	store, err := NewS3Store(S3Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("PIPEGRID_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("PIPEGRID_TEST_S3_SECRET_KEY"),
		Bucket:    "pipegrid-test",
		Prefix:    "contract",
	}, JSONCodec{})
	require.NoError(t, err)
	testStoreContract(t, store)
}

func TestNewS3Store_Validation(t *testing.T) {
	_, err := NewS3Store(S3Config{}, nil)
	assert.ErrorContains(t, err, "endpoint is required")
	_, err = NewS3Store(S3Config{Endpoint: "localhost:9000"}, nil)
	assert.ErrorContains(t, err, "access key")
	_, err = NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}, nil)
	assert.ErrorContains(t, err, "bucket is required")
}

func TestLazyInit_RetriesUntilSuccess(t *testing.T) {
	var l lazyInit
	calls := 0
	fail := errors.New("unavailable")
	fn := func(ctx context.Context) error {
		calls++
		if err := ctx.Err(); err != nil {
			return err
		}
		if calls < 3 {
			return fail
		}
		return nil
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Do(cancelled, fn), context.Canceled)
	assert.ErrorIs(t, l.Do(context.Background(), fn), fail)
	assert.NoError(t, l.Do(context.Background(), fn))
	assert.NoError(t, l.Do(cancelled, fn), "success is remembered")
	assert.Equal(t, 3, calls)
}

func TestS3Store_CancelledFirstLookupDoesNotDisableStore(t *testing.T) {
	var bucketChecks atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && strings.Trim(r.URL.Path, "/") == "cache-bucket" {
			bucketChecks.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
			`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message>` +
			`<BucketName>cache-bucket</BucketName><Resource>` + r.URL.Path + `</Resource>` +
			`<RequestId>1</RequestId><HostId>1</HostId></Error>`))
	}))
	defer srv.Close()

	store, err := NewS3Store(S3Config{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "cache-bucket",
		UseSSL:    false,
	}, JSONCodec{})
	require.NoError(t, err)

	key := sampleEntry("in-1").Key
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = store.Get(cancelled, key)
	require.Error(t, err)

	_, found, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, found)
	checks := bucketChecks.Load()
	assert.GreaterOrEqual(t, checks, int32(1))

	_, found, err = store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, checks, bucketChecks.Load(), "bucket is checked once after a successful setup")
}
