package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSStore persists one file per key below Root. File names are the key
// digest, sharded by its first two characters.
type FSStore struct {
	root  string
	codec Codec
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string, codec Codec) (*FSStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("cache: fs store root is required")
	}
	if codec == nil {
		codec = JSONCodec{}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create fs store root: %w", err)
	}
	return &FSStore{root: root, codec: codec}, nil
}

func (s *FSStore) path(key Key) string {
	d := key.Digest()
	return filepath.Join(s.root, d[:2], d+s.codec.Ext())
}

func (s *FSStore) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: read entry: %w", err)
	}
	e, err := s.codec.Unmarshal(data)
	if err != nil {
		return nil, false, err
	}
	if !e.Key.Equal(key) {
		return nil, false, fmt.Errorf("cache: entry at %s belongs to a different key", s.path(key))
	}
	return e, true, nil
}

// Set writes to a temporary file and renames it into place, so readers
// never observe a partially written entry.
func (s *FSStore) Set(ctx context.Context, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := s.codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encode entry: %w", err)
	}
	target := s.path(entry.Key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("cache: create shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("cache: commit entry: %w", err)
	}
	return nil
}

func (s *FSStore) Has(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *FSStore) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache: delete entry: %w", err)
	}
	return true, nil
}

// Clear removes every shard below the root but keeps the root itself.
func (s *FSStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("cache: list fs store root: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("cache: clear %s: %w", e.Name(), err)
		}
	}
	return nil
}
