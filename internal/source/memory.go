package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vk/pipegrid/internal/pipeline"
)

// Memory is an in-memory backend, mostly used for fixtures and tests.
type Memory struct {
	mu       sync.RWMutex
	files    map[string]string
	modified time.Time
}

// NewMemory creates a backend from "<version>/<path>" -> content pairs.
func NewMemory(files map[string]string) *Memory {
	m := &Memory{files: make(map[string]string, len(files)), modified: time.Now()}
	for k, v := range files {
		m.files[strings.TrimPrefix(k, "/")] = v
	}
	return m
}

// Put adds or replaces a file.
func (m *Memory) Put(version, path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[pipeline.NewFileContext(version, path).String()] = content
	m.modified = time.Now()
}

func (m *Memory) ListFiles(ctx context.Context, version string) ([]pipeline.FileContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := version + "/"
	var files []pipeline.FileContext
	for k := range m.files {
		if rest, ok := strings.CutPrefix(k, prefix); ok && rest != "" {
			files = append(files, pipeline.NewFileContext(version, rest))
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (m *Memory) ReadFile(ctx context.Context, file pipeline.FileContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.files[file.String()]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	return content, nil
}

func (m *Memory) GetMetadata(ctx context.Context, file pipeline.FileContext) (pipeline.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Metadata{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.files[file.String()]
	if !ok {
		return pipeline.Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	modified := m.modified
	return pipeline.Metadata{Size: int64(len(content)), LastModified: &modified}, nil
}
