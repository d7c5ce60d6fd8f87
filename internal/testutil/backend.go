package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/vk/pipegrid/internal/pipeline"
)

// ExecutionRecord holds the start and end times of one operation.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// BlockingBackend wraps a backend and blocks ReadFile for the configured
// paths until Release is called or the context ends.
type BlockingBackend struct {
	pipeline.Backend
	// Block holds the file paths ("version/path") whose reads block.
	Block map[string]bool

	once    sync.Once
	release chan struct{}
	// Entered receives the path of every blocked read as it starts.
	Entered chan string
}

// NewBlockingBackend blocks reads of the given "version/path" files.
func NewBlockingBackend(inner pipeline.Backend, paths ...string) *BlockingBackend {
	b := &BlockingBackend{
		Backend: inner,
		Block:   make(map[string]bool),
		release: make(chan struct{}),
		Entered: make(chan string, 16),
	}
	for _, p := range paths {
		b.Block[p] = true
	}
	return b
}

// Release unblocks every pending and future read.
func (b *BlockingBackend) Release() {
	b.once.Do(func() { close(b.release) })
}

func (b *BlockingBackend) ReadFile(ctx context.Context, file pipeline.FileContext) (string, error) {
	if b.Block[file.String()] {
		select {
		case b.Entered <- file.String():
		default:
		}
		select {
		case <-b.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return b.Backend.ReadFile(ctx, file)
}

// RecordingBackend records the time window of every ReadFile call.
type RecordingBackend struct {
	pipeline.Backend
	Delay time.Duration

	mu      sync.Mutex
	records map[string]*ExecutionRecord
}

// NewRecordingBackend wraps inner; every read sleeps for delay.
func NewRecordingBackend(inner pipeline.Backend, delay time.Duration) *RecordingBackend {
	return &RecordingBackend{Backend: inner, Delay: delay, records: make(map[string]*ExecutionRecord)}
}

func (b *RecordingBackend) ReadFile(ctx context.Context, file pipeline.FileContext) (string, error) {
	start := time.Now()
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	content, err := b.Backend.ReadFile(ctx, file)
	b.mu.Lock()
	b.records[file.String()] = &ExecutionRecord{Start: start, End: time.Now()}
	b.mu.Unlock()
	return content, err
}

// Record returns the time window of the read of "version/path".
func (b *RecordingBackend) Record(path string) (*ExecutionRecord, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.records[path]
	return r, ok
}
