package cache

import (
	"context"
	"maps"
	"time"

	"github.com/vk/pipegrid/internal/pipeline"
)

// Entry is the cached result of one route execution.
type Entry struct {
	Key    Key
	Output []pipeline.Entry
	// OutputHash is the hash of Output; routes depending on this route
	// through `route:<id>` fold it into their own key.
	OutputHash        string
	ProducedArtifacts map[string]any
	// ArtifactHashes holds the hash of every produced artifact as computed
	// when it was first emitted, so replays publish identical hashes.
	ArtifactHashes map[string]string
	CreatedAt      time.Time
	Meta           map[string]string
}

// Store is the contract every cache backend implements. Get either
// returns a complete entry or none; Set of an identical entry is
// idempotent.
type Store interface {
	Get(ctx context.Context, key Key) (*Entry, bool, error)
	Set(ctx context.Context, entry *Entry) error
	Has(ctx context.Context, key Key) (bool, error)
	Delete(ctx context.Context, key Key) (bool, error)
	Clear(ctx context.Context) error
}

// clone returns a copy of e whose maps and slices can be handed out
// without exposing the stored value.
func (e *Entry) clone() *Entry {
	c := *e
	c.Key.ArtifactHashes = maps.Clone(e.Key.ArtifactHashes)
	c.Output = make([]pipeline.Entry, len(e.Output))
	for i, o := range e.Output {
		c.Output[i] = maps.Clone(o)
	}
	c.ProducedArtifacts = maps.Clone(e.ProducedArtifacts)
	c.ArtifactHashes = maps.Clone(e.ArtifactHashes)
	c.Meta = maps.Clone(e.Meta)
	return &c
}
