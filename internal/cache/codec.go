package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes entries for stores that persist bytes.
type Codec interface {
	Name() string
	Ext() string
	Marshal(e *Entry) ([]byte, error)
	Unmarshal(data []byte) (*Entry, error)
}

// CodecByName returns the codec registered under name ("json" or "msgpack").
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("cache: unknown codec '%s'", name)
	}
}

type wireEntry struct {
	Key               string            `json:"key" msgpack:"key"`
	Output            []map[string]any  `json:"output" msgpack:"output"`
	OutputHash        string            `json:"outputHash" msgpack:"outputHash"`
	ProducedArtifacts map[string]any    `json:"producedArtifacts,omitempty" msgpack:"producedArtifacts,omitempty"`
	ArtifactHashes    map[string]string `json:"artifactHashes,omitempty" msgpack:"artifactHashes,omitempty"`
	CreatedAt         time.Time         `json:"createdAt" msgpack:"createdAt"`
	Meta              map[string]string `json:"meta,omitempty" msgpack:"meta,omitempty"`
}

func toWire(e *Entry) *wireEntry {
	out := make([]map[string]any, len(e.Output))
	for i, o := range e.Output {
		out[i] = o
	}
	return &wireEntry{
		Key:               e.Key.String(),
		Output:            out,
		OutputHash:        e.OutputHash,
		ProducedArtifacts: e.ProducedArtifacts,
		ArtifactHashes:    e.ArtifactHashes,
		CreatedAt:         e.CreatedAt,
		Meta:              e.Meta,
	}
}

func fromWire(w *wireEntry) (*Entry, error) {
	key, err := ParseKey(w.Key)
	if err != nil {
		return nil, err
	}
	out := make([]pipeline.Entry, len(w.Output))
	for i, o := range w.Output {
		out[i] = o
	}
	return &Entry{
		Key:               key,
		Output:            out,
		OutputHash:        w.OutputHash,
		ProducedArtifacts: w.ProducedArtifacts,
		ArtifactHashes:    w.ArtifactHashes,
		CreatedAt:         w.CreatedAt,
		Meta:              w.Meta,
	}, nil
}

// JSONCodec stores entries as JSON documents.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Ext() string  { return ".json" }

func (JSONCodec) Marshal(e *Entry) ([]byte, error) {
	return json.Marshal(toWire(e))
}

func (JSONCodec) Unmarshal(data []byte) (*Entry, error) {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("cache: corrupt json entry: %w", err)
	}
	return fromWire(&w)
}

// MsgpackCodec stores entries as MessagePack documents.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }
func (MsgpackCodec) Ext() string  { return ".msgpack" }

func (MsgpackCodec) Marshal(e *Entry) ([]byte, error) {
	return msgpack.Marshal(toWire(e))
}

func (MsgpackCodec) Unmarshal(data []byte) (*Entry, error) {
	var w wireEntry
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("cache: corrupt msgpack entry: %w", err)
	}
	return fromWire(&w)
}
