package graph

import (
	"github.com/vk/pipegrid/internal/dag"
)

// Kind is the type of a graph node.
type Kind string

const (
	KindPipeline Kind = "pipeline"
	KindVersion  Kind = "version"
	KindRoute    Kind = "route"
	KindArtifact Kind = "artifact"
)

// Node is one vertex of a version graph. It owns no state besides its edges.
type Node struct {
	ID           string
	Kind         Kind
	Version      string
	RouteID      string
	ArtifactID   string
	Dependencies []string
}

// Graph is the dependency graph of one pipeline for one version.
type Graph struct {
	PipelineID string
	Version    string

	dag      *dag.Graph
	nodes    map[string]*Node
	order    []string
	emitters map[string]string
}

// Plan groups the version graphs built for one run, in the order the
// versions were requested.
type Plan struct {
	PipelineID string
	Graphs     []*Graph
}

// NodeID returns the graph id of a node of the given kind.
func NodeID(kind Kind, id string) string {
	return string(kind) + ":" + id
}
