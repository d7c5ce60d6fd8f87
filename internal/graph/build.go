package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vk/pipegrid/internal/dag"
	"github.com/vk/pipegrid/internal/pipeline"
)

// Build creates one graph per requested version. An empty version list
// selects every version of the definition; unknown versions are rejected.
func Build(def *pipeline.Definition, versions []string) (*Plan, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		versions = def.Versions
	}

	plan := &Plan{PipelineID: def.ID}
	seen := make(map[string]bool)
	for _, v := range versions {
		if !slices.Contains(def.Versions, v) {
			return nil, fmt.Errorf("%w: pipeline '%s' does not declare version '%s'", pipeline.ErrInvalidDefinition, def.ID, v)
		}
		if seen[v] {
			continue
		}
		seen[v] = true

		g, err := BuildVersion(def, v)
		if err != nil {
			return nil, err
		}
		plan.Graphs = append(plan.Graphs, g)
	}
	return plan, nil
}

// BuildVersion creates the graph of a single version.
func BuildVersion(def *pipeline.Definition, version string) (*Graph, error) {
	g := &Graph{
		PipelineID: def.ID,
		Version:    version,
		dag:        dag.New(),
		nodes:      make(map[string]*Node),
		emitters:   make(map[string]string),
	}

	pipelineID := NodeID(KindPipeline, def.ID)
	versionID := NodeID(KindVersion, version)
	g.add(&Node{ID: pipelineID, Kind: KindPipeline, Version: version})
	g.add(&Node{ID: versionID, Kind: KindVersion, Version: version})

	// Route and artifact nodes are added in declaration order so the dag's
	// tie-breaking follows the definition.
	for _, r := range def.Routes {
		g.add(&Node{ID: NodeID(KindRoute, r.ID), Kind: KindRoute, Version: version, RouteID: r.ID})
		for _, a := range r.Emits {
			g.emitters[a] = r.ID
			g.add(&Node{ID: NodeID(KindArtifact, a), Kind: KindArtifact, Version: version, RouteID: r.ID, ArtifactID: a})
		}
	}

	if err := g.link(pipelineID, versionID); err != nil {
		return nil, err
	}
	for _, r := range def.Routes {
		routeID := NodeID(KindRoute, r.ID)
		if err := g.link(routeID, versionID); err != nil {
			return nil, err
		}
		for _, a := range r.Emits {
			if err := g.link(routeID, NodeID(KindArtifact, a)); err != nil {
				return nil, err
			}
		}
		for _, dep := range r.DependsOn {
			target := NodeID(KindRoute, dep.ID)
			if dep.Kind == pipeline.ArtifactDependency {
				target = NodeID(KindArtifact, dep.ID)
			}
			if _, ok := g.nodes[target]; !ok {
				return nil, fmt.Errorf("%w: route '%s' depends on '%s' which is not declared in pipeline '%s'", ErrUnknownDependency, r.ID, dep, def.ID)
			}
			if target == routeID {
				return nil, &CycleError{PipelineID: def.ID, Routes: []string{r.ID}}
			}
			if err := g.link(target, routeID); err != nil {
				return nil, err
			}
		}
	}

	order, err := g.dag.TopologicalSort()
	if err != nil {
		if ce, ok := dag.AsCycleError(err); ok {
			return nil, &CycleError{PipelineID: def.ID, Routes: routeIDs(ce.Cycle, g.nodes), cause: err}
		}
		return nil, err
	}
	g.order = order
	return g, nil
}

func (g *Graph) add(n *Node) {
	g.nodes[n.ID] = n
	g.dag.AddNode(n.ID)
}

// link records that `to` depends on `from`.
func (g *Graph) link(from, to string) error {
	if err := g.dag.AddEdge(from, to); err != nil {
		return err
	}
	n := g.nodes[to]
	if !slices.Contains(n.Dependencies, from) {
		n.Dependencies = append(n.Dependencies, from)
	}
	return nil
}

// routeIDs maps a dag cycle onto the distinct route ids involved, in
// cycle order.
func routeIDs(cycle []string, nodes map[string]*Node) []string {
	var out []string
	for _, id := range cycle {
		n, ok := nodes[id]
		if !ok || n.RouteID == "" || slices.Contains(out, n.RouteID) {
			continue
		}
		out = append(out, n.RouteID)
	}
	if len(out) == 0 {
		out = append(out, strings.Join(cycle, " -> "))
	}
	return out
}
