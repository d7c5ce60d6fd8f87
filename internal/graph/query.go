package graph

import (
	"slices"
)

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node in topological order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Order returns the node ids in topological order.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Routes returns the route ids in topological order.
func (g *Graph) Routes() []string {
	var out []string
	for _, id := range g.order {
		if n := g.nodes[id]; n.Kind == KindRoute {
			out = append(out, n.RouteID)
		}
	}
	return out
}

// Emitter returns the id of the route emitting an artifact.
func (g *Graph) Emitter(artifactID string) (string, bool) {
	r, ok := g.emitters[artifactID]
	return r, ok
}

// RouteDependencies returns the routes a route has to wait for, resolving
// artifact dependencies to their emitting route. The result is in
// topological order and contains no duplicates.
func (g *Graph) RouteDependencies(routeID string) []string {
	n, ok := g.nodes[NodeID(KindRoute, routeID)]
	if !ok {
		return nil
	}
	wanted := make(map[string]bool)
	for _, depID := range n.Dependencies {
		dep := g.nodes[depID]
		switch dep.Kind {
		case KindRoute, KindArtifact:
			wanted[dep.RouteID] = true
		}
	}
	var out []string
	for _, r := range g.Routes() {
		if wanted[r] {
			out = append(out, r)
		}
	}
	return out
}

// Levels groups route ids into waves that can run concurrently.
func (g *Graph) Levels() ([][]string, error) {
	levels, err := g.dag.TopologicalSortLevels()
	if err != nil {
		return nil, err
	}
	var out [][]string
	for _, level := range levels {
		var routes []string
		for _, id := range level {
			if n := g.nodes[id]; n.Kind == KindRoute {
				routes = append(routes, n.RouteID)
			}
		}
		if len(routes) > 0 {
			out = append(out, routes)
		}
	}
	return out, nil
}
