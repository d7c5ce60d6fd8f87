package dag

import "container/heap"

// DetectCycles checks the graph for any cycles. It returns a *CycleError
// describing the first cycle found when walking nodes in declaration order.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.detectCycles()
}

func (g *Graph) detectCycles() error {
	// Classic depth-first search with three colours. stack mirrors the
	// recursion so the offending path can be reported.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)
	var stack []string

	var visit func(n *node) *CycleError
	visit = func(n *node) *CycleError {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			start := 0
			for i, id := range stack {
				if id == n.id {
					start = i
					break
				}
			}
			cycle := append([]string{}, stack[start:]...)
			return &CycleError{Cycle: append(cycle, n.id)}
		}

		temporary[n.id] = true
		stack = append(stack, n.id)
		for _, dependent := range sorted(n.dependents) {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, n := range sorted(g.nodes) {
		if err := visit(n); err != nil {
			return err
		}
	}
	return nil
}

// TopologicalSort returns the node IDs so that every node comes after all
// of its dependencies. Among nodes that are ready at the same time, the one
// declared first wins.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(g.nodes))
	ready := &orderHeap{}
	for _, n := range g.nodes {
		inDegree[n.id] = len(n.deps)
		if len(n.deps) == 0 {
			heap.Push(ready, n)
		}
	}

	out := make([]string, 0, len(g.nodes))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(*node)
		out = append(out, n.id)
		for _, dependent := range n.dependents {
			inDegree[dependent.id]--
			if inDegree[dependent.id] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}
	return out, nil
}

// TopologicalSortLevels groups node IDs into levels: every node of a level
// only depends on nodes of earlier levels. Each level is in declaration order.
func (g *Graph) TopologicalSortLevels() ([][]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if err := g.detectCycles(); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(g.nodes))
	var current []*node
	for _, n := range sorted(g.nodes) {
		inDegree[n.id] = len(n.deps)
		if len(n.deps) == 0 {
			current = append(current, n)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		levels = append(levels, ids(current))
		next := make(map[string]*node)
		for _, n := range current {
			for _, dependent := range n.dependents {
				inDegree[dependent.id]--
				if inDegree[dependent.id] == 0 {
					next[dependent.id] = dependent
				}
			}
		}
		current = sorted(next)
	}
	return levels, nil
}

// orderHeap is a min-heap of nodes by declaration order.
type orderHeap []*node

func (h orderHeap) Len() int           { return len(h) }
func (h orderHeap) Less(i, j int) bool { return h[i].order < h[j].order }
func (h orderHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *orderHeap) Push(x any)        { *h = append(*h, x.(*node)) }
func (h *orderHeap) Pop() any {
	old := *h
	n := old[len(old)-1]
	*h = old[:len(old)-1]
	return n
}
