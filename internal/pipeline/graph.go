package pipeline

import (
	"fmt"
	"sort"
)

// Graph is an immutable, validated stage DAG. It is safe for concurrent reads.
type Graph struct {
	stages map[StageID]Stage
	deps   map[StageID][]StageID
	depth  map[StageID]int
	order  []StageID
}

// NewGraph validates the stages and builds the graph. It rejects empty or
// duplicate IDs, dependencies on unknown stages, self-dependencies and cycles.
func NewGraph(stages ...Stage) (*Graph, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("%w: no stages", ErrInvalidGraph)
	}

	g := &Graph{
		stages: make(map[StageID]Stage, len(stages)),
		deps:   make(map[StageID][]StageID, len(stages)),
		depth:  make(map[StageID]int, len(stages)),
	}
	for _, s := range stages {
		id := s.ID()
		if id == "" {
			return nil, fmt.Errorf("%w: stage ID is required", ErrInvalidGraph)
		}
		if _, dup := g.stages[id]; dup {
			return nil, fmt.Errorf("%w: duplicate stage %q", ErrInvalidGraph, id)
		}
		g.stages[id] = s
	}

	for id, s := range g.stages {
		seen := make(map[StageID]struct{})
		for _, dep := range s.Requires() {
			if dep == id {
				return nil, fmt.Errorf("%w: stage %q requires itself", ErrInvalidGraph, id)
			}
			if _, ok := g.stages[dep]; !ok {
				return nil, fmt.Errorf("%w: stage %q requires unknown stage %q", ErrInvalidGraph, id, dep)
			}
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			g.deps[id] = append(g.deps[id], dep)
		}
		sort.Slice(g.deps[id], func(i, j int) bool { return g.deps[id][i] < g.deps[id][j] })
	}

	if err := g.computeOrder(); err != nil {
		return nil, err
	}
	return g, nil
}

// computeOrder runs Kahn's algorithm, breaking ties by (depth, id), and
// records each stage's depth.
func (g *Graph) computeOrder() error {
	indeg := make(map[StageID]int, len(g.stages))
	dependents := make(map[StageID][]StageID, len(g.stages))
	for id := range g.stages {
		indeg[id] = len(g.deps[id])
		for _, dep := range g.deps[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []StageID
	for id, n := range indeg {
		if n == 0 {
			ready = append(ready, id)
			g.depth[id] = 0
		}
	}

	order := make([]StageID, 0, len(g.stages))
	for len(ready) > 0 {
		g.sortByDepth(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, next := range dependents[id] {
			if d := g.depth[id] + 1; d > g.depth[next] {
				g.depth[next] = d
			}
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(order) != len(g.stages) {
		var cyclic []StageID
		for id, n := range indeg {
			if n > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Slice(cyclic, func(i, j int) bool { return cyclic[i] < cyclic[j] })
		return fmt.Errorf("%w: cycle among stages %v", ErrInvalidGraph, cyclic)
	}
	g.order = order
	return nil
}

func (g *Graph) sortByDepth(ids []StageID) {
	sort.Slice(ids, func(i, j int) bool {
		if g.depth[ids[i]] != g.depth[ids[j]] {
			return g.depth[ids[i]] < g.depth[ids[j]]
		}
		return ids[i] < ids[j]
	})
}

// Order returns a deterministic topological order.
func (g *Graph) Order() []StageID {
	out := make([]StageID, len(g.order))
	copy(out, g.order)
	return out
}

// Stage returns a stage by ID.
func (g *Graph) Stage(id StageID) (Stage, bool) {
	s, ok := g.stages[id]
	return s, ok
}

// Requires returns a stage's deduplicated, sorted dependencies.
func (g *Graph) Requires(id StageID) []StageID {
	return g.deps[id]
}

// Ready returns the stages not yet done whose dependencies are all done,
// sorted by (depth, id).
func (g *Graph) Ready(done map[StageID]bool) []StageID {
	var ready []StageID
	for _, id := range g.order {
		if done[id] {
			continue
		}
		ok := true
		for _, dep := range g.deps[id] {
			if !done[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	g.sortByDepth(ready)
	return ready
}
