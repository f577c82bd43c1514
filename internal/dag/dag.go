// Package dag validates task dependency graphs.
//
// Graphs are adjacency maps from a task ID to the IDs it is blocked by, so an
// entry B: [A] is the edge B→A ("B is blocked by A"). Edges naming IDs that
// are not keys of the map are ignored. All functions are pure.
package dag

import (
	"maps"
	"slices"
)

// Graph maps a task ID to the IDs it is blocked by.
type Graph map[string][]string

// Cycle identifies the back edge From→To that closed a cycle.
type Cycle struct {
	From string `json:"from"`
	To   string `json:"to"`
}

const (
	unvisited = iota
	onStack
	done
)

type walker struct {
	g     Graph
	state map[string]int
	// stopAtFirst ends the walk at the first back edge.
	stopAtFirst bool
	cycles      []Cycle
}

// visit is a depth-first walk that reports back edges to nodes still on the
// recursion stack. It returns false once the walk should stop.
func (w *walker) visit(id string) bool {
	w.state[id] = onStack
	for _, dep := range w.g[id] {
		if _, ok := w.g[dep]; !ok {
			continue
		}
		switch w.state[dep] {
		case onStack:
			w.cycles = append(w.cycles, Cycle{From: id, To: dep})
			if w.stopAtFirst {
				return false
			}
		case unvisited:
			if !w.visit(dep) {
				return false
			}
		}
	}
	w.state[id] = done
	return true
}

// DetectCycle walks the graph from startID and reports the first cycle
// reachable from it, naming the two nodes of the edge that closed it.
func DetectCycle(g Graph, startID string) (found bool, from, to string) {
	if _, ok := g[startID]; !ok {
		return false, "", ""
	}
	w := &walker{g: g, state: make(map[string]int, len(g)), stopAtFirst: true}
	w.visit(startID)
	if len(w.cycles) == 0 {
		return false, "", ""
	}
	return true, w.cycles[0].From, w.cycles[0].To
}

// ValidateDAG walks from every node not yet visited and collects every back
// edge found. An empty result means the graph is acyclic. Nodes are visited
// in ID order so the result is deterministic.
func ValidateDAG(g Graph) []Cycle {
	w := &walker{g: g, state: make(map[string]int, len(g))}
	for _, id := range slices.Sorted(maps.Keys(g)) {
		if w.state[id] == unvisited {
			w.visit(id)
		}
	}
	return w.cycles
}

// TopologicalSort orders the graph so every task follows the tasks it is
// blocked by, using Kahn's algorithm with ties broken by ID. valid is false
// when a cycle prevented some nodes from being ordered; order then holds only
// the nodes that could be placed.
func TopologicalSort(g Graph) (order []string, valid bool) {
	inDegree := make(map[string]int, len(g))
	dependents := make(map[string][]string, len(g))
	for id := range g {
		inDegree[id] = 0
	}
	for id := range g {
		for _, dep := range g[id] {
			if _, ok := g[dep]; !ok {
				continue
			}
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)

	order = make([]string, 0, len(g))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var next []string
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		if len(next) > 0 {
			ready = append(ready, next...)
			slices.Sort(ready)
		}
	}
	return order, len(order) == len(g)
}

// WithEdges returns a copy of g in which id is blocked by deps, leaving g
// untouched. Callers use it to simulate a mutation before applying it.
func WithEdges(g Graph, id string, deps []string) Graph {
	sim := make(Graph, len(g)+1)
	for k, v := range g {
		sim[k] = v
	}
	sim[id] = append([]string(nil), deps...)
	return sim
}

// WouldCreateCycle reports whether giving id the dependency set deps would
// introduce a cycle, and if so the closing edge.
func WouldCreateCycle(g Graph, id string, deps []string) (bool, Cycle) {
	found, from, to := DetectCycle(WithEdges(g, id, deps), id)
	return found, Cycle{From: from, To: to}
}
