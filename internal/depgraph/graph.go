// Package depgraph models "flag A's rule references flag B's result" relationships.
//
// Nodes are flag keys. The graph keeps two adjacency maps so that edges can be
// removed in both directions without dangling references, and carries a
// per-pass evaluation cache that belongs to exactly one evaluation pass.
package depgraph

import (
	"sort"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

type set map[string]struct{}

// Graph is a directed dependency graph over flag keys.
// It is not safe for concurrent mutation; callers that share a graph across
// goroutines must treat it as read-only and evaluate on a FilterByKeys copy.
type Graph struct {
	dependencies map[string]set // key -> keys it requires
	dependents   map[string]set // key -> keys that require it
	cache        map[string]flagdef.Value
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		dependencies: make(map[string]set),
		dependents:   make(map[string]set),
		cache:        make(map[string]flagdef.Value),
	}
}

// AddFlag registers a node. It is idempotent.
func (g *Graph) AddFlag(key string) {
	if _, ok := g.dependencies[key]; !ok {
		g.dependencies[key] = make(set)
	}
	if _, ok := g.dependents[key]; !ok {
		g.dependents[key] = make(set)
	}
}

// AddDependency records that from requires to. Unknown keys are registered.
func (g *Graph) AddDependency(from, to string) {
	g.AddFlag(from)
	g.AddFlag(to)
	g.dependencies[from][to] = struct{}{}
	g.dependents[to][from] = struct{}{}
}

// Has reports whether key is a node of the graph.
func (g *Graph) Has(key string) bool {
	_, ok := g.dependencies[key]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.dependencies)
}

// Keys returns every node in sorted order.
func (g *Graph) Keys() []string {
	return sortedKeys(g.dependencies)
}

// Dependencies returns the keys that key requires, sorted.
func (g *Graph) Dependencies(key string) []string {
	return sortedSet(g.dependencies[key])
}

// Dependents returns the keys that require key, sorted.
func (g *Graph) Dependents(key string) []string {
	return sortedSet(g.dependents[key])
}

// RemoveFlag deletes key, every edge touching it and its cached result.
func (g *Graph) RemoveFlag(key string) {
	for dep := range g.dependencies[key] {
		delete(g.dependents[dep], key)
	}
	for parent := range g.dependents[key] {
		delete(g.dependencies[parent], key)
	}
	delete(g.dependencies, key)
	delete(g.dependents, key)
	delete(g.cache, key)
}

// DetectCycles returns every key that is part of a cycle, including keys that
// only close a cycle through other keys. Traversal covers the whole graph so
// all cycles are reported in one call.
func (g *Graph) DetectCycles() map[string]struct{} {
	t := tarjan{
		graph:   g,
		index:   make(map[string]int),
		lowlink: make(map[string]int),
		onStack: make(set),
		cyclic:  make(set),
	}
	for _, key := range g.Keys() {
		if _, visited := t.index[key]; !visited {
			t.visit(key)
		}
	}
	return t.cyclic
}

// RemoveCycles removes every key reported by DetectCycles and returns them sorted.
func (g *Graph) RemoveCycles() []string {
	cyclic := g.DetectCycles()
	removed := sortedSet(cyclic)
	for _, key := range removed {
		g.RemoveFlag(key)
	}
	return removed
}

// TopologicalSort orders keys so that every key appears after all of its
// dependencies. Ties are broken alphabetically.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.dependencies))
	var ready []string
	for key, deps := range g.dependencies {
		inDegree[key] = len(deps)
		if len(deps) == 0 {
			ready = append(ready, key)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.dependencies))
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		order = append(order, key)

		var unlocked []string
		for parent := range g.dependents[key] {
			inDegree[parent]--
			if inDegree[parent] == 0 {
				unlocked = append(unlocked, parent)
			}
		}
		if len(unlocked) > 0 {
			ready = append(ready, unlocked...)
			sort.Strings(ready)
		}
	}

	if len(order) != len(g.dependencies) {
		var residual []string
		for key, degree := range inDegree {
			if degree > 0 {
				residual = append(residual, key)
			}
		}
		sort.Strings(residual)
		return nil, &CyclicDependencyError{Key: residual[0]}
	}

	return order, nil
}

// FilterByKeys returns a new graph holding the requested keys and everything
// they transitively depend on. Dependents are not followed. Requested keys
// that are not in the graph are ignored. The returned graph has an empty cache.
func (g *Graph) FilterByKeys(keys []string) *Graph {
	out := New()
	queue := make([]string, 0, len(keys))
	seen := make(set, len(keys))

	for _, key := range keys {
		if !g.Has(key) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		queue = append(queue, key)
	}

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		out.AddFlag(key)

		for dep := range g.dependencies[key] {
			out.AddDependency(key, dep)
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			queue = append(queue, dep)
		}
	}

	return out
}

// Cached returns the result memoized for key during the current pass.
func (g *Graph) Cached(key string) (flagdef.Value, bool) {
	v, ok := g.cache[key]
	return v, ok
}

// SetCached memoizes the result for key. Keys outside the graph are ignored.
func (g *Graph) SetCached(key string, value flagdef.Value) {
	if !g.Has(key) {
		return
	}
	g.cache[key] = value
}

// ClearCache discards every memoized result.
func (g *Graph) ClearCache() {
	clear(g.cache)
}

// tarjan finds strongly connected components. Every component with more than
// one key, or a single key depending on itself, is cyclic.
type tarjan struct {
	graph   *Graph
	counter int
	index   map[string]int
	lowlink map[string]int
	stack   []string
	onStack set
	cyclic  set
}

func (t *tarjan) visit(key string) {
	t.index[key] = t.counter
	t.lowlink[key] = t.counter
	t.counter++
	t.stack = append(t.stack, key)
	t.onStack[key] = struct{}{}

	for _, dep := range sortedSet(t.graph.dependencies[key]) {
		if _, visited := t.index[dep]; !visited {
			t.visit(dep)
			t.lowlink[key] = min(t.lowlink[key], t.lowlink[dep])
		} else if _, ok := t.onStack[dep]; ok {
			t.lowlink[key] = min(t.lowlink[key], t.index[dep])
		}
	}

	if t.lowlink[key] != t.index[key] {
		return
	}

	var component []string
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		delete(t.onStack, top)
		component = append(component, top)
		if top == key {
			break
		}
	}

	_, selfLoop := t.graph.dependencies[key][key]
	if len(component) > 1 || selfLoop {
		for _, k := range component {
			t.cyclic[k] = struct{}{}
		}
	}
}

func sortedKeys(m map[string]set) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedSet(s set) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
