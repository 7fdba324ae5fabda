package depgraph

import "github.com/rafaeljc/heimdall-local/internal/flagdef"

// BuildResult is the outcome of Build.
type BuildResult struct {
	Graph *Graph

	// IDToKey maps flag ids (as strings) to flag keys.
	IDToKey map[string]string

	// Removed lists the keys dropped because they take part in a cycle.
	Removed []string
}

// Build creates an acyclic graph from a set of definitions.
// Flag-type matchers referencing unknown ids are skipped.
func Build(defs []flagdef.FlagDefinition) BuildResult {
	g := New()
	idToKey := make(map[string]string, len(defs))

	for i := range defs {
		g.AddFlag(defs[i].Key)
		idToKey[defs[i].IDString()] = defs[i].Key
	}

	for i := range defs {
		for _, id := range defs[i].DependencyIDs() {
			target, ok := idToKey[id]
			if !ok {
				continue
			}
			g.AddDependency(defs[i].Key, target)
		}
	}

	removed := g.RemoveCycles()

	return BuildResult{
		Graph:   g,
		IDToKey: idToKey,
		Removed: removed,
	}
}
