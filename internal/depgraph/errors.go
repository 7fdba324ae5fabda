package depgraph

import "fmt"

// CyclicDependencyError is returned by TopologicalSort when the graph still
// contains a cycle. Graphs produced by Build never do.
type CyclicDependencyError struct {
	Key string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected involving flag %q", e.Key)
}
