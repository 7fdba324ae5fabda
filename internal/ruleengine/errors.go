package ruleengine

import "fmt"

// InconclusiveMatchError signals that a condition cannot be decided with the
// data available locally. A flag that hits it evaluates as undefined, not false.
type InconclusiveMatchError struct {
	Reason string
}

func (e *InconclusiveMatchError) Error() string {
	return fmt.Sprintf("inconclusive match: %s", e.Reason)
}

func inconclusive(format string, args ...any) error {
	return &InconclusiveMatchError{Reason: fmt.Sprintf(format, args...)}
}
