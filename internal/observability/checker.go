package observability

import "context"

// Checker is a dependency gating readiness. Check must honour ctx.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function into a named Checker.
type CheckerFunc struct {
	name  string
	check func(ctx context.Context) error
}

// NewChecker returns a Checker that reports name and runs check.
func NewChecker(name string, check func(ctx context.Context) error) *CheckerFunc {
	return &CheckerFunc{name: name, check: check}
}

// Name implements Checker.
func (c *CheckerFunc) Name() string { return c.name }

// Check implements Checker.
func (c *CheckerFunc) Check(ctx context.Context) error { return c.check(ctx) }
