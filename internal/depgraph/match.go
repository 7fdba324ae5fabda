package depgraph

import "github.com/rafaeljc/heimdall-local/internal/flagdef"

// MatchFlagDependency compares the expected value of a flag-type matcher with
// the evaluated result of the referenced flag:
//
//	true      matches anything that is not exactly false (variants included)
//	false     matches only false
//	"variant" matches only that exact variant
//
// Any other expected value never matches.
func MatchFlagDependency(expected any, actual flagdef.Value) bool {
	switch want := expected.(type) {
	case bool:
		if want {
			return actual.Enabled
		}
		return !actual.Enabled
	case string:
		return actual.IsVariant() && actual.Variant == want
	default:
		return false
	}
}
