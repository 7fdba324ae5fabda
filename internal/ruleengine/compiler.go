package ruleengine

import (
	"fmt"
	"regexp"

	"github.com/maypok86/otter"
)

// MaxCachedPatterns bounds the number of compiled regular expressions kept
// across evaluations.
const MaxCachedPatterns = 1_000

// patternCache memoizes compiled regex matchers. Invalid patterns are cached
// as nil so they are not recompiled on every check.
type patternCache struct {
	store otter.Cache[string, *regexp.Regexp]
}

func newPatternCache(capacity int) (*patternCache, error) {
	store, err := otter.MustBuilder[string, *regexp.Regexp](capacity).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build pattern cache: %w", err)
	}
	return &patternCache{store: store}, nil
}

func (c *patternCache) compile(expr string) (*regexp.Regexp, error) {
	if c != nil {
		if re, ok := c.store.Get(expr); ok {
			if re == nil {
				return nil, fmt.Errorf("invalid pattern %q", expr)
			}
			return re, nil
		}
	}

	re, err := regexp.Compile(expr)
	if c != nil {
		c.store.Set(expr, re)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", expr, err)
	}
	return re, nil
}

func (c *patternCache) close() {
	if c != nil {
		c.store.Close()
	}
}
