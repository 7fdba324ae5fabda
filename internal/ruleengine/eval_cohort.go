package ruleengine

import (
	"errors"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

// maxCohortDepth stops runaway cohort-in-cohort references.
const maxCohortDepth = 16

// CohortEvaluator checks membership of a cohort defined in the snapshot.
// The matcher value is the cohort id.
type CohortEvaluator struct {
	property *PropertyEvaluator
}

// Match implements Evaluator.
func (e *CohortEvaluator) Match(m flagdef.PropertyMatcher, input MatchInput) (bool, error) {
	return e.matchCohort(stringify(m.Value), input, 0)
}

func (e *CohortEvaluator) matchCohort(id string, input MatchInput, depth int) (bool, error) {
	if depth > maxCohortDepth {
		return false, inconclusive("cohort %s nests too deeply", id)
	}
	cohort, ok := input.Snapshot.Cohort(id)
	if !ok {
		return false, inconclusive("cohort %s not found in local definitions", id)
	}
	return e.matchGroup(cohort, input, depth)
}

// matchGroup evaluates an AND/OR tree. In an OR group an inconclusive member
// only makes the group inconclusive when no other member matches.
func (e *CohortEvaluator) matchGroup(group flagdef.PropertyGroup, input MatchInput, depth int) (bool, error) {
	if len(group.Groups) == 0 && len(group.Matchers) == 0 {
		return true, nil
	}

	var pending error
	decide := func(matched bool, err error) (done bool, result bool, outErr error) {
		if err != nil {
			if group.Type == flagdef.OperatorAnd {
				return true, false, err
			}
			pending = err
			return false, false, nil
		}
		if group.Type == flagdef.OperatorAnd && !matched {
			return true, false, nil
		}
		if group.Type == flagdef.OperatorOr && matched {
			return true, true, nil
		}
		return false, false, nil
	}

	for _, child := range group.Groups {
		matched, err := e.matchGroup(child, input, depth)
		if done, result, groupErr := decide(matched, err); done {
			return result, groupErr
		}
	}

	for _, m := range group.Matchers {
		matched, err := e.matchMember(m, input, depth)
		if done, result, groupErr := decide(matched, err); done {
			return result, groupErr
		}
	}

	if group.Type == flagdef.OperatorAnd {
		return true, nil
	}
	if pending != nil {
		return false, pending
	}
	return false, nil
}

func (e *CohortEvaluator) matchMember(m flagdef.PropertyMatcher, input MatchInput, depth int) (bool, error) {
	var (
		matched bool
		err     error
	)
	switch m.Kind {
	case flagdef.KindCohort:
		matched, err = e.matchCohort(stringify(m.Value), input, depth+1)
	case flagdef.KindPerson, flagdef.KindGroup:
		matched, err = e.property.Match(m, input)
	default:
		return false, inconclusive("matcher kind %q not supported inside cohorts", m.Kind)
	}

	if err != nil {
		var inc *InconclusiveMatchError
		if !errors.As(err, &inc) {
			err = inconclusive("%v", err)
		}
		return false, err
	}
	if m.Negation {
		return !matched, nil
	}
	return matched, nil
}
