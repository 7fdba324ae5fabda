package ruleengine

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/rafaeljc/heimdall-local/internal/depgraph"
	"github.com/rafaeljc/heimdall-local/internal/flagdef"
	"github.com/rafaeljc/heimdall-local/internal/store"
)

// Engine is the orchestrator for local flag evaluation.
// It never mutates the State it is given.
type Engine struct {
	logger     *slog.Logger
	hasher     Hasher
	patterns   *patternCache
	strategies map[flagdef.MatcherKind]Evaluator
}

// NewEngine creates an Engine. A nil logger defaults to slog.Default() and a
// nil hasher to Murmur3Hasher.
func NewEngine(logger *slog.Logger, hasher Hasher) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if hasher == nil {
		hasher = Murmur3Hasher{}
	}

	patterns, err := newPatternCache(MaxCachedPatterns)
	if err != nil {
		logger.Warn("regex pattern cache disabled", "error", err)
		patterns = nil
	}

	property := &PropertyEvaluator{patterns: patterns, now: time.Now}

	return &Engine{
		logger:   logger,
		hasher:   hasher,
		patterns: patterns,
		strategies: map[flagdef.MatcherKind]Evaluator{
			flagdef.KindPerson: property,
			flagdef.KindGroup:  property,
			flagdef.KindCohort: &CohortEvaluator{property: property},
			flagdef.KindFlag:   &FlagDependencyEvaluator{},
		},
	}
}

// Close releases the background resources of the pattern cache.
func (e *Engine) Close() {
	e.patterns.close()
}

// Evaluate computes a single flag. ok is false when the flag is unknown,
// was removed because of a dependency cycle, or cannot be decided locally.
func (e *Engine) Evaluate(state *store.State, key string, ctx Context) (flagdef.Value, bool) {
	if !state.Evaluable(key) {
		return flagdef.False, false
	}

	pass := state.Graph.FilterByKeys([]string{key})
	e.run(state, pass, ctx)
	return pass.Cached(key)
}

// EvaluateAll computes the requested flags, or every evaluable flag when keys
// is empty. Flags that cannot be decided are left out of the result.
func (e *Engine) EvaluateAll(state *store.State, keys []string, ctx Context) map[string]flagdef.Value {
	results := make(map[string]flagdef.Value)
	if state == nil {
		return results
	}
	if len(keys) == 0 {
		keys = state.Keys()
	}

	pass := state.Graph.FilterByKeys(keys)
	e.run(state, pass, ctx)

	for _, key := range keys {
		if v, ok := pass.Cached(key); ok {
			results[key] = v
		}
	}
	return results
}

// Payload returns the payload attached to the evaluated value of def.
// Disabled results have no payload.
func (e *Engine) Payload(def *flagdef.FlagDefinition, value flagdef.Value) (json.RawMessage, bool) {
	if def == nil || !value.Enabled {
		return nil, false
	}
	return def.Payload(value.PayloadKey())
}

// run evaluates every flag of pass in dependency order, memoizing each result
// in pass so dependents can read it.
func (e *Engine) run(state *store.State, pass *depgraph.Graph, ctx Context) {
	order, err := pass.TopologicalSort()
	if err != nil {
		e.logger.Error("flag evaluation aborted", "error", err)
		return
	}

	resolve := func(id string) (flagdef.Value, bool) {
		key, ok := state.IDToKey[id]
		if !ok {
			return flagdef.False, false
		}
		return pass.Cached(key)
	}

	for _, key := range order {
		def, ok := state.Flag(key)
		if !ok {
			continue
		}

		value, err := e.evaluateFlag(def, state.Snapshot, ctx, resolve)
		if err != nil {
			e.logger.Debug("flag evaluation inconclusive",
				"flag_key", key,
				"distinct_id", ctx.DistinctID,
				"reason", err.Error(),
			)
			continue
		}
		pass.SetCached(key, value)
	}
}

func (e *Engine) evaluateFlag(
	def *flagdef.FlagDefinition,
	snapshot *flagdef.Snapshot,
	ctx Context,
	resolve func(string) (flagdef.Value, bool),
) (flagdef.Value, error) {
	if !def.Active || def.Deleted {
		return flagdef.False, nil
	}
	if def.EnsureExperienceContinuity {
		return flagdef.False, inconclusive("flag %s requires experience continuity", def.Key)
	}

	input := MatchInput{
		FlagKey:  def.Key,
		Context:  ctx,
		Snapshot: snapshot,
		Resolve:  resolve,
	}
	bucketingID := ctx.DistinctID

	if idx := def.Filters.AggregationGroupTypeIndex; idx != nil {
		group, ok := snapshot.GroupTypeName(*idx)
		if !ok {
			return flagdef.False, inconclusive("flag %s has unknown group type index %d", def.Key, *idx)
		}
		groupKey, ok := ctx.Groups[group]
		if !ok {
			e.logger.Warn("group flag evaluated without group",
				"flag_key", def.Key,
				"group_type", group,
			)
			return flagdef.False, nil
		}
		input.AggregationGroup = group
		input.Context.PersonProperties = ctx.GroupProperties[group]
		bucketingID = groupKey
	}

	return e.matchConditions(def, input, bucketingID)
}

// matchConditions returns the result of the first matching condition group.
// Groups with a variant override are tried first.
func (e *Engine) matchConditions(def *flagdef.FlagDefinition, input MatchInput, bucketingID string) (flagdef.Value, error) {
	groups := append([]flagdef.ConditionGroup(nil), def.ConditionGroups()...)
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Variant != nil && groups[j].Variant == nil
	})

	var pending error
	for _, group := range groups {
		matched, err := e.matchGroup(def, group, input, bucketingID)
		if err != nil {
			pending = err
			continue
		}
		if !matched {
			continue
		}

		if group.Variant != nil && def.HasVariant(*group.Variant) {
			return flagdef.VariantValue(*group.Variant), nil
		}
		if variant, ok := matchingVariant(e.hasher, def, bucketingID); ok {
			return flagdef.VariantValue(variant), nil
		}
		return flagdef.True, nil
	}

	if pending != nil {
		return flagdef.False, pending
	}
	return flagdef.False, nil
}

// matchGroup ANDs the matchers of a condition group and applies its rollout.
func (e *Engine) matchGroup(def *flagdef.FlagDefinition, group flagdef.ConditionGroup, input MatchInput, bucketingID string) (bool, error) {
	for _, m := range group.Properties {
		strategy, exists := e.strategies[m.Kind]
		if !exists {
			// Fail open: an unknown matcher kind must not break the whole flag.
			e.logger.Warn("skipping unknown matcher kind",
				"type", string(m.Kind),
				"flag_key", def.Key,
			)
			continue
		}

		matched, err := strategy.Match(m, input)
		if err != nil {
			var inc *InconclusiveMatchError
			if errors.As(err, &inc) {
				return false, err
			}
			e.logger.Error("matcher evaluation failed",
				"error", err,
				"flag_key", def.Key,
				"type", string(m.Kind),
			)
			return false, inconclusive("%v", err)
		}
		if !matched {
			return false, nil
		}
	}

	return inRollout(e.hasher, def.Key, bucketingID, group.RolloutPercentage), nil
}
