package ruleengine

import (
	"github.com/spaolacci/murmur3"

	"github.com/rafaeljc/heimdall-local/internal/flagdef"
)

// variantSalt separates variant bucketing from rollout bucketing.
const variantSalt = "variant"

// Hasher maps (flag key, bucketing id, salt) to a deterministic value in [0, 1).
type Hasher interface {
	Hash(flagKey, bucketingID, salt string) float64
}

// Murmur3Hasher is the default Hasher.
// The same id always lands in the same bucket for a flag, and the flag key
// keeps buckets independent across flags.
type Murmur3Hasher struct{}

// Hash implements Hasher.
func (Murmur3Hasher) Hash(flagKey, bucketingID, salt string) float64 {
	sum := murmur3.Sum64([]byte(flagKey + "." + bucketingID + salt))
	// Keep the top 53 bits so the result fits a float64 mantissa and stays below 1.
	return float64(sum>>11) / float64(uint64(1)<<53)
}

// inRollout reports whether the id falls inside a rollout percentage (0-100).
// A nil percentage means everyone.
func inRollout(h Hasher, flagKey, bucketingID string, percentage *float64) bool {
	if percentage == nil {
		return true
	}
	return h.Hash(flagKey, bucketingID, "") < *percentage/100
}

// matchingVariant picks a variant over cumulative rollout ranges.
func matchingVariant(h Hasher, def *flagdef.FlagDefinition, bucketingID string) (string, bool) {
	variants := def.Variants()
	if len(variants) == 0 {
		return "", false
	}

	value := h.Hash(def.Key, bucketingID, variantSalt)
	upper := 0.0
	for _, v := range variants {
		upper += v.RolloutPercentage / 100
		if value < upper {
			return v.Key, true
		}
	}
	return "", false
}
