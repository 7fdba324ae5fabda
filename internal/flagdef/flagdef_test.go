package flagdef

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `{
  "flags": [
    {
      "id": 1,
      "key": "beta",
      "active": true,
      "filters": {
        "groups": [
          {"properties": [{"key": "email", "value": "@acme.com", "operator": "icontains"}], "rollout_percentage": 100},
          {"properties": [{"key": "2", "type": "flag", "value": true, "operator": "flag_evaluates_to"}]}
        ],
        "payloads": {"true": "{\"color\":\"blue\"}"}
      }
    },
    {
      "id": 2,
      "key": "checkout",
      "active": true,
      "filters": {
        "aggregation_group_type_index": 0,
        "multivariate": {"variants": [{"key": "a", "rollout_percentage": 50}, {"key": "b", "rollout_percentage": 50}]}
      }
    }
  ],
  "group_type_mapping": {"0": "company"},
  "cohorts": {
    "7": {"type": "OR", "values": [
      {"type": "AND", "values": [{"key": "plan", "value": "pro", "type": "person"}]},
      {"key": "country", "value": ["US", "CA"], "operator": "exact"}
    ]}
  }
}`

func TestDecode(t *testing.T) {
	t.Parallel()

	// Act
	snap, err := Decode([]byte(sampleDocument))

	// Assert
	require.NoError(t, err)
	require.Len(t, snap.Flags, 2)

	beta := snap.Flags[0]
	assert.Equal(t, "beta", beta.Key)
	assert.Equal(t, KindPerson, beta.Filters.Groups[0].Properties[0].Kind, "empty type should default to person")
	assert.Equal(t, KindFlag, beta.Filters.Groups[1].Properties[0].Kind)
	assert.Equal(t, []string{"2"}, beta.DependencyIDs())

	payload, ok := beta.Payload("true")
	require.True(t, ok)
	assert.JSONEq(t, `"{\"color\":\"blue\"}"`, string(payload))

	checkout := snap.Flags[1]
	require.NotNil(t, checkout.Filters.AggregationGroupTypeIndex)
	assert.True(t, checkout.HasVariant("b"))
	assert.False(t, checkout.HasVariant("c"))

	name, ok := snap.GroupTypeName(0)
	assert.True(t, ok)
	assert.Equal(t, "company", name)

	cohort, ok := snap.Cohort("7")
	require.True(t, ok)
	assert.Equal(t, OperatorOr, cohort.Type)
	require.Len(t, cohort.Groups, 1)
	assert.Equal(t, "plan", cohort.Groups[0].Matchers[0].Key)
	require.Len(t, cohort.Matchers, 1)
	assert.Equal(t, "country", cohort.Matchers[0].Key)
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "Should reject malformed JSON", input: `{"flags": [`},
		{name: "Should reject flags without key", input: `{"flags": [{"id": 1}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestSnapshot_EncodeRoundTrip(t *testing.T) {
	t.Parallel()

	// Arrange
	snap, err := Decode([]byte(sampleDocument))
	require.NoError(t, err)

	// Act
	data, err := snap.Encode()
	require.NoError(t, err)
	again, err := Decode(data)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, snap, again)
}

func TestFlagDefinition_ConditionGroups(t *testing.T) {
	t.Parallel()

	rollout := 30.0

	t.Run("Should synthesize a group from the legacy rollout", func(t *testing.T) {
		t.Parallel()

		def := FlagDefinition{Key: "legacy", RolloutPercentage: &rollout}
		groups := def.ConditionGroups()

		require.Len(t, groups, 1)
		assert.Empty(t, groups[0].Properties)
		assert.Equal(t, &rollout, groups[0].RolloutPercentage)
	})

	t.Run("Should prefer explicit groups", func(t *testing.T) {
		t.Parallel()

		def := FlagDefinition{
			Key:               "modern",
			RolloutPercentage: &rollout,
			Filters:           Filters{Groups: []ConditionGroup{{}, {}}},
		}
		assert.Len(t, def.ConditionGroups(), 2)
	})
}

func TestSnapshot_Merge(t *testing.T) {
	t.Parallel()

	// Arrange
	old := &Snapshot{
		Flags: []FlagDefinition{
			{ID: 1, Key: "a", Active: false},
			{ID: 2, Key: "b", Active: true},
		},
		GroupTypeMapping: map[string]string{"0": "company"},
	}
	newer := &Snapshot{
		Flags: []FlagDefinition{
			{ID: 1, Key: "a", Active: true},
			{ID: 3, Key: "c", Active: true},
		},
		GroupTypeMapping: map[string]string{"1": "project"},
	}

	// Act
	merged := old.Merge(newer)

	// Assert
	require.Len(t, merged.Flags, 3)
	assert.Equal(t, "a", merged.Flags[0].Key)
	assert.True(t, merged.Flags[0].Active, "newer definition should override")
	assert.Equal(t, "b", merged.Flags[1].Key, "flags missing from the newer snapshot should survive")
	assert.Equal(t, "c", merged.Flags[2].Key)
	assert.Equal(t, map[string]string{"0": "company", "1": "project"}, merged.GroupTypeMapping)

	assert.False(t, old.Flags[0].Active, "merge must not mutate the receiver")
	assert.Same(t, newer, (*Snapshot)(nil).Merge(newer))
}

func TestValue_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{name: "Should encode false", value: False, want: `false`},
		{name: "Should encode true", value: True, want: `true`},
		{name: "Should encode variants as strings", value: VariantValue("control"), want: `"control"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			var back Value
			require.NoError(t, json.Unmarshal(data, &back))
			assert.Equal(t, tt.value, back)
		})
	}
}

func TestValidateDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "Should accept a complete document", input: sampleDocument},
		{name: "Should accept an empty flag list", input: `{"flags": []}`},
		{name: "Should reject a document without flags", input: `{"cohorts": {}}`, wantErr: true},
		{name: "Should reject a rollout above 100", input: `{"flags": [{"id": 1, "key": "x", "rollout_percentage": 120}]}`, wantErr: true},
		{name: "Should reject a flag without id", input: `{"flags": [{"key": "x"}]}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateDocument([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
