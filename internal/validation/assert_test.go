package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "Should accept a slug", key: "new-checkout", wantErr: false},
		{name: "Should accept underscores and dots", key: "beta_v2.rollout", wantErr: false},
		{name: "Should reject an empty key", key: "", wantErr: true},
		{name: "Should reject spaces", key: "new checkout", wantErr: true},
		{name: "Should reject path separators", key: "a/b", wantErr: true},
		{name: "Should reject oversized keys", key: string(make([]byte, MaxFlagKeyLength+1)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Act
			err := FlagKey(tt.key)

			// Assert
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStruct(t *testing.T) {
	t.Parallel()

	type request struct {
		DistinctID string   `validate:"required"`
		Keys       []string `validate:"max=2,dive,flagkey"`
	}

	t.Run("Should accept a valid request", func(t *testing.T) {
		t.Parallel()

		// Act
		err := Struct(request{DistinctID: "user-1", Keys: []string{"a", "b"}})

		// Assert
		assert.NoError(t, err)
	})

	t.Run("Should report every failed field", func(t *testing.T) {
		t.Parallel()

		// Act
		err := Struct(request{Keys: []string{"bad key"}})

		// Assert
		var errs Errors
		require.ErrorAs(t, err, &errs)
		require.Len(t, errs, 2)
		assert.Equal(t, FieldError{Field: "request.DistinctID", Rule: "required"}, errs[0])
		assert.Equal(t, FieldError{Field: "request.Keys[0]", Rule: "flagkey"}, errs[1])
	})
}

func TestAssertNotNil(t *testing.T) {
	t.Parallel()

	// Arrange
	var missing *int
	present := new(int)

	// Act & Assert
	assert.PanicsWithValue(t, "critical error: store cannot be nil", func() { AssertNotNil(missing, "store") })
	assert.NotPanics(t, func() { AssertNotNil(present, "store") })
}
