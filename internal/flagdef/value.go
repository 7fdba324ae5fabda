package flagdef

import (
	"encoding/json"
	"strconv"
)

// Value is an evaluated flag result: false, true, or a variant key.
// A variant counts as enabled.
type Value struct {
	Enabled bool
	Variant string
}

var (
	// False is the disabled result.
	False = Value{}
	// True is the enabled result of a boolean flag.
	True = Value{Enabled: true}
)

// VariantValue returns the result selecting the given variant.
func VariantValue(key string) Value {
	return Value{Enabled: true, Variant: key}
}

// IsVariant reports whether the value carries a variant key.
func (v Value) IsVariant() bool {
	return v.Variant != ""
}

// PayloadKey is the key under which the payload for this result is stored.
func (v Value) PayloadKey() string {
	if v.IsVariant() {
		return v.Variant
	}
	return strconv.FormatBool(v.Enabled)
}

// String renders the value as "true", "false" or the variant key.
func (v Value) String() string {
	return v.PayloadKey()
}

// Interface returns a bool or a string, as exposed by the public client.
func (v Value) Interface() any {
	if v.IsVariant() {
		return v.Variant
	}
	return v.Enabled
}

// MarshalJSON encodes booleans as JSON booleans and variants as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts a JSON boolean or string.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case bool:
		*v = Value{Enabled: t}
	case string:
		*v = VariantValue(t)
	default:
		*v = False
	}
	return nil
}
