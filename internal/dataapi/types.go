package dataapi

import (
	"encoding/json"

	"github.com/rafaeljc/heimdall-local/sdk"
)

// MaxKeysPerRequest bounds the keys of one bulk evaluation.
const MaxKeysPerRequest = 500

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EvaluateRequest is the body of the single-flag endpoint.
type EvaluateRequest struct {
	DistinctID       string                    `json:"distinct_id" validate:"required,max=1000"`
	Groups           map[string]string         `json:"groups,omitempty"`
	PersonProperties map[string]any            `json:"person_properties,omitempty"`
	GroupProperties  map[string]map[string]any `json:"group_properties,omitempty"`
}

// Context converts the request into an evaluation context.
func (r *EvaluateRequest) Context() sdk.Context {
	return sdk.Context{
		DistinctID:       r.DistinctID,
		Groups:           r.Groups,
		PersonProperties: r.PersonProperties,
		GroupProperties:  r.GroupProperties,
	}
}

// EvaluateAllRequest is the body of the bulk endpoint. An empty Keys
// evaluates every flag.
type EvaluateAllRequest struct {
	EvaluateRequest
	Keys []string `json:"keys,omitempty" validate:"max=500,dive,flagkey"`
}

// EvaluateResponse is the result of one flag. Value is a boolean or a
// variant key; it is omitted when the flag cannot be decided locally.
type EvaluateResponse struct {
	Key       string          `json:"key"`
	Value     *sdk.Value      `json:"value"`
	Evaluated bool            `json:"evaluated"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EvaluateAllResponse holds the decided flags and their payloads.
type EvaluateAllResponse struct {
	Flags    map[string]sdk.Value       `json:"flags"`
	Payloads map[string]json.RawMessage `json:"payloads"`
}
