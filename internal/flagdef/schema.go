package flagdef

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const definitionsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["flags"],
  "properties": {
    "flags": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "key"],
        "properties": {
          "id": {"type": "integer"},
          "key": {"type": "string", "minLength": 1},
          "active": {"type": "boolean"},
          "deleted": {"type": "boolean"},
          "rollout_percentage": {"type": ["number", "null"], "minimum": 0, "maximum": 100},
          "ensure_experience_continuity": {"type": ["boolean", "null"]},
          "filters": {
            "type": "object",
            "properties": {
              "aggregation_group_type_index": {"type": ["integer", "null"]},
              "groups": {
                "type": "array",
                "items": {
                  "type": "object",
                  "properties": {
                    "properties": {"type": ["array", "null"], "items": {"$ref": "#/definitions/matcher"}},
                    "rollout_percentage": {"type": ["number", "null"], "minimum": 0, "maximum": 100},
                    "variant": {"type": ["string", "null"]}
                  }
                }
              },
              "multivariate": {
                "type": ["object", "null"],
                "properties": {
                  "variants": {
                    "type": "array",
                    "items": {
                      "type": "object",
                      "required": ["key", "rollout_percentage"],
                      "properties": {
                        "key": {"type": "string", "minLength": 1},
                        "rollout_percentage": {"type": "number", "minimum": 0, "maximum": 100}
                      }
                    }
                  }
                }
              },
              "payloads": {"type": ["object", "null"]}
            }
          }
        }
      }
    },
    "group_type_mapping": {
      "type": ["object", "null"],
      "additionalProperties": {"type": "string"}
    },
    "cohorts": {"type": ["object", "null"]}
  },
  "definitions": {
    "matcher": {
      "type": "object",
      "required": ["key"],
      "properties": {
        "key": {"type": "string"},
        "type": {"type": "string"},
        "operator": {"type": ["string", "null"]},
        "negation": {"type": ["boolean", "null"]}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(definitionsSchema)

// ValidateDocument checks a raw definitions document against the schema.
// The returned error lists every violation.
func ValidateDocument(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate flag definitions: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("invalid flag definitions: %s", strings.Join(problems, "; "))
}
