package regime

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// persistedStateSchema guards restores: a row written by an older build or
// corrupted on disk must be rejected up front instead of leaking zero values
// into the streak.
const persistedStateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["regime", "confidence", "consecutive_periods", "history"],
  "properties": {
    "regime": {
      "type": "string",
      "enum": ["uptrend", "downtrend", "ranging", "neutral"]
    },
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "consecutive_periods": {"type": "integer", "minimum": 0},
    "confirmation_threshold": {"type": "integer", "minimum": 1},
    "calculated_at_ms": {"type": "integer", "minimum": 0},
    "history": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["regime", "timestamp"],
        "properties": {
          "regime": {"type": "string"},
          "timestamp": {"type": "string"}
        }
      }
    }
  }
}`

var compiledStateSchema = mustCompileStateSchema()

func mustCompileStateSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("regime_state.json", bytes.NewReader([]byte(persistedStateSchema))); err != nil {
		panic(fmt.Sprintf("regime: adding state schema: %v", err))
	}
	schema, err := compiler.Compile("regime_state.json")
	if err != nil {
		panic(fmt.Sprintf("regime: compiling state schema: %v", err))
	}
	return schema
}

// ValidatePersistedState checks a raw payload against the state schema.
func ValidatePersistedState(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty regime payload")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("regime payload is not valid JSON: %w", err)
	}
	if err := compiledStateSchema.Validate(doc); err != nil {
		return fmt.Errorf("regime payload failed schema validation: %w", err)
	}
	return nil
}
