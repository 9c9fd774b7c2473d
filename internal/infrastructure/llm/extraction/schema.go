package extraction

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const responseSchema = `{
  "type": "object",
  "required": ["entries"],
  "properties": {
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["form", "code", "value"],
        "properties": {
          "form": {"type": "string", "minLength": 4},
          "code": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "value": {"type": "string"},
          "currency": {"type": "string"},
          "account_group": {"type": "integer", "minimum": 0},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("response.json", strings.NewReader(responseSchema)); err != nil {
			schemaErr = fmt.Errorf("add response schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("response.json")
	})
	return compiledSchema, schemaErr
}

func validateResponse(data []byte) error {
	schema, err := compiled()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}
