package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator is implemented by result types that carry business rules
// beyond what JSON Schema can express.
type Validator interface {
	Validate() error
}

var schemaCache sync.Map // schema name -> *jsonschema.Schema

// decodeValidated parses extracted JSON, checks it against schema and
// decodes it into T. Every failure is CategoryInvalidJSON so the caller
// can hand the message to the repair sub-call.
func decodeValidated[T any](schema *Schema, extracted string) (T, error) {
	var zero T

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(extracted))
	if err != nil {
		return zero, invalidJSON("invalid JSON: %v", err)
	}
	if schema != nil {
		compiled, err := compiledSchema(schema)
		if err != nil {
			// A broken schema is a programming error, not model output.
			return zero, wrapError(CategoryServerError, err, "compile schema %q: %v", schema.Name, err)
		}
		if err := compiled.Validate(parsed); err != nil {
			return zero, invalidJSON("schema validation failed: %v", err)
		}
	}

	var out T
	dec := json.NewDecoder(bytes.NewReader([]byte(extracted)))
	if err := dec.Decode(&out); err != nil {
		return zero, invalidJSON("decode: %v", err)
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return zero, invalidJSON("validation failed: %v", err)
		}
	} else if v, ok := any(out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return zero, invalidJSON("validation failed: %v", err)
		}
	}
	return out, nil
}

func invalidJSON(format string, args ...any) *Error {
	return newError(CategoryInvalidJSON, format, args...)
}

// compiledSchema compiles schema once per name.
func compiledSchema(schema *Schema) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(schema.Name); ok {
		return cached.(*jsonschema.Schema), nil
	}

	// Round-trip through JSON so numbers are json.Number as the compiler expects.
	raw, err := json.Marshal(schema.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", schema.Name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", schema.Name, err)
	}

	url := "mem://schemas/" + schema.Name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add %s: %w", schema.Name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", schema.Name, err)
	}

	schemaCache.Store(schema.Name, compiled)
	return compiled, nil
}
