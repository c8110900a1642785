package gwconfig

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/tensorzero/gateway/internal/gwerrors"
)

// CompileSchema parses raw as a JSON Schema document and resolves it,
// catching malformed schemas (bad $ref, invalid keyword types) at the point
// they're declared rather than the first time a request happens to exercise
// them. Used both at config-load time for a function's static output_schema
// (component A "statically validates") and at request time for a dynamic
// output_schema or tool parameter schema (spec.md §4.F stage 1: "output_schema
// (if dynamic) is a valid JSON Schema").
func CompileSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindJSONSchema, err, "decode JSON Schema")
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindJSONSchema, err, "resolve JSON Schema")
	}

	return resolved, nil
}
