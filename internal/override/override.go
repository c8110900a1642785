// Package override applies per-variant JSON body patches. internal/inference
// applies them to the cache-key payload before fingerprinting; the request
// handed to provider adapters is not patched. Grounded on the teacher's
// internal/server/orchestrator/override.go, which patches outbound request
// bodies the same way (gjson to read, sjson to write) for its channel-level
// override feature; here the same four operations are driven by a variant's
// configured dynamic_overrides rather than a channel's stored operations.
package override

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tensorzero/gateway/internal/gwerrors"
)

// Op names one of the four supported patch operations.
type Op string

const (
	OpSet    Op = "set"
	OpDelete Op = "delete"
	OpRename Op = "rename"
	OpCopy   Op = "copy"
)

// Operation is one configured body patch, keyed by gjson/sjson path syntax.
type Operation struct {
	Op    Op     `mapstructure:"op"`
	Path  string `mapstructure:"path"`
	From  string `mapstructure:"from"`
	To    string `mapstructure:"to"`
	Value any    `mapstructure:"value"`
}

// Apply runs ops over body in order, returning the patched body. An
// operation referencing a path that doesn't exist (rename/copy's "from") is
// a silent no-op, matching the teacher's behavior: dynamic overrides never
// fail a request over a missing optional field.
func Apply(body []byte, ops []Operation) ([]byte, error) {
	for _, op := range ops {
		var err error

		switch op.Op {
		case OpSet:
			body, err = sjson.SetBytes(body, op.Path, op.Value)
		case OpDelete:
			body, err = sjson.DeleteBytes(body, op.Path)
		case OpRename:
			body, err = rename(body, op.From, op.To)
		case OpCopy:
			body, err = copyPath(body, op.From, op.To)
		default:
			return nil, gwerrors.New(gwerrors.KindInvalidRequest, "unknown override op %q", op.Op)
		}

		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.KindInvalidRequest, err, "applying override op %q at %q", op.Op, op.Path)
		}
	}

	return body, nil
}

func rename(body []byte, from, to string) ([]byte, error) {
	result := gjson.GetBytes(body, from)
	if !result.Exists() {
		return body, nil
	}

	body, err := sjson.DeleteBytes(body, from)
	if err != nil {
		return body, err
	}

	return sjson.SetBytes(body, to, result.Value())
}

func copyPath(body []byte, from, to string) ([]byte, error) {
	result := gjson.GetBytes(body, from)
	if !result.Exists() {
		return body, nil
	}

	return sjson.SetBytes(body, to, result.Value())
}
