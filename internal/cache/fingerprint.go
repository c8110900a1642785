package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/tensorzero/gateway/internal/provider"
)

// authFieldNames are stripped recursively from the downstream request body
// before hashing, so a cache key never depends on credential material
// (spec.md §4.E: "Cache-write excludes any Authorization-like fields").
var authFieldNames = map[string]bool{
	"authorization": true,
	"api_key":       true,
	"apikey":        true,
	"x-api-key":     true,
}

// Fingerprint computes the deterministic cache key for one downstream model
// call: provider type, model identifier, and the canonicalized request body
// (messages, system, tools, tool_choice, sampling params, JSON-mode flag).
// Two calls whose canonicalized bodies are byte-equal always produce equal
// fingerprints, regardless of the original key ordering in downstreamBody.
func Fingerprint(providerType provider.Type, modelID string, downstreamBody []byte) (string, error) {
	canon, err := canonicalize(downstreamBody)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(providerType))
	h.Write([]byte{0})
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write(canon)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalize re-marshals body through encoding/json, which sorts
// map[string]any keys on output, yielding a stable byte representation
// independent of the original field order. Authorization-like fields are
// stripped first.
func canonicalize(body []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}

	stripAuthFields(v)

	return json.Marshal(v)
}

func stripAuthFields(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if authFieldNames[strings.ToLower(k)] {
				delete(t, k)
				continue
			}

			stripAuthFields(child)
		}
	case []any:
		for _, e := range t {
			stripAuthFields(e)
		}
	}
}
