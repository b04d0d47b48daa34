package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CanonicalizeOmitting canonicalizes v with the named dotted paths removed
// first. Only the addressed leaf is dropped; siblings and key ordering of
// everything that remains are untouched. This is the primitive behind every
// hash-then-sign-excluding-the-signature computation: receipt ids, link
// hashes, policy hashes, and object signatures all canonicalize through
// here.
//
// A path that does not resolve is ignored; the field it names is already
// absent from the canonical form either way.
func CanonicalizeOmitting(v any, paths []string) ([]byte, error) {
	tree, err := toTree(v)
	if err != nil {
		return nil, err
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		omitPath(tree, strings.Split(path, "."))
	}
	buf := &bytes.Buffer{}
	if err := writeCanonical(buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toTree converts an arbitrary JSON-representable value into the mutable
// map/slice tree the omission pass edits. The clone means callers' values
// are never modified.
func toTree(v any) (any, error) {
	switch value := v.(type) {
	case json.RawMessage:
		return DecodeJSON([]byte(value))
	case []byte:
		return DecodeJSON(value)
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode for omission: %w", err)
		}
		return DecodeJSON(b)
	}
}

func omitPath(node any, segments []string) {
	obj, ok := node.(map[string]any)
	if !ok || len(segments) == 0 {
		return
	}
	if len(segments) == 1 {
		delete(obj, segments[0])
		return
	}
	omitPath(obj[segments[0]], segments[1:])
}
