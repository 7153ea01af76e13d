package openapi

import (
	"errors"
	"strconv"
	"strings"
)

// errExternalRef is returned for any $ref that is not an internal "#/..."
// pointer; external refs are refused per spec §4.1.
var errExternalRef = errors.New("openapi: external $ref is not supported")

// refResolver resolves internal JSON-pointer $ref values against the root
// document. It does not attempt cycle detection beyond a fixed resolution
// depth; documents with genuine $ref cycles are not expected (spec §4.1).
type refResolver struct {
	root map[string]any
}

func newRefResolver(root map[string]any) *refResolver {
	return &refResolver{root: root}
}

const maxRefDepth = 32

// resolveObject returns v as a map[string]any, following a single $ref chain
// if v is a $ref object. Returns errExternalRef if any link in the chain is
// an external reference.
func (r *refResolver) resolveObject(v any) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("openapi: expected object")
	}
	for depth := 0; depth < maxRefDepth; depth++ {
		refRaw, ok := obj["$ref"]
		if !ok {
			return obj, nil
		}
		ref, ok := refRaw.(string)
		if !ok {
			return nil, errors.New("openapi: $ref must be a string")
		}
		resolved, err := r.resolvePointer(ref)
		if err != nil {
			return nil, err
		}
		obj = resolved
	}
	return nil, errors.New("openapi: $ref resolution exceeded max depth (possible cycle)")
}

// resolvePointer resolves a single "#/a/b/c" JSON pointer against the root
// document, unescaping "~1" -> "/" and "~0" -> "~" in each token.
func (r *refResolver) resolvePointer(ref string) (map[string]any, error) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, errExternalRef
	}
	tokens := strings.Split(strings.TrimPrefix(ref, "#/"), "/")

	var cur any = r.root
	for _, tok := range tokens {
		tok = unescapeJSONPointerToken(tok)
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[tok]
			if !ok {
				return nil, errors.New("openapi: $ref token not found: " + tok)
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, errors.New("openapi: $ref array index out of range: " + tok)
			}
			cur = node[idx]
		default:
			return nil, errors.New("openapi: $ref traverses into a non-container value")
		}
	}

	obj, ok := cur.(map[string]any)
	if !ok {
		return nil, errors.New("openapi: $ref does not resolve to an object")
	}
	return obj, nil
}

// unescapeJSONPointerToken reverses the RFC 6901 escaping of "/" and "~" in
// a single pointer token: "~1" -> "/" then "~0" -> "~" (order matters).
func unescapeJSONPointerToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}
