// Package openapi implements the OpenAPI Spec Parser (component C1) and the
// Connector Tool Provider built on top of it (component C2). The parser
// reduces a raw OpenAPI document to an ordered list of Operations with all
// internal $ref pointers resolved; the connector wraps each Operation as a
// model.Tool that performs the described HTTP call.
package openapi

import (
	"sort"
	"strings"

	"github.com/ulifeai/agentb/errs"
)

// httpMethods is the fixed set of methods the parser inspects on each path
// item, in the order operations are emitted for a given path.
var httpMethods = []string{"get", "post", "put", "delete", "patch", "options", "head", "trace"}

// Parameter describes one operation parameter after $ref resolution.
type Parameter struct {
	Name        string
	In          string // "path" | "query" | "header" | "cookie"
	Description string
	Required    bool
	Schema      map[string]any
}

// RequestBody describes an operation's application/json request body, when
// present (spec §4.1: only the application/json media type is extracted).
type RequestBody struct {
	Required bool
	Schema   map[string]any
}

// Operation is one HTTP operation extracted from the document.
type Operation struct {
	Method      string
	Path        string
	OperationID string
	Summary     string
	Tags        []string
	Parameters  []Parameter
	RequestBody *RequestBody
}

// ParameterSchema derives the JSON-Schema object for this operation's
// parameters and request body (spec §4.1): properties per parameter
// (annotated with description when missing one), required listing the
// sorted names of required parameters, plus a "requestBody" property/required
// entry when the operation has one.
func (op Operation) ParameterSchema() map[string]any {
	props := make(map[string]any, len(op.Parameters)+1)
	var required []string
	for _, p := range op.Parameters {
		s := make(map[string]any, len(p.Schema)+1)
		for k, v := range p.Schema {
			s[k] = v
		}
		if _, ok := s["description"]; !ok && p.Description != "" {
			s["description"] = p.Description
		}
		props[p.Name] = s
		if p.Required {
			required = append(required, p.Name)
		}
	}
	if op.RequestBody != nil {
		props["requestBody"] = op.RequestBody.Schema
		if op.RequestBody.Required {
			required = append(required, "requestBody")
		}
	}
	sort.Strings(required)
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Document is a parsed OpenAPI document, exposing the resolved Operations.
type Document struct {
	raw        map[string]any
	Operations []Operation
}

// Parse validates and parses a raw OpenAPI document (decoded from JSON or
// YAML into a generic map), returning its resolved Operations. When
// tagFilter is non-empty, operations whose tags do not contain it are
// skipped.
func Parse(raw map[string]any, tagFilter string) (*Document, error) {
	if _, ok := raw["openapi"]; !ok {
		return nil, errs.New(errs.KindConfiguration, "openapi document missing required \"openapi\" field")
	}
	pathsRaw, ok := raw["paths"]
	if !ok {
		return nil, errs.New(errs.KindConfiguration, "openapi document missing required \"paths\" field")
	}
	paths, ok := pathsRaw.(map[string]any)
	if !ok {
		return nil, errs.New(errs.KindConfiguration, "openapi \"paths\" field must be an object")
	}

	resolver := newRefResolver(raw)

	var ops []Operation
	// Sort path keys for deterministic ordering across runs.
	pathKeys := make([]string, 0, len(paths))
	for p := range paths {
		pathKeys = append(pathKeys, p)
	}
	sort.Strings(pathKeys)

	for _, path := range pathKeys {
		itemRaw := paths[path]
		item, err := resolver.resolveObject(itemRaw)
		if err != nil {
			continue // unresolvable $ref: skip this path item
		}
		for _, method := range httpMethods {
			opRaw, ok := item[method]
			if !ok {
				continue
			}
			opObj, err := resolver.resolveObject(opRaw)
			if err != nil {
				continue
			}
			op, skip := buildOperation(resolver, method, path, opObj)
			if skip {
				continue
			}
			if tagFilter != "" && !containsTag(op.Tags, tagFilter) {
				continue
			}
			ops = append(ops, op)
		}
	}

	return &Document{raw: raw, Operations: ops}, nil
}

func buildOperation(resolver *refResolver, method, path string, opObj map[string]any) (Operation, bool) {
	opID, _ := opObj["operationId"].(string)
	if opID == "" {
		// Spec §4.1: operations without operation_id are skipped (warn is the
		// caller's responsibility; this package is pure and side-effect free).
		return Operation{}, true
	}

	op := Operation{
		Method:      method,
		Path:        path,
		OperationID: opID,
	}
	if s, ok := opObj["summary"].(string); ok {
		op.Summary = s
	}
	if tagsRaw, ok := opObj["tags"].([]any); ok {
		for _, t := range tagsRaw {
			if ts, ok := t.(string); ok {
				op.Tags = append(op.Tags, ts)
			}
		}
	}

	if paramsRaw, ok := opObj["parameters"].([]any); ok {
		for _, pRaw := range paramsRaw {
			pObj, err := resolver.resolveObject(pRaw)
			if err != nil {
				continue
			}
			op.Parameters = append(op.Parameters, buildParameter(pObj))
		}
	}

	if rbRaw, ok := opObj["requestBody"]; ok {
		rbObj, err := resolver.resolveObject(rbRaw)
		if err == nil {
			if rb := buildRequestBody(rbObj); rb != nil {
				op.RequestBody = rb
			}
		}
	}

	return op, false
}

func buildParameter(pObj map[string]any) Parameter {
	p := Parameter{}
	if v, ok := pObj["name"].(string); ok {
		p.Name = v
	}
	if v, ok := pObj["in"].(string); ok {
		p.In = v
	}
	if v, ok := pObj["description"].(string); ok {
		p.Description = v
	}
	if v, ok := pObj["required"].(bool); ok {
		p.Required = v
	}
	if v, ok := pObj["schema"].(map[string]any); ok {
		p.Schema = v
	} else {
		p.Schema = map[string]any{"type": "string"}
	}
	return p
}

func buildRequestBody(rbObj map[string]any) *RequestBody {
	contentRaw, ok := rbObj["content"].(map[string]any)
	if !ok {
		return nil
	}
	jsonMedia, ok := contentRaw["application/json"].(map[string]any)
	if !ok {
		return nil // only application/json is extracted (spec §4.1)
	}
	rb := &RequestBody{}
	if v, ok := rbObj["required"].(bool); ok {
		rb.Required = v
	}
	if schema, ok := jsonMedia["schema"].(map[string]any); ok {
		rb.Schema = schema
	} else {
		rb.Schema = map[string]any{"type": "object"}
	}
	return rb
}

// Tags returns the sorted, deduplicated set of tags present across every
// resolved operation, for callers partitioning a document by tag (the
// Toolset Orchestrator's byTag strategy).
func (d *Document) Tags() []string {
	seen := make(map[string]struct{})
	for _, op := range d.Operations {
		for _, t := range op.Tags {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SanitizeToolName converts an operationId into a valid tool name (spec
// §4.2: tools are named after the sanitized operation_id).
func SanitizeToolName(operationID string) string {
	var b strings.Builder
	for _, r := range operationID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := b.String()
	if len(name) > 64 {
		name = name[:64]
	}
	if name == "" {
		name = "operation"
	}
	return name
}
