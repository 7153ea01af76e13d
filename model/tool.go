package model

import (
	"context"
	"regexp"
)

// toolNamePattern enforces the cross-provider tool-name constraint from
// spec §3 and §6.1: 1-64 characters from [A-Za-z0-9_-].
var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidToolName reports whether name satisfies the tool-name constraint.
func ValidToolName(name string) bool {
	return toolNamePattern.MatchString(name)
}

// ToolParameter describes a single named input to a tool.
type ToolParameter struct {
	Name          string `json:"name"`
	PrimitiveType string `json:"primitive_type"`
	Description   string `json:"description,omitempty"`
	Required      bool   `json:"required"`
	// Schema, when present, is used verbatim as the JSON-Schema fragment for
	// this parameter instead of one derived from PrimitiveType.
	Schema map[string]any `json:"schema,omitempty"`
}

// ToolDefinition describes a tool as presented to the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// JSONSchema derives the aggregate JSON-Schema object for the tool's
// parameters: properties keyed by parameter name, required listing the
// sorted names of required parameters.
func (t ToolDefinition) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Parameters))
	var required []string
	for _, p := range t.Parameters {
		props[p.Name] = paramSchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = sortedStrings(required)
	}
	return schema
}

func paramSchema(p ToolParameter) map[string]any {
	if p.Schema != nil {
		s := make(map[string]any, len(p.Schema)+1)
		for k, v := range p.Schema {
			s[k] = v
		}
		if _, ok := s["description"]; !ok && p.Description != "" {
			s["description"] = p.Description
		}
		return s
	}
	s := map[string]any{"type": p.PrimitiveType}
	if p.Description != "" {
		s["description"] = p.Description
	}
	return s
}

func sortedStrings(s []string) []string {
	out := append([]string(nil), s...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// ToolResult is the outcome of executing a single tool call.
type ToolResult struct {
	Success    bool           `json:"success"`
	Data       any            `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Tool pairs a ToolDefinition with the function that executes it. Execute
// receives a context.Context so implementations can cancel in-flight work
// (e.g. outbound HTTP) when the owning run is cancelled, the parsed JSON
// input (already validated against Definition's schema by the caller where
// applicable), and the ambient run context.
type Tool struct {
	Definition ToolDefinition
	Execute    func(ctx context.Context, execCtx ToolExecContext, input map[string]any) (ToolResult, error)
}

// ToolExecContext carries the ambient identifiers a tool's Execute function
// may need without coupling tools to the engine package.
type ToolExecContext struct {
	RunID    string
	ThreadID string
	StepID   string
	// RequestAuthOverrides maps provider/source IDs to per-run auth
	// overrides (spec §4.2 step 5), threaded through for connector tools.
	RequestAuthOverrides map[string]AuthSpec
}

// Toolset is a named, described group of tools.
type Toolset struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Tools       []Tool         `json:"-"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// ValidateUnique checks the toolset invariant that tool names are unique
// within the set.
func (ts Toolset) ValidateUnique() error {
	seen := make(map[string]struct{}, len(ts.Tools))
	for _, t := range ts.Tools {
		if _, ok := seen[t.Definition.Name]; ok {
			return errInvalidMessage("duplicate tool name %q in toolset %q", t.Definition.Name, ts.ID)
		}
		seen[t.Definition.Name] = struct{}{}
	}
	return nil
}

// AuthKind enumerates the authentication schemes the OpenAPI connector
// understands (spec §4.2 step 5).
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthAPIKey AuthKind = "apiKey"
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthOAuth2 AuthKind = "oauth2"
)

// APIKeyLocation identifies where an apiKey auth value is transmitted.
type APIKeyLocation string

const (
	APIKeyInHeader APIKeyLocation = "header"
	APIKeyInQuery  APIKeyLocation = "query"
	APIKeyInCookie APIKeyLocation = "cookie"
)

// AuthSpec describes a single authentication configuration.
type AuthSpec struct {
	Kind AuthKind `json:"kind"`

	// apiKey fields
	APIKeyName     string         `json:"api_key_name,omitempty"`
	APIKeyLocation APIKeyLocation `json:"api_key_location,omitempty"`
	APIKeyValue    string         `json:"api_key_value,omitempty"`

	// bearer / oauth2 (treated as bearer at wire level)
	Token string `json:"token,omitempty"`

	// basic
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}
