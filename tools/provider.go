// Package tools declares the ToolProvider abstraction and an Aggregator that
// merges several providers into one uniform lookup surface (component C3).
// Sources earlier in an Aggregator's list are authoritative: on a name
// collision the earliest registered provider wins and a warning is logged.
package tools

import (
	"context"

	"github.com/ulifeai/agentb/model"
)

// Provider exposes a set of tools. EnsureInitialized is optional: providers
// backed by a remote document (e.g. an OpenAPI connector) use it to perform
// a one-time, idempotent load; providers with nothing to load may leave it
// a no-op.
type Provider interface {
	// GetTools returns the provider's current tool set.
	GetTools(ctx context.Context) ([]model.Tool, error)
	// GetTool looks up a single tool by name. Implementations return
	// (model.Tool{}, false, nil) when the tool is not known to this
	// provider, reserving the error return for provider-internal failures.
	GetTool(ctx context.Context, name string) (model.Tool, bool, error)
	// EnsureInitialized performs any deferred, idempotent setup needed
	// before GetTools/GetTool can be trusted. Called at most once
	// concurrently; repeated calls after a successful load are cheap.
	EnsureInitialized(ctx context.Context) error
}

// StaticProvider adapts a fixed, in-memory slice of tools to Provider. It is
// the simplest possible provider: no initialization, no remote state.
type StaticProvider struct {
	name  string
	tools []model.Tool
	byName map[string]model.Tool
}

// NewStaticProvider builds a Provider over a fixed tool list. name is used
// only for diagnostics (aggregator warnings).
func NewStaticProvider(name string, toolList []model.Tool) *StaticProvider {
	byName := make(map[string]model.Tool, len(toolList))
	for _, t := range toolList {
		byName[t.Definition.Name] = t
	}
	return &StaticProvider{name: name, tools: toolList, byName: byName}
}

func (p *StaticProvider) Name() string { return p.name }

func (p *StaticProvider) GetTools(ctx context.Context) ([]model.Tool, error) {
	out := make([]model.Tool, len(p.tools))
	copy(out, p.tools)
	return out, nil
}

func (p *StaticProvider) GetTool(ctx context.Context, name string) (model.Tool, bool, error) {
	t, ok := p.byName[name]
	return t, ok, nil
}

func (p *StaticProvider) EnsureInitialized(ctx context.Context) error { return nil }
