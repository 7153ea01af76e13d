package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/telemetry"
)

// namedProvider pairs a Provider with a diagnostic name used in aggregator
// warnings. Providers that also implement the optional Name() string method
// (as StaticProvider does) have their own name used automatically via
// Add; Add falls back to a positional label.
type namedProvider struct {
	name     string
	provider Provider
}

// Aggregator merges an ordered list of providers into one Provider. On a
// tool-definition name collision the earliest-registered provider wins; the
// collision is logged as a warning rather than treated as an error. A
// provider that fails during listing or lookup is logged and skipped so the
// rest of the aggregate remains usable (spec §4.3: partial availability is
// preferred over total failure).
type Aggregator struct {
	mu        sync.Mutex
	providers []namedProvider
	logger    telemetry.Logger
}

// AggregatorOption configures an Aggregator at construction time.
type AggregatorOption func(*Aggregator)

// WithLogger overrides the aggregator's logger. Defaults to a noop logger.
func WithLogger(l telemetry.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = l }
}

// NewAggregator builds an empty Aggregator. Providers are added in priority
// order via Add/AddNamed; the first one added wins name collisions.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Add registers a provider at the end of the priority order under its own
// Name() when it has one, otherwise under a positional diagnostic label.
func (a *Aggregator) Add(p Provider) {
	if np, ok := p.(interface{ Name() string }); ok {
		a.AddNamed(np.Name(), p)
		return
	}
	a.mu.Lock()
	label := fmt.Sprintf("provider#%d", len(a.providers))
	a.mu.Unlock()
	a.AddNamed(label, p)
}

// AddNamed registers a provider under an explicit diagnostic name.
func (a *Aggregator) AddNamed(name string, p Provider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providers = append(a.providers, namedProvider{name: name, provider: p})
}

// EnsureInitialized calls EnsureInitialized on every registered provider. A
// single provider's initialization failure is logged and does not prevent
// the others from initializing.
func (a *Aggregator) EnsureInitialized(ctx context.Context) error {
	a.mu.Lock()
	providers := append([]namedProvider(nil), a.providers...)
	a.mu.Unlock()

	for _, np := range providers {
		if err := np.provider.EnsureInitialized(ctx); err != nil {
			a.logger.Error(ctx, "tool provider initialization failed",
				"component", "tools.aggregator",
				"provider", np.name,
				"err", err,
			)
		}
	}
	return nil
}

// GetTools returns the deduplicated union of every provider's tools,
// earliest-registered provider winning on a name collision.
func (a *Aggregator) GetTools(ctx context.Context) ([]model.Tool, error) {
	a.mu.Lock()
	providers := append([]namedProvider(nil), a.providers...)
	a.mu.Unlock()

	seen := make(map[string]string) // tool name -> owning provider label
	var out []model.Tool

	for _, np := range providers {
		toolList, err := np.provider.GetTools(ctx)
		if err != nil {
			a.logger.Warn(ctx, "tool provider listing failed; continuing with remaining providers",
				"component", "tools.aggregator",
				"provider", np.name,
				"err", err,
			)
			continue
		}
		for _, t := range toolList {
			if owner, ok := seen[t.Definition.Name]; ok {
				a.logger.Warn(ctx, "duplicate tool name across providers; earlier provider wins",
					"component", "tools.aggregator",
					"tool", t.Definition.Name,
					"winning_provider", owner,
					"shadowed_provider", np.name,
				)
				continue
			}
			seen[t.Definition.Name] = np.name
			out = append(out, t)
		}
	}
	return out, nil
}

// GetTool returns the first registered provider's match for name. Providers
// that error during lookup are logged and skipped; lookup continues with
// the rest of the list.
func (a *Aggregator) GetTool(ctx context.Context, name string) (model.Tool, bool, error) {
	a.mu.Lock()
	providers := append([]namedProvider(nil), a.providers...)
	a.mu.Unlock()

	for _, np := range providers {
		t, ok, err := np.provider.GetTool(ctx, name)
		if err != nil {
			a.logger.Warn(ctx, "tool provider lookup failed; continuing with remaining providers",
				"component", "tools.aggregator",
				"provider", np.name,
				"tool", name,
				"err", err,
			)
			continue
		}
		if ok {
			return t, true, nil
		}
	}
	return model.Tool{}, false, nil
}
