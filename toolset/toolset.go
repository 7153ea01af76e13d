// Package toolset implements the Toolset Orchestrator (component C9): it
// turns a flat list of tool-provider source configurations into a flat list
// of named, described toolsets, each backed by a ready-to-use
// tools.Provider.
package toolset

import (
	"context"
	"fmt"

	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/openapi"
	"github.com/ulifeai/agentb/tools"
)

// CreationStrategy selects how a single source is partitioned into
// toolsets.
type CreationStrategy string

const (
	// StrategyAllInOne wraps every operation from the source into a single
	// toolset.
	StrategyAllInOne CreationStrategy = "allInOne"
	// StrategyByTag creates one toolset per OpenAPI tag.
	StrategyByTag CreationStrategy = "byTag"
)

// SourceConfig describes one tool provider source to orchestrate.
type SourceConfig struct {
	ID                     string
	Type                   string // currently only "openapi"
	OpenAPIConnectorOptions openapi.ConnectorOptions
	LoadRaw                func(ctx context.Context) (map[string]any, error)
	Strategy               CreationStrategy
	MaxToolsPerLogicalGroup int
}

// Built pairs a Toolset with the live provider serving its tools, which
// callers wire into an Aggregator or hand straight to delegate.Specialist.
type Built struct {
	Toolset  model.Toolset
	Provider tools.Provider
}

// Orchestrate turns sources into a flat list of Built toolsets.
func Orchestrate(ctx context.Context, sources []SourceConfig) ([]Built, error) {
	var out []Built
	for _, src := range sources {
		switch src.Type {
		case "", "openapi":
		default:
			return nil, fmt.Errorf("toolset: unsupported source type %q for source %q", src.Type, src.ID)
		}

		built, err := orchestrateOpenAPISource(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("toolset: source %q: %w", src.ID, err)
		}
		out = append(out, built...)
	}
	return out, nil
}

func orchestrateOpenAPISource(ctx context.Context, src SourceConfig) ([]Built, error) {
	switch src.Strategy {
	case StrategyByTag:
		return orchestrateByTag(ctx, src)
	case StrategyAllInOne, "":
		return orchestrateAllInOne(ctx, src)
	default:
		return nil, fmt.Errorf("unknown toolset_creation_strategy %q", src.Strategy)
	}
}

func orchestrateAllInOne(ctx context.Context, src SourceConfig) ([]Built, error) {
	opts := src.OpenAPIConnectorOptions
	opts.SourceID = src.ID
	opts.TagFilter = ""
	connector := openapi.NewConnector(opts, src.LoadRaw)
	if err := connector.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	toolDefs, err := connector.GetTools(ctx)
	if err != nil {
		return nil, err
	}

	ts := model.Toolset{
		ID:          src.ID,
		Name:        src.ID,
		Description: fmt.Sprintf("All operations exposed by source %q.", src.ID),
		Tools:       toolDefs,
	}
	return []Built{{Toolset: ts, Provider: connector}}, nil
}

func orchestrateByTag(ctx context.Context, src SourceConfig) ([]Built, error) {
	// A first connector with no tag filter discovers the full set of tags
	// present in the source document; a connector per tag is then built and
	// initialized in turn, each loading the document through src.LoadRaw.
	probeOpts := src.OpenAPIConnectorOptions
	probeOpts.SourceID = src.ID
	probeOpts.TagFilter = ""
	probe := openapi.NewConnector(probeOpts, src.LoadRaw)
	if err := probe.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	tags, err := probe.Tags(ctx)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		// No tags declared anywhere: fall back to a single toolset, mirroring
		// allInOne, so the source is never silently dropped.
		return orchestrateAllInOne(ctx, src)
	}

	var out []Built
	for _, tag := range tags {
		opts := src.OpenAPIConnectorOptions
		opts.SourceID = src.ID
		opts.TagFilter = tag
		connector := openapi.NewConnector(opts, src.LoadRaw)
		if err := connector.EnsureInitialized(ctx); err != nil {
			return nil, err
		}
		toolDefs, err := connector.GetTools(ctx)
		if err != nil {
			return nil, err
		}

		groups := partition(toolDefs, src.MaxToolsPerLogicalGroup)
		for i, group := range groups {
			id := fmt.Sprintf("%s.%s", src.ID, tag)
			name := tag
			if len(groups) > 1 {
				id = fmt.Sprintf("%s.%s.%d", src.ID, tag, i+1)
				name = fmt.Sprintf("%s (%d/%d)", tag, i+1, len(groups))
			}
			ts := model.Toolset{
				ID:          id,
				Name:        name,
				Description: fmt.Sprintf("Operations tagged %q in source %q.", tag, src.ID),
				Tools:       group,
			}
			out = append(out, Built{Toolset: ts, Provider: tools.NewStaticProvider(id, group)})
		}
	}
	return out, nil
}

// partition uniformly splits tools into groups no larger than maxPerGroup.
// A semantic, LLM-driven split is an explicitly optional optimization this
// implementation skips in favor of deterministic, budget-free partitioning.
func partition(toolList []model.Tool, maxPerGroup int) [][]model.Tool {
	if maxPerGroup <= 0 || len(toolList) <= maxPerGroup {
		return [][]model.Tool{toolList}
	}
	var groups [][]model.Tool
	for i := 0; i < len(toolList); i += maxPerGroup {
		end := i + maxPerGroup
		if end > len(toolList) {
			end = len(toolList)
		}
		groups = append(groups, toolList[i:end])
	}
	return groups
}
