package toolset_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/toolset"
)

func docWithTags() map[string]any {
	return map[string]any{
		"openapi": "3.0.0",
		"paths": map[string]any{
			"/pets": map[string]any{
				"get": map[string]any{
					"operationId": "listPets",
					"tags":        []any{"pets"},
				},
			},
			"/invoices": map[string]any{
				"get": map[string]any{
					"operationId": "listInvoices",
					"tags":        []any{"billing"},
				},
				"post": map[string]any{
					"operationId": "createInvoice",
					"tags":        []any{"billing"},
				},
			},
		},
	}
}

func loader(raw map[string]any) func(context.Context) (map[string]any, error) {
	return func(context.Context) (map[string]any, error) { return raw, nil }
}

func TestOrchestrateAllInOneProducesSingleToolset(t *testing.T) {
	sources := []toolset.SourceConfig{
		{ID: "petstore", Strategy: toolset.StrategyAllInOne, LoadRaw: loader(docWithTags())},
	}
	built, err := toolset.Orchestrate(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, "petstore", built[0].Toolset.ID)
	assert.Len(t, built[0].Toolset.Tools, 3)
}

func TestOrchestrateByTagProducesOneToolsetPerTag(t *testing.T) {
	sources := []toolset.SourceConfig{
		{ID: "petstore", Strategy: toolset.StrategyByTag, LoadRaw: loader(docWithTags())},
	}
	built, err := toolset.Orchestrate(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, built, 2)

	byID := map[string]int{}
	for _, b := range built {
		byID[b.Toolset.ID] = len(b.Toolset.Tools)
	}
	assert.Equal(t, 2, byID["petstore.billing"])
	assert.Equal(t, 1, byID["petstore.pets"])
}

func TestOrchestrateByTagSplitsOversizedGroupUniformly(t *testing.T) {
	sources := []toolset.SourceConfig{
		{ID: "petstore", Strategy: toolset.StrategyByTag, MaxToolsPerLogicalGroup: 1, LoadRaw: loader(docWithTags())},
	}
	built, err := toolset.Orchestrate(context.Background(), sources)
	require.NoError(t, err)

	var billingGroups int
	for _, b := range built {
		if b.Toolset.Name == "billing (1/2)" || b.Toolset.Name == "billing (2/2)" {
			billingGroups++
			assert.Len(t, b.Toolset.Tools, 1)
		}
	}
	assert.Equal(t, 2, billingGroups)
}

func TestOrchestrateUnknownSourceTypeErrors(t *testing.T) {
	sources := []toolset.SourceConfig{{ID: "x", Type: "grpc"}}
	_, err := toolset.Orchestrate(context.Background(), sources)
	assert.Error(t, err)
}

func TestOrchestrateByTagWithNoTagsFallsBackToAllInOne(t *testing.T) {
	raw := map[string]any{
		"openapi": "3.0.0",
		"paths": map[string]any{
			"/ping": map[string]any{
				"get": map[string]any{"operationId": "ping"},
			},
		},
	}
	sources := []toolset.SourceConfig{
		{ID: "health", Strategy: toolset.StrategyByTag, LoadRaw: loader(raw)},
	}
	built, err := toolset.Orchestrate(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, built, 1)
	assert.Equal(t, "health", built[0].Toolset.ID)
}
