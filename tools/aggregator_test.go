package tools_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/tools"
)

func toolNamed(name string) model.Tool {
	return model.Tool{
		Definition: model.ToolDefinition{Name: name},
		Execute: func(context.Context, model.ToolExecContext, map[string]any) (model.ToolResult, error) {
			return model.ToolResult{Success: true}, nil
		},
	}
}

type erroringProvider struct{}

func (erroringProvider) GetTools(context.Context) ([]model.Tool, error) {
	return nil, errors.New("listing boom")
}
func (erroringProvider) GetTool(context.Context, string) (model.Tool, bool, error) {
	return model.Tool{}, false, errors.New("lookup boom")
}
func (erroringProvider) EnsureInitialized(context.Context) error { return nil }

func TestAggregatorFirstWinsOnCollision(t *testing.T) {
	agg := tools.NewAggregator()
	agg.AddNamed("local", tools.NewStaticProvider("local", []model.Tool{toolNamed("search")}))
	agg.AddNamed("remote", tools.NewStaticProvider("remote", []model.Tool{toolNamed("search"), toolNamed("fetch")}))

	list, err := agg.GetTools(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	names := map[string]bool{}
	for _, tl := range list {
		names[tl.Definition.Name] = true
	}
	assert.True(t, names["search"])
	assert.True(t, names["fetch"])

	got, ok, err := agg.GetTool(context.Background(), "search")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "search", got.Definition.Name)
}

func TestAggregatorToleratesProviderListingError(t *testing.T) {
	agg := tools.NewAggregator()
	agg.AddNamed("broken", erroringProvider{})
	agg.AddNamed("ok", tools.NewStaticProvider("ok", []model.Tool{toolNamed("fetch")}))

	list, err := agg.GetTools(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "fetch", list[0].Definition.Name)
}

func TestAggregatorToleratesProviderLookupError(t *testing.T) {
	agg := tools.NewAggregator()
	agg.AddNamed("broken", erroringProvider{})
	agg.AddNamed("ok", tools.NewStaticProvider("ok", []model.Tool{toolNamed("fetch")}))

	got, ok, err := agg.GetTool(context.Background(), "fetch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "fetch", got.Definition.Name)
}

func TestAggregatorGetToolNotFoundReturnsFalseNoError(t *testing.T) {
	agg := tools.NewAggregator()
	agg.AddNamed("ok", tools.NewStaticProvider("ok", []model.Tool{toolNamed("fetch")}))

	_, ok, err := agg.GetTool(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
