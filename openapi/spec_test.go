package openapi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/openapi"
)

func TestParseRejectsMissingOpenAPIField(t *testing.T) {
	_, err := openapi.Parse(map[string]any{"paths": map[string]any{}}, "")
	require.Error(t, err)
}

func TestParseRejectsMissingPaths(t *testing.T) {
	_, err := openapi.Parse(map[string]any{"openapi": "3.0.0"}, "")
	require.Error(t, err)
}

func TestParseSkipsOperationsWithoutOperationID(t *testing.T) {
	doc, err := openapi.Parse(map[string]any{
		"openapi": "3.0.0",
		"paths": map[string]any{
			"/widgets": map[string]any{
				"get": map[string]any{"summary": "list widgets"},
			},
		},
	}, "")
	require.NoError(t, err)
	assert.Len(t, doc.Operations, 0)
}

func TestParseExtractsOperationWithParametersAndJSONRequestBody(t *testing.T) {
	raw := map[string]any{
		"openapi": "3.0.0",
		"paths": map[string]any{
			"/widgets/{id}": map[string]any{
				"post": map[string]any{
					"operationId": "createWidget",
					"tags":        []any{"widgets"},
					"parameters": []any{
						map[string]any{"name": "id", "in": "path", "required": true, "schema": map[string]any{"type": "string"}},
					},
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{"type": "object"},
							},
						},
					},
				},
			},
		},
	}
	doc, err := openapi.Parse(raw, "")
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)

	op := doc.Operations[0]
	assert.Equal(t, "createWidget", op.OperationID)
	assert.Equal(t, "post", op.Method)
	assert.Equal(t, "/widgets/{id}", op.Path)
	require.Len(t, op.Parameters, 1)
	assert.Equal(t, "id", op.Parameters[0].Name)
	require.NotNil(t, op.RequestBody)
	assert.True(t, op.RequestBody.Required)

	schema := op.ParameterSchema()
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "id")
	assert.Contains(t, props, "requestBody")
	assert.Equal(t, []string{"id", "requestBody"}, schema["required"])
}

func TestParseTagFilterExcludesNonMatchingOperations(t *testing.T) {
	raw := map[string]any{
		"openapi": "3.0.0",
		"paths": map[string]any{
			"/a": map[string]any{
				"get": map[string]any{"operationId": "opA", "tags": []any{"alpha"}},
			},
			"/b": map[string]any{
				"get": map[string]any{"operationId": "opB", "tags": []any{"beta"}},
			},
		},
	}
	doc, err := openapi.Parse(raw, "alpha")
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	assert.Equal(t, "opA", doc.Operations[0].OperationID)
}

func TestParseResolvesInternalRefWithEscapedTokens(t *testing.T) {
	raw := map[string]any{
		"openapi": "3.0.0",
		"components": map[string]any{
			"parameters": map[string]any{
				"a/b~c": map[string]any{
					"name": "widgetId", "in": "path", "required": true,
				},
			},
		},
		"paths": map[string]any{
			"/widgets/{widgetId}": map[string]any{
				"get": map[string]any{
					"operationId": "getWidget",
					"parameters": []any{
						map[string]any{"$ref": "#/components/parameters/a~1b~0c"},
					},
				},
			},
		},
	}
	doc, err := openapi.Parse(raw, "")
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)
	require.Len(t, doc.Operations[0].Parameters, 1)
	assert.Equal(t, "widgetId", doc.Operations[0].Parameters[0].Name)
}

func TestParseSkipsPathItemWithExternalRef(t *testing.T) {
	raw := map[string]any{
		"openapi": "3.0.0",
		"paths": map[string]any{
			"/widgets": map[string]any{
				"$ref": "external.yaml#/paths/~1widgets",
			},
		},
	}
	doc, err := openapi.Parse(raw, "")
	require.NoError(t, err)
	assert.Len(t, doc.Operations, 0)
}
