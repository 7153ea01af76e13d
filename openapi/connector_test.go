package openapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulifeai/agentb/model"
	"github.com/ulifeai/agentb/openapi"
)

func testDoc() map[string]any {
	return map[string]any{
		"openapi": "3.0.0",
		"paths": map[string]any{
			"/widgets/{id}": map[string]any{
				"get": map[string]any{
					"operationId": "getWidget",
					"parameters": []any{
						map[string]any{"name": "id", "in": "path", "required": true, "schema": map[string]any{"type": "string"}},
						map[string]any{"name": "verbose", "in": "query", "schema": map[string]any{"type": "boolean"}},
					},
				},
				"post": map[string]any{
					"operationId": "createWidget",
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{"schema": map[string]any{"type": "object"}},
						},
					},
				},
			},
		},
	}
}

func TestConnectorExecutesGetWithPathAndQueryParams(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "42"})
	}))
	defer srv.Close()

	conn := openapi.NewConnector(openapi.ConnectorOptions{
		SourceID: "widgets",
		BaseURL:  srv.URL,
	}, func(ctx context.Context) (map[string]any, error) { return testDoc(), nil })

	tool, ok, err := conn.GetTool(context.Background(), "getWidget")
	require.NoError(t, err)
	require.True(t, ok)

	res, err := tool.Execute(context.Background(), model.ToolExecContext{}, map[string]any{"id": "42", "verbose": true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "/widgets/42", gotPath)
	assert.Equal(t, "verbose=true", gotQuery)
	assert.Equal(t, 200, res.Attributes["status"].(int))
}

func TestConnectorPostsJSONRequestBody(t *testing.T) {
	var gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	conn := openapi.NewConnector(openapi.ConnectorOptions{
		SourceID: "widgets",
		BaseURL:  srv.URL,
	}, func(ctx context.Context) (map[string]any, error) { return testDoc(), nil })

	tool, ok, err := conn.GetTool(context.Background(), "createWidget")
	require.NoError(t, err)
	require.True(t, ok)

	res, err := tool.Execute(context.Background(), model.ToolExecContext{}, map[string]any{"requestBody": map[string]any{"name": "gizmo"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "gizmo", gotBody["name"])
}

func TestConnectorNonTwoXXYieldsFailureNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("not found"))
	}))
	defer srv.Close()

	conn := openapi.NewConnector(openapi.ConnectorOptions{
		SourceID: "widgets",
		BaseURL:  srv.URL,
	}, func(ctx context.Context) (map[string]any, error) { return testDoc(), nil })

	tool, _, _ := conn.GetTool(context.Background(), "getWidget")
	res, err := tool.Execute(context.Background(), model.ToolExecContext{}, map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "http_status_404", res.Error)
}

func TestConnectorRequestAuthOverrideWinsOverStaticAuth(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	conn := openapi.NewConnector(openapi.ConnectorOptions{
		SourceID:   "widgets",
		BaseURL:    srv.URL,
		StaticAuth: model.AuthSpec{Kind: model.AuthBearer, Token: "static-token"},
	}, func(ctx context.Context) (map[string]any, error) { return testDoc(), nil })

	tool, _, _ := conn.GetTool(context.Background(), "getWidget")
	_, err := tool.Execute(context.Background(), model.ToolExecContext{
		RequestAuthOverrides: map[string]model.AuthSpec{
			"widgets": {Kind: model.AuthBearer, Token: "override-token"},
		},
	}, map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer override-token", gotHeader)
}

func TestConnectorEnsureInitializedDedupesConcurrentLoad(t *testing.T) {
	var loadCount int64
	conn := openapi.NewConnector(openapi.ConnectorOptions{SourceID: "widgets", BaseURL: "http://example.invalid"},
		func(ctx context.Context) (map[string]any, error) {
			atomic.AddInt64(&loadCount, 1)
			return testDoc(), nil
		})

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() { done <- conn.EnsureInitialized(context.Background()) }()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&loadCount))
}

func TestConnectorNetworkErrorYieldsCategorizedFailure(t *testing.T) {
	conn := openapi.NewConnector(openapi.ConnectorOptions{SourceID: "widgets", BaseURL: "http://127.0.0.1:1"},
		func(ctx context.Context) (map[string]any, error) { return testDoc(), nil })

	tool, _, _ := conn.GetTool(context.Background(), "getWidget")
	res, err := tool.Execute(context.Background(), model.ToolExecContext{}, map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "network_error")
}
