package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ulifeai/agentb/model"
)

// SourceID identifies this connector's entry in a run's
// RequestAuthOverrides map (spec §4.2 step 5).
type ConnectorOptions struct {
	SourceID string
	BaseURL  string
	TagFilter string
	// StaticAuth is used when a call carries no matching per-request
	// override for SourceID.
	StaticAuth model.AuthSpec
	// IncludeGenericRequest exposes genericHttpRequest (spec §4.2: only
	// offered "when no tag filter is set and the connector is configured to
	// include it").
	IncludeGenericRequest bool
	// RequestsPerSecond paces outbound HTTP calls; 0 means unlimited.
	RequestsPerSecond float64

	HTTPClient *http.Client
}

// Connector implements tools.Provider over a parsed OpenAPI document,
// wrapping each Operation as a tool that performs the described HTTP call.
type Connector struct {
	opts ConnectorOptions

	httpClient *http.Client
	limiter    *rate.Limiter

	loadRaw func(ctx context.Context) (map[string]any, error)

	mu       sync.Mutex
	doc      *Document
	loadOnce bool
	loading  chan struct{}
	loadErr  error
}

// NewConnector constructs a Connector. loadRaw fetches and decodes the raw
// OpenAPI document (JSON or YAML, already unmarshaled to a generic map);
// it is invoked at most once concurrently, with a single in-flight load
// shared by concurrent callers (spec §4.2: "a single in-flight load is
// reused by concurrent callers").
func NewConnector(opts ConnectorOptions, loadRaw func(ctx context.Context) (map[string]any, error)) *Connector {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)+1)
	}
	return &Connector{
		opts:       opts,
		httpClient: httpClient,
		limiter:    limiter,
		loadRaw:    loadRaw,
	}
}

// EnsureInitialized loads and parses the OpenAPI document idempotently. A
// single in-flight load is shared by concurrent callers.
func (c *Connector) EnsureInitialized(ctx context.Context) error {
	c.mu.Lock()
	if c.loadOnce {
		err := c.loadErr
		c.mu.Unlock()
		return err
	}
	if c.loading != nil {
		ch := c.loading
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
		err := c.loadErr
		c.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	c.loading = ch
	c.mu.Unlock()

	raw, err := c.loadRaw(ctx)
	var doc *Document
	if err == nil {
		doc, err = Parse(raw, c.opts.TagFilter)
	}

	c.mu.Lock()
	c.doc = doc
	c.loadErr = err
	c.loadOnce = true
	c.loading = nil
	c.mu.Unlock()
	close(ch)
	return err
}

// GetTools returns one tool per resolved Operation, plus genericHttpRequest
// when configured.
func (c *Connector) GetTools(ctx context.Context) ([]model.Tool, error) {
	if err := c.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	doc := c.doc
	c.mu.Unlock()

	var out []model.Tool
	for _, op := range doc.Operations {
		out = append(out, c.operationTool(op))
	}
	if c.opts.IncludeGenericRequest && c.opts.TagFilter == "" {
		out = append(out, c.genericRequestTool())
	}
	return out, nil
}

// Tags exposes the tags declared in the underlying document, for the
// Toolset Orchestrator's byTag strategy. The connector must have been built
// with an empty TagFilter for this to reflect the full document.
func (c *Connector) Tags(ctx context.Context) ([]string, error) {
	if err := c.EnsureInitialized(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	doc := c.doc
	c.mu.Unlock()
	return doc.Tags(), nil
}

// GetTool returns the single tool matching name, if any.
func (c *Connector) GetTool(ctx context.Context, name string) (model.Tool, bool, error) {
	toolList, err := c.GetTools(ctx)
	if err != nil {
		return model.Tool{}, false, err
	}
	for _, t := range toolList {
		if t.Definition.Name == name {
			return t, true, nil
		}
	}
	return model.Tool{}, false, nil
}

func (c *Connector) operationTool(op Operation) model.Tool {
	name := SanitizeToolName(op.OperationID)
	description := op.Summary
	if description == "" {
		description = fmt.Sprintf("%s %s", strings.ToUpper(op.Method), op.Path)
	}

	schema := op.ParameterSchema()
	params := schemaToToolParameters(schema)

	return model.Tool{
		Definition: model.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  params,
		},
		Execute: func(ctx context.Context, execCtx model.ToolExecContext, input map[string]any) (model.ToolResult, error) {
			return c.invokeOperation(ctx, execCtx, op, input)
		},
	}
}

// schemaToToolParameters degrades an operation's aggregate JSON-Schema into
// model.ToolParameter entries, preserving each property's schema verbatim.
func schemaToToolParameters(schema map[string]any) []model.ToolParameter {
	props, _ := schema["properties"].(map[string]any)
	requiredSet := map[string]bool{}
	if req, ok := schema["required"].([]string); ok {
		for _, r := range req {
			requiredSet[r] = true
		}
	}
	var out []model.ToolParameter
	for name, s := range props {
		sub, _ := s.(map[string]any)
		primitive, _ := sub["type"].(string)
		desc, _ := sub["description"].(string)
		out = append(out, model.ToolParameter{
			Name:          name,
			PrimitiveType: primitive,
			Description:   desc,
			Required:      requiredSet[name],
			Schema:        sub,
		})
	}
	return out
}

func (c *Connector) genericRequestTool() model.Tool {
	return model.Tool{
		Definition: model.ToolDefinition{
			Name:        "genericHttpRequest",
			Description: "Issue an arbitrary HTTP request against this connector's base URL.",
			Parameters: []model.ToolParameter{
				{Name: "method", PrimitiveType: "string", Required: true},
				{Name: "path", PrimitiveType: "string", Required: true},
				{Name: "query_params", Required: false, Schema: map[string]any{"type": "object"}},
				{Name: "headers", Required: false, Schema: map[string]any{"type": "object"}},
				{Name: "request_body", Required: false, Schema: map[string]any{}},
			},
		},
		Execute: func(ctx context.Context, execCtx model.ToolExecContext, input map[string]any) (model.ToolResult, error) {
			method, _ := input["method"].(string)
			path, _ := input["path"].(string)
			query, _ := input["query_params"].(map[string]any)
			headers, _ := input["headers"].(map[string]any)
			body := input["request_body"]

			req := requestPlan{
				method:  strings.ToUpper(method),
				path:    path,
				query:   flattenValues(query),
				headers: flattenStrings(headers),
				body:    body,
			}
			return c.execute(ctx, execCtx, req), nil
		},
	}
}

func flattenValues(m map[string]any) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = toStringSlice(v)
	}
	return out
}

func flattenStrings(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

func toStringSlice(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, e := range val {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	default:
		return []string{fmt.Sprintf("%v", val)}
	}
}

// requestPlan is the fully resolved shape of one HTTP call before auth is
// applied.
type requestPlan struct {
	method  string
	path    string // already has path params substituted
	query   map[string][]string
	headers map[string]string
	body    any
}

func (c *Connector) invokeOperation(ctx context.Context, execCtx model.ToolExecContext, op Operation, input map[string]any) (model.ToolResult, error) {
	path := op.Path
	query := make(map[string][]string)
	headers := make(map[string]string)

	for _, p := range op.Parameters {
		v, present := input[p.Name]
		switch p.In {
		case "path":
			if present {
				path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(fmt.Sprintf("%v", v)))
			}
		case "query":
			if present {
				query[p.Name] = toStringSlice(v)
			}
		case "header":
			if present {
				headers[p.Name] = fmt.Sprintf("%v", v)
			}
		}
	}

	var body any
	if op.RequestBody != nil {
		body = input["requestBody"]
	}

	plan := requestPlan{
		method:  strings.ToUpper(op.Method),
		path:    path,
		query:   query,
		headers: headers,
		body:    body,
	}
	return c.execute(ctx, execCtx, plan), nil
}

// execute issues the HTTP request described by plan, resolving auth and
// normalizing every failure mode into a ToolResult rather than an error
// (spec §4.2 steps 5-7). ctx is the caller's run context: cancelling it
// aborts the in-flight HTTP call (spec §4.7, §5).
func (c *Connector) execute(ctx context.Context, execCtx model.ToolExecContext, plan requestPlan) model.ToolResult {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return model.ToolResult{Success: false, Error: "rate_limiter: " + err.Error()}
		}
	}

	u, err := url.Parse(strings.TrimRight(c.opts.BaseURL, "/") + plan.path)
	if err != nil {
		return model.ToolResult{Success: false, Error: "invalid_path: " + err.Error()}
	}
	q := u.Query()
	for k, vals := range plan.query {
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	var bodyReader io.Reader
	contentTypeJSON := false
	if plan.body != nil {
		payload, err := json.Marshal(plan.body)
		if err != nil {
			return model.ToolResult{Success: false, Error: "invalid_request_body: " + err.Error()}
		}
		bodyReader = bytes.NewReader(payload)
		contentTypeJSON = true
	}

	req, err := http.NewRequestWithContext(ctx, plan.method, u.String(), bodyReader)
	if err != nil {
		return model.ToolResult{Success: false, Error: "invalid_request: " + err.Error()}
	}
	for k, v := range plan.headers {
		req.Header.Set(k, v)
	}
	if contentTypeJSON {
		req.Header.Set("Content-Type", "application/json")
	}

	c.applyAuth(req, execCtx)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.ToolResult{Success: false, Error: categorizeTransportError(err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ToolResult{Success: false, Error: "response_read_error: " + err.Error()}
	}

	attrs := map[string]any{
		"status":  resp.StatusCode,
		"headers": headersToMap(resp.Header),
	}

	var data any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") && len(respBody) > 0 {
		if jsonErr := json.Unmarshal(respBody, &data); jsonErr != nil {
			data = string(respBody)
		}
	} else {
		data = string(respBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.ToolResult{
			Success:    false,
			Data:       data,
			Error:      fmt.Sprintf("http_status_%d", resp.StatusCode),
			Attributes: attrs,
		}
	}
	return model.ToolResult{Success: true, Data: data, Attributes: attrs}
}

// applyAuth resolves authentication for one request: a per-request override
// keyed by this connector's SourceID wins over statically configured auth
// (spec §4.2 step 5).
func (c *Connector) applyAuth(req *http.Request, execCtx model.ToolExecContext) {
	auth := c.opts.StaticAuth
	if execCtx.RequestAuthOverrides != nil {
		if override, ok := execCtx.RequestAuthOverrides[c.opts.SourceID]; ok {
			auth = override
		}
	}

	switch auth.Kind {
	case model.AuthAPIKey:
		switch auth.APIKeyLocation {
		case model.APIKeyInQuery:
			q := req.URL.Query()
			q.Set(auth.APIKeyName, auth.APIKeyValue)
			req.URL.RawQuery = q.Encode()
		case model.APIKeyInCookie:
			req.AddCookie(&http.Cookie{Name: auth.APIKeyName, Value: auth.APIKeyValue})
		default: // header, including the zero value
			req.Header.Set(auth.APIKeyName, auth.APIKeyValue)
		}
	case model.AuthBearer, model.AuthOAuth2: // oauth2 treated as bearer at wire level
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case model.AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case model.AuthNone, "":
		// no-op
	}
}

func categorizeTransportError(err error) string {
	if urlErr, ok := err.(*url.Error); ok {
		if urlErr.Timeout() {
			return "timeout: " + err.Error()
		}
	}
	return "network_error: " + err.Error()
}

func headersToMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
