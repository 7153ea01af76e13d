// Package anthropic adapts the Anthropic Messages API
// (github.com/anthropics/anthropic-sdk-go) to the llm.Client interface: it
// translates a run's []llm.Message history into an Anthropic streaming
// request and demultiplexes the resulting SSE events back into llm.Chunks
// that the response parser can consume unmodified.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/ulifeai/agentb/llm"
	"github.com/ulifeai/agentb/model"
)

// MessagesClient captures the subset of the Anthropic SDK used here, so
// tests can substitute a fake without a live API key.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements llm.Client over Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
}

// Options configures the adapter.
type Options struct {
	DefaultModel string
	// MaxTokens is used whenever a call does not request one via
	// llm.Options.MaxTokens; Anthropic requires max_tokens on every request.
	MaxTokens int
}

// New builds a Client from an already-configured Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: maxTokens}, nil
}

// NewFromAPIKey builds a Client using the Anthropic SDK's default HTTP
// client and the given apiKey; an empty apiKey is an error.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Generate starts a streaming Messages.New call and returns an llm.Stream
// that demultiplexes the SSE event sequence into llm.Chunks.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithCancel(ctx)
	sdkStream := c.msg.NewStreaming(cctx, params)
	if err := sdkStream.Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("anthropic: start stream: %w", err)
	}
	return newStream(cctx, cancel, sdkStream), nil
}

// CountTokens is advisory: Anthropic's token count endpoint is a separate
// API call this adapter does not issue per-turn; it estimates using the
// same 4-characters-per-token heuristic the context manager tolerates
// (spec §9's ±20% budget).
func (c *Client) CountTokens(ctx context.Context, messages []llm.Message, modelID string) (int, error) {
	total := 0
	for _, m := range messages {
		total += len(m.Content.String()) / 4
		for _, tc := range m.ToolCalls {
			total += len(tc.Function.Arguments) / 4
		}
	}
	return total, nil
}

func (c *Client) buildParams(messages []llm.Message, opts llm.Options) (sdk.MessageNewParams, error) {
	modelID := opts.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var system []sdk.TextBlockParam
	if opts.SystemPrompt != "" {
		system = append(system, sdk.TextBlockParam{Text: opts.SystemPrompt})
	}
	for _, m := range messages {
		if m.Role != model.RoleSystem {
			continue
		}
		if text := m.Content.String(); text != "" && text != opts.SystemPrompt {
			system = append(system, sdk.TextBlockParam{Text: text})
		}
	}

	sdkMessages, err := encodeMessages(messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  sdkMessages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if opts.Temperature > 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	if len(opts.Tools) > 0 {
		toolList, err := encodeTools(opts.Tools)
		if err != nil {
			return sdk.MessageNewParams{}, err
		}
		params.Tools = toolList
	}
	if tc := encodeToolChoice(opts.ToolChoice); tc != nil {
		params.ToolChoice = *tc
	}
	return params, nil
}

func encodeMessages(messages []llm.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			continue // folded into params.System by the caller
		case model.RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content.String())))
		case model.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if text := m.Content.String(); text != "" {
				blocks = append(blocks, sdk.NewTextBlock(text))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if tc.Function.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
			if len(blocks) > 0 {
				out = append(out, sdk.NewAssistantMessage(blocks...))
			}
		case model.RoleTool:
			out = append(out, sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content.String(), false)))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		data, err := json.Marshal(def.JSONSchema())
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		var schemaMap map[string]any
		if err := json.Unmarshal(data, &schemaMap); err != nil {
			return nil, err
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schemaMap}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func encodeToolChoice(tc model.ToolChoice) *sdk.ToolChoiceUnionParam {
	switch tc.Mode {
	case "", "auto":
		return nil
	case "none":
		none := sdk.NewToolChoiceNoneParam()
		return &sdk.ToolChoiceUnionParam{OfNone: &none}
	case "required":
		return &sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}
	default:
		if tc.Name != "" {
			choice := sdk.ToolChoiceParamOfTool(tc.Name)
			return &choice
		}
		return nil
	}
}
