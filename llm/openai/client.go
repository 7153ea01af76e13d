// Package openai adapts the OpenAI Chat Completions streaming API
// (github.com/openai/openai-go) to the llm.Client interface, the OpenAI
// counterpart to llm/anthropic's Messages API adapter.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/ulifeai/agentb/llm"
	"github.com/ulifeai/agentb/model"
)

// ChatClient captures the subset of the openai-go client this adapter
// needs, so tests can substitute a fake without a live API key.
type ChatClient interface {
	NewStreaming(ctx context.Context, params sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Options configures the OpenAI adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
}

// Client implements llm.Client via the OpenAI Chat Completions API.
type Client struct {
	chat         ChatClient
	defaultModel string
	maxTokens    int
}

// New builds a Client from an already-constructed ChatClient (the real SDK's
// client.Chat.Completions, or a fake in tests).
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens}, nil
}

// NewFromAPIKey constructs a Client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Generate starts a streaming chat completion and wraps it as an llm.Stream.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Stream, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithCancel(ctx)
	sdkStream := c.chat.NewStreaming(cctx, params)
	if err := sdkStream.Err(); err != nil {
		cancel()
		return nil, err
	}
	return newStream(cctx, cancel, sdkStream), nil
}

// CountTokens gives an advisory estimate (spec: ±20% tolerance is fine):
// roughly 4 characters per token across the flattened message content plus
// any tool call arguments.
func (c *Client) CountTokens(_ context.Context, messages []llm.Message, _ string) (int, error) {
	var chars int
	for _, m := range messages {
		chars += len(m.Content.String())
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Arguments)
		}
	}
	return chars / 4, nil
}

func (c *Client) buildParams(messages []llm.Message, opts llm.Options) (sdk.ChatCompletionNewParams, error) {
	modelID := opts.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	params := sdk.ChatCompletionNewParams{
		Model: shared.ChatModel(modelID),
	}
	if opts.Temperature != 0 {
		params.Temperature = sdk.Float(opts.Temperature)
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(maxTokens))
	}

	var encoded []sdk.ChatCompletionMessageParamUnion
	if opts.SystemPrompt != "" {
		encoded = append(encoded, sdk.SystemMessage(opts.SystemPrompt))
	}
	msgs, err := encodeMessages(messages)
	if err != nil {
		return sdk.ChatCompletionNewParams{}, err
	}
	params.Messages = append(encoded, msgs...)

	if len(opts.Tools) > 0 {
		tools, err := encodeTools(opts.Tools)
		if err != nil {
			return sdk.ChatCompletionNewParams{}, err
		}
		params.Tools = tools
	}
	if tc := encodeToolChoice(opts.ToolChoice); tc != nil {
		params.ToolChoice = *tc
	}
	return params, nil
}

func encodeMessages(messages []llm.Message) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Content.String()))
		case model.RoleUser:
			out = append(out, sdk.UserMessage(m.Content.String()))
		case model.RoleAssistant:
			assistant := sdk.ChatCompletionAssistantMessageParam{}
			if text := m.Content.String(); text != "" {
				assistant.Content = sdk.ChatCompletionAssistantMessageParamContentUnion{
					OfString: sdk.String(text),
				}
			}
			if len(m.ToolCalls) > 0 {
				calls := make([]sdk.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					calls[i] = sdk.ChatCompletionMessageToolCallParam{
						ID:   tc.ID,
						Type: "function",
						Function: sdk.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					}
				}
				assistant.ToolCalls = calls
			}
			out = append(out, sdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case model.RoleTool:
			out = append(out, sdk.ToolMessage(m.Content.String(), m.ToolCallID))
		}
	}
	return out, nil
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ChatCompletionToolParam, error) {
	tools := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		raw, err := json.Marshal(def.JSONSchema())
		if err != nil {
			return nil, err
		}
		var schema map[string]any
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, err
		}
		tools = append(tools, sdk.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  shared.FunctionParameters(schema),
			},
		})
	}
	return tools, nil
}

func encodeToolChoice(tc model.ToolChoice) *sdk.ChatCompletionToolChoiceOptionUnionParam {
	switch tc.Mode {
	case "", "auto":
		return nil
	case "none":
		return &sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("none")}
	case "required":
		return &sdk.ChatCompletionToolChoiceOptionUnionParam{OfAuto: sdk.String("required")}
	default:
		if tc.Name != "" {
			return &sdk.ChatCompletionToolChoiceOptionUnionParam{
				OfChatCompletionNamedToolChoice: &sdk.ChatCompletionNamedToolChoiceParam{
					Function: sdk.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.Name},
				},
			}
		}
		return nil
	}
}
