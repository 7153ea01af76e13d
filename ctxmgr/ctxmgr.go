// Package ctxmgr implements the Context Manager (component C6): assembling
// the LLM input for a turn from the system prompt, any stored thread
// summary, prior history, and this turn's new input, then keeping the
// assembled token count under budget by summarizing or dropping the oldest
// non-preserved messages while never splitting an assistant tool_calls
// message from its matching tool-result messages.
package ctxmgr

import (
	"context"

	"github.com/ulifeai/agentb/errs"
	"github.com/ulifeai/agentb/llm"
	"github.com/ulifeai/agentb/model"
)

const defaultSummaryPrompt = "Summarize the conversation so far concisely, preserving any facts or decisions a future turn will need."

// Summarizer produces a prose summary of a message slice. The production
// implementation calls the LLM client with a summarize_prompt; tests may
// supply a stub.
type Summarizer interface {
	Summarize(ctx context.Context, messages []llm.Message, summarizePrompt string) (string, error)
}

// Manager assembles context for a turn (spec §4.6).
type Manager struct {
	client     llm.Client
	summarizer Summarizer
}

// New constructs a Manager. summarizer may be nil; if so, LLM-backed
// summarization falls back to client-driven summarization via NewClientSummarizer.
func New(client llm.Client, summarizer Summarizer) *Manager {
	if summarizer == nil {
		summarizer = NewClientSummarizer(client)
	}
	return &Manager{client: client, summarizer: summarizer}
}

// Assemble builds the message list for one turn.
func (m *Manager) Assemble(ctx context.Context, systemPrompt, summary string, history []llm.Message, newInputs []llm.Message, cfg model.ContextManagerConfig, enableContextManagement bool) ([]llm.Message, string, error) {
	assembled := assembleRaw(systemPrompt, summary, history, newInputs)

	if !enableContextManagement {
		return assembled, summary, nil
	}

	tokenCount, err := m.client.CountTokens(ctx, assembled, "")
	if err != nil {
		return nil, "", errs.Wrap(errs.KindLLM, err, "context manager: count_tokens failed")
	}

	threshold := int(float64(cfg.MaxInputTokens) * summaryTriggerRatio(cfg))
	if cfg.MaxInputTokens <= 0 || tokenCount < threshold {
		return assembled, summary, nil
	}

	preserveLastN := cfg.PreserveLastN
	if preserveLastN <= 0 {
		preserveLastN = 6
	}

	preserved, toSummarize := partitionHistory(history, preserveLastN)

	newSummary := summary
	if len(toSummarize) > 0 {
		generated, err := m.summarizer.Summarize(ctx, toSummarize, defaultSummaryPrompt)
		if err != nil {
			return nil, "", errs.Wrap(errs.KindLLM, err, "context manager: summarization failed")
		}
		newSummary = mergeSummary(summary, generated)
	}

	assembled = assembleRaw(systemPrompt, newSummary, preserved, newInputs)

	tokenCount, err = m.client.CountTokens(ctx, assembled, "")
	if err != nil {
		return nil, "", errs.Wrap(errs.KindLLM, err, "context manager: count_tokens failed")
	}
	truncateUntil := truncationTarget(cfg)
	for tokenCount > truncateUntil && len(preserved) > 0 {
		preserved = dropOldestRespectingPairs(preserved)
		assembled = assembleRaw(systemPrompt, newSummary, preserved, newInputs)
		tokenCount, err = m.client.CountTokens(ctx, assembled, "")
		if err != nil {
			return nil, "", errs.Wrap(errs.KindLLM, err, "context manager: count_tokens failed")
		}
	}

	if cfg.MaxInputTokens > 0 && tokenCount > cfg.MaxInputTokens {
		return nil, "", errs.New(errs.KindContextOverflow, "assembled context (%d tokens) still exceeds max_input_tokens (%d) after summarization and truncation", tokenCount, cfg.MaxInputTokens)
	}

	return assembled, newSummary, nil
}

// truncationTarget returns the token budget the drop-oldest loop truncates
// down to. cfg.TargetAfterTruncation lets a run truncate below MaxInputTokens
// (e.g. to leave headroom before the next turn re-triggers truncation);
// without it, or if it's non-positive or above the hard ceiling, truncation
// targets MaxInputTokens itself.
func truncationTarget(cfg model.ContextManagerConfig) int {
	if cfg.TargetAfterTruncation > 0 && cfg.TargetAfterTruncation < cfg.MaxInputTokens {
		return cfg.TargetAfterTruncation
	}
	return cfg.MaxInputTokens
}

func summaryTriggerRatio(cfg model.ContextManagerConfig) float64 {
	if cfg.SummaryTriggerRatio <= 0 {
		return 0.85
	}
	return cfg.SummaryTriggerRatio
}

func assembleRaw(systemPrompt, summary string, history, newInputs []llm.Message) []llm.Message {
	var out []llm.Message
	if systemPrompt != "" {
		out = append(out, llm.Message{Role: model.RoleSystem, Content: model.NewTextContent(systemPrompt)})
	}
	if summary != "" {
		out = append(out, llm.Message{Role: model.RoleSystem, Content: model.NewTextContent("Conversation summary: " + summary)})
	}
	out = append(out, history...)
	out = append(out, newInputs...)
	return out
}

// partitionHistory splits history into (preserved, toSummarize), where
// preserved always contains at least the final n messages plus any
// assistant/tool_call pairs that would otherwise be split by the cut.
func partitionHistory(history []llm.Message, n int) (preserved, toSummarize []llm.Message) {
	if n >= len(history) {
		return append([]llm.Message(nil), history...), nil
	}
	cut := len(history) - n
	cut = extendCutForPairs(history, cut)
	toSummarize = append([]llm.Message(nil), history[:cut]...)
	preserved = append([]llm.Message(nil), history[cut:]...)
	return preserved, toSummarize
}

// extendCutForPairs walks backward from cut to ensure it never separates an
// assistant message carrying tool_calls from the tool-result messages that
// answer them.
func extendCutForPairs(history []llm.Message, cut int) int {
	// A cut landing on a tool result (e.g. between two results answering the
	// same assistant message) first backs up over the preceding results.
	for cut > 0 && cut < len(history) && history[cut].Role == model.RoleTool {
		cut--
	}
	for cut > 0 && len(history[cut-1].ToolCalls) > 0 {
		// prev is an assistant message with dangling tool_calls right at the
		// boundary; pull it (and its pair) into the preserved side.
		cut--
	}
	return cut
}

// dropOldestRespectingPairs removes the oldest message from preserved,
// extending the drop to cover a full assistant/tool_call pair if needed.
func dropOldestRespectingPairs(preserved []llm.Message) []llm.Message {
	if len(preserved) == 0 {
		return preserved
	}
	drop := 1
	if len(preserved[0].ToolCalls) > 0 {
		// Drop the assistant message and every immediately following tool
		// message answering one of its tool_calls.
		ids := make(map[string]bool, len(preserved[0].ToolCalls))
		for _, tc := range preserved[0].ToolCalls {
			ids[tc.ID] = true
		}
		for drop < len(preserved) && preserved[drop].Role == model.RoleTool && ids[preserved[drop].ToolCallID] {
			drop++
		}
	}
	if drop >= len(preserved) {
		return nil
	}
	return append([]llm.Message(nil), preserved[drop:]...)
}

func mergeSummary(existing, generated string) string {
	if existing == "" {
		return generated
	}
	return existing + "\n" + generated
}
