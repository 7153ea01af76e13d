package ctxmgr

import (
	"context"
	"io"
	"strings"

	"github.com/ulifeai/agentb/llm"
)

// ClientSummarizer drives summarization through the same llm.Client used
// for the run's turns, issuing a single non-streamed-in-spirit call (the
// stream is simply drained to completion) with summarizePrompt as the
// system prompt.
type ClientSummarizer struct {
	client llm.Client
}

// NewClientSummarizer builds a Summarizer backed by client.
func NewClientSummarizer(client llm.Client) *ClientSummarizer {
	return &ClientSummarizer{client: client}
}

// Summarize asks the LLM to condense messages into prose.
func (s *ClientSummarizer) Summarize(ctx context.Context, messages []llm.Message, summarizePrompt string) (string, error) {
	stream, err := s.client.Generate(ctx, messages, llm.Options{SystemPrompt: summarizePrompt})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var out strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		out.WriteString(chunk.Content)
	}
	return out.String(), nil
}
