// Package llm adapts the shared ChatGPT client to the retrieval-augmented
// answer service's LLM port (component L), grounded on the teacher's
// uploadask chatgpt_adapter.go and the summarizer domain's streaming client.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/yanqian/rag-service/internal/infra/llm/chatgpt"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
)

// ChatGPTLLM adapts *chatgpt.Client to domain.LLM.
type ChatGPTLLM struct {
	client      *chatgpt.Client
	model       string
	temperature float32
}

// NewChatGPTLLM constructs the adapter.
func NewChatGPTLLM(client *chatgpt.Client, model string, temperature float32) *ChatGPTLLM {
	return &ChatGPTLLM{client: client, model: model, temperature: temperature}
}

func toChatgptMessages(messages []domain.LLMMessage) []chatgpt.Message {
	out := make([]chatgpt.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, chatgpt.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Chat sends a synchronous chat completion request.
func (l *ChatGPTLLM) Chat(ctx context.Context, messages []domain.LLMMessage) (string, error) {
	resp, err := l.client.CreateChatCompletion(ctx, chatgpt.ChatCompletionRequest{
		Model:       l.model,
		Temperature: l.temperature,
		Messages:    toChatgptMessages(messages),
	})
	if err != nil {
		return "", fmt.Errorf("chatgpt chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chatgpt returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ChatStream opens a streaming chat completion, forwarding content deltas as
// domain.LLMChunk values and closing the channel with a final Done chunk.
func (l *ChatGPTLLM) ChatStream(ctx context.Context, messages []domain.LLMMessage) (<-chan domain.LLMChunk, error) {
	stream, err := l.client.CreateChatCompletionStream(ctx, chatgpt.ChatCompletionRequest{
		Model:       l.model,
		Temperature: l.temperature,
		Messages:    toChatgptMessages(messages),
	})
	if err != nil {
		return nil, fmt.Errorf("chatgpt stream chat completion: %w", err)
	}

	out := make(chan domain.LLMChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			chunk, recvErr := stream.Recv()
			if recvErr != nil {
				out <- domain.LLMChunk{Done: true}
				return
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case out <- domain.LLMChunk{Content: choice.Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ domain.LLM = (*ChatGPTLLM)(nil)

// EchoLLM is a network-free fallback used when fake_llm is enabled (§6), the
// same role the teacher's uploadask EchoLLM plays for local development.
type EchoLLM struct{}

// Chat returns a deterministic response derived from the last user turn.
func (EchoLLM) Chat(_ context.Context, messages []domain.LLMMessage) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}
	return "Answer: " + messages[len(messages)-1].Content, nil
}

// ChatStream replays the same answer as a single-chunk stream.
func (e EchoLLM) ChatStream(ctx context.Context, messages []domain.LLMMessage) (<-chan domain.LLMChunk, error) {
	answer, _ := e.Chat(ctx, messages)
	out := make(chan domain.LLMChunk, 2)
	out <- domain.LLMChunk{Content: answer}
	out <- domain.LLMChunk{Done: true}
	close(out)
	return out, nil
}

var _ domain.LLM = (*EchoLLM)(nil)
