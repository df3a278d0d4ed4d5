package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Message is one entry of a chat transcript sent to the model.
type Message struct {
	Role    string
	Content string
}

// Result carries the completed text plus token counts for accounting.
// Token counts are zero when the provider omits usage data.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Client talks to a Groq deployment through its OpenAI-compatible API.
type Client struct {
	api   *openai.Client
	model string
}

func NewClient(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(cfg),
		model: model,
	}
}

func (c *Client) Model() string {
	return c.model
}

func toRequestMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Complete performs a blocking chat completion.
func (c *Client) Complete(ctx context.Context, msgs []Message) (Result, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toRequestMessages(msgs),
	})
	if err != nil {
		return Result{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("chat completion: no choices returned")
	}
	return Result{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Stream performs a streaming chat completion, invoking emit for every
// non-empty content delta in arrival order. The returned Result holds
// the concatenated text of the deltas emitted so far, including on
// error, so callers can keep a partial transcript.
func (c *Client) Stream(ctx context.Context, msgs []Message, emit func(delta string) error) (Result, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         c.model,
		Messages:      toRequestMessages(msgs),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return Result{}, fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	var res Result
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			return res, fmt.Errorf("read completion stream: %w", err)
		}
		if chunk.Usage != nil {
			res.PromptTokens = chunk.Usage.PromptTokens
			res.CompletionTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		res.Text += delta
		if err := emit(delta); err != nil {
			return res, err
		}
	}
}
