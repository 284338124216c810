package oracle

import (
	"context"

	"github.com/sells-group/contact-resolver/internal/cost"
	"github.com/sells-group/contact-resolver/internal/resilience"
	"github.com/sells-group/contact-resolver/pkg/anthropic"
	"github.com/sells-group/contact-resolver/pkg/gemini"
	"github.com/sells-group/contact-resolver/pkg/openai"
)

// Completer sends one prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
	Provider() string
	Model() string
}

// Completion is the raw model output and its token usage.
type Completion struct {
	Text  string
	Usage cost.Usage
}

type anthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCompleter returns a Completer backed by the Messages API. The
// system text is sent as a cached block.
func NewAnthropicCompleter(client anthropic.Client, model string) Completer {
	return &anthropicCompleter{client: client, model: model}
}

func (c *anthropicCompleter) Complete(ctx context.Context, p Prompt) (Completion, error) {
	temp := p.Temperature
	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   p.MaxTokens,
		System:      anthropic.BuildCachedSystemBlocks(p.System),
		Messages:    []anthropic.Message{{Role: "user", Content: p.User}},
		Temperature: &temp,
	})
	if err != nil {
		return Completion{}, resilience.ClassifyStatus(err, anthropic.StatusCode(err))
	}
	return Completion{
		Text: resp.Text(),
		Usage: cost.Usage{
			Input:      resp.Usage.InputTokens,
			Output:     resp.Usage.OutputTokens,
			CacheWrite: resp.Usage.CacheCreationInputTokens,
			CacheRead:  resp.Usage.CacheReadInputTokens,
		},
	}, nil
}

func (c *anthropicCompleter) Provider() string { return cost.ProviderAnthropic }
func (c *anthropicCompleter) Model() string    { return c.model }

type openaiCompleter struct {
	client openai.Client
	model  string
}

// NewOpenAICompleter returns a Completer backed by chat completions.
func NewOpenAICompleter(client openai.Client, model string) Completer {
	return &openaiCompleter{client: client, model: model}
}

func (c *openaiCompleter) Complete(ctx context.Context, p Prompt) (Completion, error) {
	resp, err := c.client.Chat(ctx, openai.ChatRequest{
		Model:       c.model,
		System:      p.System,
		User:        p.User,
		Temperature: float32(p.Temperature),
		MaxTokens:   int(p.MaxTokens),
	})
	if err != nil {
		return Completion{}, resilience.ClassifyStatus(err, openai.StatusCode(err))
	}
	return Completion{
		Text: resp.Text,
		Usage: cost.Usage{
			Input:  int64(resp.Usage.PromptTokens),
			Output: int64(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (c *openaiCompleter) Provider() string { return cost.ProviderOpenAI }
func (c *openaiCompleter) Model() string    { return c.model }

type geminiCompleter struct {
	client gemini.Client
	model  string
}

// NewGeminiCompleter returns a Completer backed by Gemini.
func NewGeminiCompleter(client gemini.Client, model string) Completer {
	return &geminiCompleter{client: client, model: model}
}

func (c *geminiCompleter) Complete(ctx context.Context, p Prompt) (Completion, error) {
	resp, err := c.client.Generate(ctx, gemini.GenerateRequest{
		Model:       c.model,
		System:      p.System,
		User:        p.User,
		Temperature: float32(p.Temperature),
		MaxTokens:   int32(p.MaxTokens),
	})
	if err != nil {
		return Completion{}, resilience.ClassifyStatus(err, gemini.StatusCode(err))
	}
	return Completion{
		Text: resp.Text,
		Usage: cost.Usage{
			Input:  int64(resp.InputTokens),
			Output: int64(resp.OutputTokens),
		},
	}, nil
}

func (c *geminiCompleter) Provider() string { return cost.ProviderGemini }
func (c *geminiCompleter) Model() string    { return c.model }
