package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainClient invokes any langchaingo model.
type LangChainClient struct {
	llm  llms.Model
	info ModelInfo
	opts Options
}

// NewLangChainClient wraps an existing model.
func NewLangChainClient(llm llms.Model, info ModelInfo, opts Options) *LangChainClient {
	return &LangChainClient{llm: llm, info: info, opts: opts}
}

// NewOpenAI creates an OpenAI client. The token comes from OPENAI_API_KEY.
func NewOpenAI(model string, opts Options) (*LangChainClient, error) {
	llm, err := openai.New(openai.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("NewOpenAI: %w", err)
	}
	return NewLangChainClient(llm, ModelInfo{ModelID: model, Provider: "openai"}, opts), nil
}

// NewAnthropic creates an Anthropic client. The token comes from ANTHROPIC_API_KEY.
func NewAnthropic(model string, opts Options) (*LangChainClient, error) {
	llm, err := anthropic.New(anthropic.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("NewAnthropic: %w", err)
	}
	return NewLangChainClient(llm, ModelInfo{ModelID: model, Provider: "anthropic"}, opts), nil
}

// NewOllama creates a client for a local Ollama server.
func NewOllama(model, serverURL string, opts Options) (*LangChainClient, error) {
	if serverURL == "" {
		serverURL = "http://localhost:11434"
	}
	llm, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("NewOllama: %w", err)
	}
	return NewLangChainClient(llm, ModelInfo{ModelID: model, Provider: "ollama"}, opts), nil
}

func (c *LangChainClient) Model() ModelInfo {
	return c.info
}

func (c *LangChainClient) Invoke(ctx context.Context, prompt string) Outcome {
	ctx, cancel := c.opts.withTimeout(ctx)
	defer cancel()

	var callOpts []llms.CallOption
	if c.opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(c.opts.MaxTokens))
	}
	if c.opts.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*c.opts.Temperature))
	}

	start := time.Now()
	resp, err := c.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}, callOpts...)
	if err != nil {
		return failed(fmt.Errorf("%s: %w", c.info.Provider, err), start)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return failed(errors.New(c.info.Provider+": empty response"), start)
	}

	choice := resp.Choices[0]
	in, out := tokenCounts(choice.GenerationInfo)
	return Outcome{
		Success:      true,
		Text:         choice.Content,
		InputTokens:  in,
		OutputTokens: out,
		LatencyMs:    sinceMs(start),
	}
}

// tokenCounts reads usage from GenerationInfo. OpenAI and Ollama report
// PromptTokens/CompletionTokens; Anthropic reports InputTokens/OutputTokens.
func tokenCounts(info map[string]any) (in, out int) {
	in = firstInt(info, "InputTokens", "PromptTokens")
	out = firstInt(info, "OutputTokens", "CompletionTokens")
	return in, out
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
