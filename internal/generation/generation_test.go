package generation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/tmc/langchaingo/llms"
)

type fakeLLM struct {
	calls atomic.Int32
	resp  *llms.ContentResponse
	err   error
	block bool
	got   []llms.MessageContent
	opts  llms.CallOptions
}

func (f *fakeLLM) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls.Add(1)
	f.got = msgs
	for _, o := range options {
		o(&f.opts)
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChainClientSuccess(t *testing.T) {
	llm := &fakeLLM{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "hello there",
		GenerationInfo: map[string]any{"InputTokens": 12, "OutputTokens": 3},
	}}}}
	c := NewLangChainClient(llm, ModelInfo{ModelID: "claude-3-haiku", Provider: "anthropic"},
		Options{MaxTokens: 256, Temperature: aws.Float64(0.2)})

	out := c.Invoke(context.Background(), "hi")
	if !out.Success || out.Error != "" {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Text != "hello there" {
		t.Errorf("text = %q", out.Text)
	}
	if out.InputTokens != 12 || out.OutputTokens != 3 {
		t.Errorf("tokens = %d/%d, want 12/3", out.InputTokens, out.OutputTokens)
	}
	if llm.opts.MaxTokens != 256 || llm.opts.Temperature != 0.2 {
		t.Errorf("call options = %+v", llm.opts)
	}
	if len(llm.got) != 1 || llm.got[0].Role != llms.ChatMessageTypeHuman {
		t.Fatalf("messages = %+v", llm.got)
	}
	if c.Model().Provider != "anthropic" {
		t.Errorf("provider = %q", c.Model().Provider)
	}
}

func TestLangChainClientError(t *testing.T) {
	llm := &fakeLLM{err: errors.New("rate limited")}
	c := NewLangChainClient(llm, ModelInfo{ModelID: "gpt-4o", Provider: "openai"}, Options{})

	out := c.Invoke(context.Background(), "hi")
	if out.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(out.Error, "rate limited") {
		t.Errorf("error = %q", out.Error)
	}
	if out.Text != "" {
		t.Errorf("text should be empty, got %q", out.Text)
	}
}

func TestLangChainClientEmptyResponse(t *testing.T) {
	llm := &fakeLLM{resp: &llms.ContentResponse{}}
	c := NewLangChainClient(llm, ModelInfo{ModelID: "llama3", Provider: "ollama"}, Options{})

	out := c.Invoke(context.Background(), "hi")
	if out.Success || !strings.Contains(out.Error, "empty response") {
		t.Errorf("got %+v", out)
	}
}

func TestLangChainClientTimeout(t *testing.T) {
	llm := &fakeLLM{block: true}
	c := NewLangChainClient(llm, ModelInfo{ModelID: "m", Provider: "openai"},
		Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	out := c.Invoke(context.Background(), "hi")
	if out.Success {
		t.Fatal("expected failure on timeout")
	}
	if !strings.Contains(out.Error, context.DeadlineExceeded.Error()) {
		t.Errorf("error = %q", out.Error)
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout not applied")
	}
}

func TestTokenCounts(t *testing.T) {
	tests := []struct {
		name    string
		info    map[string]any
		in, out int
	}{
		{"anthropic", map[string]any{"InputTokens": 5, "OutputTokens": 7}, 5, 7},
		{"openai", map[string]any{"PromptTokens": 9, "CompletionTokens": 2}, 9, 2},
		{"float", map[string]any{"PromptTokens": 4.0, "CompletionTokens": float64(1)}, 4, 1},
		{"missing", nil, 0, 0},
		{"wrong type", map[string]any{"PromptTokens": "9"}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out := tokenCounts(tt.info)
			if in != tt.in || out != tt.out {
				t.Errorf("tokenCounts = %d/%d, want %d/%d", in, out, tt.in, tt.out)
			}
		})
	}
}

type fakeConverse struct {
	calls atomic.Int32
	in    *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.calls.Add(1)
	f.in = in
	return f.out, f.err
}

func TestBedrockClientSuccess(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{Value: types.Message{
			Role: types.ConversationRoleAssistant,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: "part one, "},
				&types.ContentBlockMemberText{Value: "part two"},
			},
		}},
		Usage: &types.TokenUsage{InputTokens: aws.Int32(11), OutputTokens: aws.Int32(4)},
	}}
	c := NewBedrockClient(api, "anthropic.claude-3-haiku-20240307-v1:0", Options{MaxTokens: 512, Temperature: aws.Float64(0.5)})

	out := c.Invoke(context.Background(), "tell me")
	if !out.Success {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Text != "part one, part two" {
		t.Errorf("text = %q", out.Text)
	}
	if out.InputTokens != 11 || out.OutputTokens != 4 {
		t.Errorf("tokens = %d/%d", out.InputTokens, out.OutputTokens)
	}

	if aws.ToString(api.in.ModelId) != "anthropic.claude-3-haiku-20240307-v1:0" {
		t.Errorf("model id = %q", aws.ToString(api.in.ModelId))
	}
	if api.in.InferenceConfig == nil || aws.ToInt32(api.in.InferenceConfig.MaxTokens) != 512 {
		t.Errorf("inference config = %+v", api.in.InferenceConfig)
	}
	if len(api.in.Messages) != 1 || api.in.Messages[0].Role != types.ConversationRoleUser {
		t.Fatalf("messages = %+v", api.in.Messages)
	}
	text, ok := api.in.Messages[0].Content[0].(*types.ContentBlockMemberText)
	if !ok || text.Value != "tell me" {
		t.Errorf("content = %+v", api.in.Messages[0].Content)
	}
}

func TestBedrockClientError(t *testing.T) {
	api := &fakeConverse{err: errors.New("AccessDeniedException")}
	c := NewBedrockClient(api, "meta.llama3-8b-instruct-v1:0", Options{})

	out := c.Invoke(context.Background(), "x")
	if out.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(out.Error, "AccessDeniedException") || !strings.Contains(out.Error, "meta.llama3-8b-instruct-v1:0") {
		t.Errorf("error = %q", out.Error)
	}
	if api.in.InferenceConfig != nil {
		t.Errorf("zero options should not send inference config")
	}
}

func TestBedrockClientNoMessage(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{}}
	c := NewBedrockClient(api, "amazon.titan-text-express-v1", Options{})

	if out := c.Invoke(context.Background(), "x"); out.Success {
		t.Errorf("expected failure, got %+v", out)
	}
}

func TestBedrockProvider(t *testing.T) {
	tests := map[string]string{
		"anthropic.claude-3-haiku-20240307-v1:0": "anthropic",
		"us.meta.llama3-1-8b-instruct-v1:0":      "meta",
		"eu.amazon.nova-lite-v1:0":               "amazon",
		"global.anthropic.claude-sonnet-4":       "anthropic",
		"mistral.mistral-7b-instruct-v0:2":       "mistral",
		"custom-model":                           "bedrock",
		"":                                       "bedrock",
	}
	for id, want := range tests {
		if got := bedrockProvider(id); got != want {
			t.Errorf("bedrockProvider(%q) = %q, want %q", id, got, want)
		}
	}
}

func TestFactory(t *testing.T) {
	api := &fakeConverse{}
	f := Factory{Provider: "bedrock", Converse: api}

	clients, err := f.NewAll([]string{"anthropic.claude-v2", "us.meta.llama3"})
	if err != nil {
		t.Fatalf("NewAll: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("got %d clients", len(clients))
	}
	if clients[1].Model().Provider != "meta" {
		t.Errorf("provider = %q", clients[1].Model().Provider)
	}

	if _, err := (Factory{Provider: "bedrock"}).New("x"); err == nil {
		t.Error("bedrock without runtime client should fail")
	}
	if _, err := (Factory{Provider: "watsonx"}).New("x"); err == nil {
		t.Error("unknown provider should fail")
	}

	c, err := (Factory{Provider: "ollama"}).New("llama3")
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if c.Model().Provider != "ollama" || c.Model().ModelID != "llama3" {
		t.Errorf("model = %+v", c.Model())
	}
}

func TestTemperatureZeroIsSent(t *testing.T) {
	tests := []struct {
		name string
		temp *float64
		want *float32
	}{
		{"unset", nil, nil},
		{"zero", aws.Float64(0), aws.Float32(0)},
		{"set", aws.Float64(0.7), aws.Float32(0.7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
				Output: &types.ConverseOutputMemberMessage{Value: types.Message{
					Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: "ok"}},
				}},
			}}
			NewBedrockClient(api, "amazon.nova-lite-v1:0", Options{Temperature: tt.temp}).
				Invoke(context.Background(), "x")

			var got *float32
			if api.in.InferenceConfig != nil {
				got = api.in.InferenceConfig.Temperature
			}
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("bedrock temperature: expected %v, got %v", tt.want, got)
			}

			llm := &fakeLLM{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "ok"}}}}
			llm.opts.Temperature = -1
			NewLangChainClient(llm, ModelInfo{ModelID: "llama3", Provider: "ollama"}, Options{Temperature: tt.temp}).
				Invoke(context.Background(), "x")

			wantLLM := -1.0
			if tt.temp != nil {
				wantLLM = *tt.temp
			}
			if llm.opts.Temperature != wantLLM {
				t.Errorf("langchain temperature: expected %v, got %v", wantLLM, llm.opts.Temperature)
			}
		})
	}
}
