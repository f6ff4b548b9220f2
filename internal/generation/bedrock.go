package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// ConverseAPI is the slice of the Bedrock runtime API the client uses.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient invokes a Bedrock model through the Converse API.
type BedrockClient struct {
	api  ConverseAPI
	info ModelInfo
	opts Options
}

// NewBedrockClient creates a client for one model ID or inference profile.
func NewBedrockClient(api ConverseAPI, modelID string, opts Options) *BedrockClient {
	return &BedrockClient{
		api:  api,
		info: ModelInfo{ModelID: modelID, Provider: bedrockProvider(modelID)},
		opts: opts,
	}
}

func (c *BedrockClient) Model() ModelInfo {
	return c.info
}

func (c *BedrockClient) Invoke(ctx context.Context, prompt string) Outcome {
	ctx, cancel := c.opts.withTimeout(ctx)
	defer cancel()

	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.info.ModelID),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}},
		}},
	}
	if c.opts.MaxTokens > 0 || c.opts.Temperature != nil {
		in.InferenceConfig = &types.InferenceConfiguration{}
		if c.opts.MaxTokens > 0 {
			in.InferenceConfig.MaxTokens = aws.Int32(int32(c.opts.MaxTokens))
		}
		if c.opts.Temperature != nil {
			in.InferenceConfig.Temperature = aws.Float32(float32(*c.opts.Temperature))
		}
	}

	start := time.Now()
	out, err := c.api.Converse(ctx, in)
	if err != nil {
		return failed(fmt.Errorf("Converse %s: %w", c.info.ModelID, err), start)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return failed(errors.New("Converse: response has no message"), start)
	}
	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}

	o := Outcome{
		Success:   true,
		Text:      sb.String(),
		LatencyMs: sinceMs(start),
	}
	if u := out.Usage; u != nil {
		o.InputTokens = int(aws.ToInt32(u.InputTokens))
		o.OutputTokens = int(aws.ToInt32(u.OutputTokens))
	}
	return o
}

// bedrockProvider derives the vendor from a model ID such as
// "anthropic.claude-3-haiku-20240307-v1:0" or the inference profile
// "us.meta.llama3-1-8b-instruct-v1:0".
func bedrockProvider(modelID string) string {
	parts := strings.Split(modelID, ".")
	if len(parts) > 2 {
		switch parts[0] {
		case "us", "eu", "apac", "global", "us-gov":
			parts = parts[1:]
		}
	}
	if len(parts) < 2 || parts[0] == "" {
		return "bedrock"
	}
	return parts[0]
}
