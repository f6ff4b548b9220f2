package evaluators

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/triage-ai/guardbench/internal/engine"
)

// policyGrounding has no Violation variant and normalizes as unrecognized.
const policyGrounding = "contextualGroundingPolicy.filters"

// GuardrailClient is the slice of the Bedrock runtime API the evaluator uses.
type GuardrailClient interface {
	ApplyGuardrail(ctx context.Context, params *bedrockruntime.ApplyGuardrailInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ApplyGuardrailOutput, error)
}

// Bedrock evaluates content with Amazon Bedrock ApplyGuardrail. The PolicyRef
// ID is the guardrail identifier and its Version the guardrail version.
type Bedrock struct {
	client GuardrailClient
}

// NewBedrock wraps an existing client.
func NewBedrock(client GuardrailClient) *Bedrock {
	return &Bedrock{client: client}
}

// NewBedrockFromConfig creates the runtime client from a loaded AWS config.
func NewBedrockFromConfig(cfg aws.Config) *Bedrock {
	return NewBedrock(bedrockruntime.NewFromConfig(cfg))
}

func (b *Bedrock) Name() string {
	return "bedrock"
}

func (b *Bedrock) Evaluate(ctx context.Context, req *engine.EvaluateRequest) (*engine.RawVerdict, error) {
	out, err := b.client.ApplyGuardrail(ctx, applyGuardrailInput(req))
	if err != nil {
		return nil, fmt.Errorf("ApplyGuardrail %s: %w", req.Policy, err)
	}
	return fromApplyGuardrail(out), nil
}

func applyGuardrailInput(req *engine.EvaluateRequest) *bedrockruntime.ApplyGuardrailInput {
	source := types.GuardrailContentSourceInput
	if req.Direction == engine.DirectionOutput {
		source = types.GuardrailContentSourceOutput
	}

	var content []types.GuardrailContentBlock
	if req.Prompt != "" {
		content = append(content,
			textBlock(req.Prompt, types.GuardrailContentQualifierQuery),
			textBlock(req.Content, types.GuardrailContentQualifierGuardContent),
		)
	} else {
		content = append(content, textBlock(req.Content))
	}

	return &bedrockruntime.ApplyGuardrailInput{
		GuardrailIdentifier: aws.String(req.Policy.ID),
		GuardrailVersion:    aws.String(req.Policy.Version),
		Source:              source,
		Content:             content,
	}
}

func textBlock(text string, qualifiers ...types.GuardrailContentQualifier) types.GuardrailContentBlock {
	return &types.GuardrailContentBlockMemberText{
		Value: types.GuardrailTextBlock{
			Text:       aws.String(text),
			Qualifiers: qualifiers,
		},
	}
}

// fromApplyGuardrail flattens the nested assessments into raw entries. Every
// entry is kept with its own action; Normalize decides which ones count.
func fromApplyGuardrail(out *bedrockruntime.ApplyGuardrailOutput) *engine.RawVerdict {
	raw := &engine.RawVerdict{Action: string(out.Action)}

	for _, a := range out.Assessments {
		if tp := a.TopicPolicy; tp != nil {
			for _, t := range tp.Topics {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy: engine.PolicyTopics,
					Name:   aws.ToString(t.Name),
					Type:   string(t.Type),
					Action: string(t.Action),
				})
			}
		}
		if cp := a.ContentPolicy; cp != nil {
			for _, f := range cp.Filters {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy:     engine.PolicyFilters,
					Type:       string(f.Type),
					Confidence: string(f.Confidence),
					Action:     string(f.Action),
				})
			}
		}
		if wp := a.WordPolicy; wp != nil {
			for _, w := range wp.CustomWords {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy: engine.PolicyCustomWords,
					Match:  aws.ToString(w.Match),
					Action: string(w.Action),
				})
			}
			for _, w := range wp.ManagedWordLists {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy: engine.PolicyManagedWord,
					Match:  aws.ToString(w.Match),
					Type:   string(w.Type),
					Action: string(w.Action),
				})
			}
		}
		if sp := a.SensitiveInformationPolicy; sp != nil {
			for _, p := range sp.PiiEntities {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy: engine.PolicyPIIEntities,
					Type:   string(p.Type),
					Match:  aws.ToString(p.Match),
					Action: string(p.Action),
				})
			}
			for _, r := range sp.Regexes {
				raw.Assessments = append(raw.Assessments, engine.RawEntry{
					Policy: engine.PolicyRegexes,
					Name:   aws.ToString(r.Name),
					Match:  aws.ToString(r.Match),
					Action: string(r.Action),
				})
			}
		}
		if gp := a.ContextualGroundingPolicy; gp != nil {
			for _, f := range gp.Filters {
				entry := engine.RawEntry{
					Policy: policyGrounding,
					Type:   string(f.Type),
					Action: string(f.Action),
				}
				if f.Score != nil {
					entry.Confidence = strconv.FormatFloat(*f.Score, 'f', 2, 64)
				}
				raw.Assessments = append(raw.Assessments, entry)
			}
		}
	}

	for _, o := range out.Outputs {
		if o.Text != nil {
			raw.Outputs = append(raw.Outputs, *o.Text)
		}
	}

	if u := out.Usage; u != nil {
		raw.Usage = engine.Usage{
			TopicPolicyUnits:                aws.ToInt32(u.TopicPolicyUnits),
			ContentPolicyUnits:              aws.ToInt32(u.ContentPolicyUnits),
			WordPolicyUnits:                 aws.ToInt32(u.WordPolicyUnits),
			SensitiveInformationPolicyUnits: aws.ToInt32(u.SensitiveInformationPolicyUnits),
			ContextualGroundingPolicyUnits:  aws.ToInt32(u.ContextualGroundingPolicyUnits),
		}
	}
	return raw
}
