package evaluators

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/triage-ai/guardbench/internal/engine"
)

type fakeGuardrailClient struct {
	input *bedrockruntime.ApplyGuardrailInput
	out   *bedrockruntime.ApplyGuardrailOutput
	err   error
}

func (f *fakeGuardrailClient) ApplyGuardrail(_ context.Context, in *bedrockruntime.ApplyGuardrailInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ApplyGuardrailOutput, error) {
	f.input = in
	return f.out, f.err
}

func interventionOutput() *bedrockruntime.ApplyGuardrailOutput {
	return &bedrockruntime.ApplyGuardrailOutput{
		Action: types.GuardrailActionGuardrailIntervened,
		Assessments: []types.GuardrailAssessment{{
			TopicPolicy: &types.GuardrailTopicPolicyAssessment{
				Topics: []types.GuardrailTopic{
					{Name: aws.String("Weapons"), Type: types.GuardrailTopicTypeDeny, Action: types.GuardrailTopicPolicyActionBlocked},
				},
			},
			ContentPolicy: &types.GuardrailContentPolicyAssessment{
				Filters: []types.GuardrailContentFilter{
					{Type: types.GuardrailContentFilterTypeViolence, Confidence: types.GuardrailContentFilterConfidenceHigh, Action: types.GuardrailContentPolicyActionBlocked},
					{Type: types.GuardrailContentFilterTypeInsults, Confidence: types.GuardrailContentFilterConfidenceLow, Action: types.GuardrailContentPolicyActionNone},
				},
			},
			WordPolicy: &types.GuardrailWordPolicyAssessment{
				CustomWords:      []types.GuardrailCustomWord{{Match: aws.String("acme"), Action: types.GuardrailWordPolicyActionBlocked}},
				ManagedWordLists: []types.GuardrailManagedWord{{Match: aws.String("darn"), Type: types.GuardrailManagedWordTypeProfanity, Action: types.GuardrailWordPolicyActionBlocked}},
			},
			SensitiveInformationPolicy: &types.GuardrailSensitiveInformationPolicyAssessment{
				PiiEntities: []types.GuardrailPiiEntityFilter{{Type: types.GuardrailPiiEntityTypeEmail, Match: aws.String("a@b.io"), Action: types.GuardrailSensitiveInformationPolicyActionBlocked}},
				Regexes:     []types.GuardrailRegexFilter{{Name: aws.String("account_id"), Match: aws.String("ACC-1"), Action: types.GuardrailSensitiveInformationPolicyActionBlocked}},
			},
		}},
		Outputs: []types.GuardrailOutputContent{{Text: aws.String("Sorry, I can't help with that.")}},
		Usage: &types.GuardrailUsage{
			TopicPolicyUnits:                aws.Int32(1),
			ContentPolicyUnits:              aws.Int32(1),
			WordPolicyUnits:                 aws.Int32(1),
			SensitiveInformationPolicyUnits: aws.Int32(1),
			ContextualGroundingPolicyUnits:  aws.Int32(0),
		},
	}
}

func TestBedrock_RequestShape(t *testing.T) {
	fake := &fakeGuardrailClient{out: &bedrockruntime.ApplyGuardrailOutput{Action: types.GuardrailActionNone}}
	b := NewBedrock(fake)

	_, err := b.Evaluate(context.Background(), &engine.EvaluateRequest{
		Policy:    engine.PolicyRef{ID: "abc123", Version: "DRAFT"},
		Direction: engine.DirectionInput,
		Content:   "hello",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	in := fake.input
	if aws.ToString(in.GuardrailIdentifier) != "abc123" || aws.ToString(in.GuardrailVersion) != "DRAFT" {
		t.Errorf("unexpected guardrail: %s:%s", aws.ToString(in.GuardrailIdentifier), aws.ToString(in.GuardrailVersion))
	}
	if in.Source != types.GuardrailContentSourceInput {
		t.Errorf("expected INPUT source, got %s", in.Source)
	}
	if len(in.Content) != 1 {
		t.Fatalf("expected one content block, got %d", len(in.Content))
	}
	block, ok := in.Content[0].(*types.GuardrailContentBlockMemberText)
	if !ok || aws.ToString(block.Value.Text) != "hello" || len(block.Value.Qualifiers) != 0 {
		t.Errorf("unexpected content block: %+v", in.Content[0])
	}
}

func TestBedrock_OutputPairing(t *testing.T) {
	fake := &fakeGuardrailClient{out: &bedrockruntime.ApplyGuardrailOutput{Action: types.GuardrailActionNone}}
	b := NewBedrock(fake)

	_, err := b.Evaluate(context.Background(), &engine.EvaluateRequest{
		Policy:    engine.PolicyRef{ID: "abc123", Version: "1"},
		Direction: engine.DirectionOutput,
		Content:   "the response",
		Prompt:    "the prompt",
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	in := fake.input
	if in.Source != types.GuardrailContentSourceOutput {
		t.Errorf("expected OUTPUT source, got %s", in.Source)
	}
	if len(in.Content) != 2 {
		t.Fatalf("expected prompt and response blocks, got %d", len(in.Content))
	}
	query := in.Content[0].(*types.GuardrailContentBlockMemberText)
	guard := in.Content[1].(*types.GuardrailContentBlockMemberText)
	if aws.ToString(query.Value.Text) != "the prompt" || query.Value.Qualifiers[0] != types.GuardrailContentQualifierQuery {
		t.Errorf("unexpected query block: %+v", query.Value)
	}
	if aws.ToString(guard.Value.Text) != "the response" || guard.Value.Qualifiers[0] != types.GuardrailContentQualifierGuardContent {
		t.Errorf("unexpected guard block: %+v", guard.Value)
	}
}

func TestBedrock_AssessmentsNormalize(t *testing.T) {
	fake := &fakeGuardrailClient{out: interventionOutput()}
	b := NewBedrock(fake)
	ref := engine.PolicyRef{ID: "abc123", Version: "1"}

	raw, err := b.Evaluate(context.Background(), &engine.EvaluateRequest{Policy: ref, Direction: engine.DirectionInput, Content: "x"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(raw.Assessments) != 7 {
		t.Fatalf("expected every entry to be carried, got %d", len(raw.Assessments))
	}

	v := engine.Normalize(ref, engine.DirectionInput, raw, time.Now())
	if v.Status != engine.StatusBlocked {
		t.Fatalf("expected BLOCKED, got %v", v.Status)
	}

	var labels []string
	for _, vi := range v.Violations {
		labels = append(labels, vi.Label())
	}
	want := "TOPIC:Weapons,CONTENT:VIOLENCE,WORD:acme,MANAGED_WORD:PROFANITY,PII:EMAIL,REGEX:account_id"
	if got := strings.Join(labels, ","); got != want {
		t.Errorf("labels:\n got %s\nwant %s", got, want)
	}
	if v.Usage.TopicPolicyUnits != 1 || v.Usage.SensitiveInformationPolicyUnits != 1 {
		t.Errorf("unexpected usage: %+v", v.Usage)
	}
	if v.FilteredOutput == nil || *v.FilteredOutput != "Sorry, I can't help with that." {
		t.Errorf("unexpected filtered output: %v", v.FilteredOutput)
	}
}

func TestBedrock_GroundingIsUnrecognized(t *testing.T) {
	fake := &fakeGuardrailClient{out: &bedrockruntime.ApplyGuardrailOutput{
		Action: types.GuardrailActionGuardrailIntervened,
		Assessments: []types.GuardrailAssessment{{
			ContextualGroundingPolicy: &types.GuardrailContextualGroundingPolicyAssessment{
				Filters: []types.GuardrailContextualGroundingFilter{{
					Type:   types.GuardrailContextualGroundingFilterTypeGrounding,
					Score:  aws.Float64(0.12),
					Action: types.GuardrailContextualGroundingPolicyActionBlocked,
				}},
			},
		}},
	}}
	ref := engine.PolicyRef{ID: "g", Version: "1"}

	raw, err := NewBedrock(fake).Evaluate(context.Background(), &engine.EvaluateRequest{Policy: ref, Content: "x"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	v := engine.Normalize(ref, engine.DirectionInput, raw, time.Now())
	if len(v.Violations) != 1 {
		t.Fatalf("expected one violation, got %+v", v.Violations)
	}
	got := v.Violations[0]
	if got.Kind != engine.ViolationUnrecognized || got.Policy != policyGrounding || got.Confidence != "0.12" {
		t.Errorf("unexpected violation: %+v", got)
	}
}

func TestBedrock_ErrorWrapped(t *testing.T) {
	sentinel := errors.New("AccessDeniedException: not authorized")
	fake := &fakeGuardrailClient{err: sentinel}

	_, err := NewBedrock(fake).Evaluate(context.Background(), &engine.EvaluateRequest{
		Policy: engine.PolicyRef{ID: "abc", Version: "1"},
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if !strings.Contains(err.Error(), "abc:1") {
		t.Errorf("expected error to name the policy, got %v", err)
	}
}
