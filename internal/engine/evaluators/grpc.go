package evaluators

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/triage-ai/guardbench/internal/engine"
)

// ClassifierService is the gRPC service remote classifiers implement. Its one
// unary method, Evaluate, takes and returns a google.protobuf.Struct.
const ClassifierService = "guardbench.classifier.v1.Classifier"

// EvaluateMethod is the full method name invoked on the remote classifier.
const EvaluateMethod = "/" + ClassifierService + "/Evaluate"

// ErrNotServing is returned when the classifier's health check fails.
var ErrNotServing = errors.New("classifier not serving")

// GRPC evaluates content with a remote classifier over gRPC.
type GRPC struct {
	conn   *grpc.ClientConn
	apiKey string
	logger *zap.Logger
}

// GRPCConfig configures the remote classifier client.
type GRPCConfig struct {
	Endpoint string // gRPC target, e.g. "classifier:50052"
	APIKey   string // sent as "authorization: Bearer <key>" when set

	// HealthTimeout bounds the startup health check. Default: 5s.
	HealthTimeout time.Duration
}

const defaultHealthTimeout = 5 * time.Second

// NewGRPC connects to the classifier and checks its health before returning.
// An unreachable classifier fails within cfg.HealthTimeout.
func NewGRPC(ctx context.Context, cfg GRPCConfig, logger *zap.Logger, opts ...grpc.DialOption) (*GRPC, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.WaitForReady(true),
		),
	}
	conn, err := grpc.NewClient(cfg.Endpoint, append(dialOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("NewGRPC: %w", err)
	}

	timeout := cfg.HealthTimeout
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g := &GRPC{conn: conn, apiKey: cfg.APIKey, logger: logger}
	if err := g.Check(checkCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("NewGRPC: %w", err)
	}

	logger.Info("grpc classifier configured",
		zap.String("endpoint", cfg.Endpoint),
	)
	return g, nil
}

func (g *GRPC) Name() string {
	return "grpc"
}

// Check asks the standard health service whether the classifier is serving.
// Unlike Evaluate it does not wait for the connection to become ready.
func (g *GRPC) Check(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(g.conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: ClassifierService,
	}, grpc.WaitForReady(false))
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
	}
	return nil
}

func (g *GRPC) Evaluate(ctx context.Context, req *engine.EvaluateRequest) (*engine.RawVerdict, error) {
	in, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if g.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+g.apiKey)
	}

	out := new(structpb.Struct)
	if err := g.conn.Invoke(ctx, EvaluateMethod, in, out); err != nil {
		return nil, fmt.Errorf("Classifier.Evaluate %s: %w", req.Policy, err)
	}
	return DecodeVerdict(out)
}

// Close shuts down the gRPC connection.
func (g *GRPC) Close() error {
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}

// EncodeRequest renders an evaluation request as a Struct:
//
//	{guardrail_id, guardrail_version, direction, content, prompt}
func EncodeRequest(req *engine.EvaluateRequest) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"guardrail_id":      req.Policy.ID,
		"guardrail_version": req.Policy.Version,
		"direction":         req.Direction.String(),
		"content":           req.Content,
		"prompt":            req.Prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("EncodeRequest: %w", err)
	}
	return s, nil
}

// DecodeRequest is the inverse of EncodeRequest. guardrail_id is required.
func DecodeRequest(s *structpb.Struct) (*engine.EvaluateRequest, error) {
	f := s.GetFields()
	id := f["guardrail_id"].GetStringValue()
	if id == "" {
		return nil, errors.New("DecodeRequest: guardrail_id is required")
	}

	req := &engine.EvaluateRequest{
		Policy:    engine.PolicyRef{ID: id, Version: f["guardrail_version"].GetStringValue()},
		Direction: engine.DirectionInput,
		Content:   f["content"].GetStringValue(),
		Prompt:    f["prompt"].GetStringValue(),
	}
	switch d := f["direction"].GetStringValue(); d {
	case "INPUT", "":
	case "OUTPUT":
		req.Direction = engine.DirectionOutput
	default:
		return nil, fmt.Errorf("DecodeRequest: unknown direction %q", d)
	}
	return req, nil
}

// EncodeVerdict renders a raw verdict as a Struct:
//
//	{action, assessments: [{policy, name, type, match, confidence, action}],
//	 outputs: [string], usage: {topic_policy_units, ...}}
func EncodeVerdict(raw *engine.RawVerdict) (*structpb.Struct, error) {
	assessments := make([]any, 0, len(raw.Assessments))
	for _, e := range raw.Assessments {
		assessments = append(assessments, map[string]any{
			"policy":     e.Policy,
			"name":       e.Name,
			"type":       e.Type,
			"match":      e.Match,
			"confidence": e.Confidence,
			"action":     e.Action,
		})
	}
	outputs := make([]any, 0, len(raw.Outputs))
	for _, o := range raw.Outputs {
		outputs = append(outputs, o)
	}

	s, err := structpb.NewStruct(map[string]any{
		"action":      raw.Action,
		"assessments": assessments,
		"outputs":     outputs,
		"usage": map[string]any{
			"topic_policy_units":                 raw.Usage.TopicPolicyUnits,
			"content_policy_units":               raw.Usage.ContentPolicyUnits,
			"word_policy_units":                  raw.Usage.WordPolicyUnits,
			"sensitive_information_policy_units": raw.Usage.SensitiveInformationPolicyUnits,
			"contextual_grounding_policy_units":  raw.Usage.ContextualGroundingPolicyUnits,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("EncodeVerdict: %w", err)
	}
	return s, nil
}

// DecodeVerdict reads a classifier response. Missing fields are left empty;
// Normalize applies the defaults.
func DecodeVerdict(s *structpb.Struct) (*engine.RawVerdict, error) {
	if s == nil {
		return nil, errors.New("DecodeVerdict: empty response")
	}
	f := s.GetFields()
	raw := &engine.RawVerdict{Action: f["action"].GetStringValue()}

	for _, v := range f["assessments"].GetListValue().GetValues() {
		e := v.GetStructValue().GetFields()
		if e == nil {
			continue
		}
		raw.Assessments = append(raw.Assessments, engine.RawEntry{
			Policy:     e["policy"].GetStringValue(),
			Name:       e["name"].GetStringValue(),
			Type:       e["type"].GetStringValue(),
			Match:      e["match"].GetStringValue(),
			Confidence: e["confidence"].GetStringValue(),
			Action:     e["action"].GetStringValue(),
		})
	}
	for _, v := range f["outputs"].GetListValue().GetValues() {
		raw.Outputs = append(raw.Outputs, v.GetStringValue())
	}

	u := f["usage"].GetStructValue().GetFields()
	raw.Usage = engine.Usage{
		TopicPolicyUnits:                int32(u["topic_policy_units"].GetNumberValue()),
		ContentPolicyUnits:              int32(u["content_policy_units"].GetNumberValue()),
		WordPolicyUnits:                 int32(u["word_policy_units"].GetNumberValue()),
		SensitiveInformationPolicyUnits: int32(u["sensitive_information_policy_units"].GetNumberValue()),
		ContextualGroundingPolicyUnits:  int32(u["contextual_grounding_policy_units"].GetNumberValue()),
	}
	return raw, nil
}
