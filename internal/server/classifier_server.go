package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/triage-ai/guardbench/internal/auth"
	"github.com/triage-ai/guardbench/internal/engine"
	"github.com/triage-ai/guardbench/internal/engine/evaluators"
)

// ClassifierHandler is the server side of the Classifier service.
type ClassifierHandler interface {
	Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// classifierServiceDesc describes the Classifier service without generated
// stubs; messages travel as google.protobuf.Struct.
var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: evaluators.ClassifierService,
	HandlerType: (*ClassifierHandler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Evaluate",
			Handler:    evaluateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "guardbench/classifier/v1/classifier.proto",
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierHandler).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: evaluators.EvaluateMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifierHandler).Evaluate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ClassifierServer exposes an engine.Evaluator as a remote classifier, so one
// guardbench instance can serve the builtin rules to others.
type ClassifierServer struct {
	evaluator engine.Evaluator
	auth      auth.Authenticator
	logger    *zap.Logger
}

// NewClassifierServer creates a server. A nil authenticator accepts every call.
func NewClassifierServer(ev engine.Evaluator, authenticator auth.Authenticator, logger *zap.Logger) *ClassifierServer {
	return &ClassifierServer{
		evaluator: ev,
		auth:      authenticator,
		logger:    logger,
	}
}

// Evaluate implements the Classifier.Evaluate RPC.
func (s *ClassifierServer) Evaluate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	start := time.Now()

	// 1. Authenticate
	if s.auth != nil {
		key, err := auth.FromMetadata(ctx)
		if err == nil {
			_, err = s.auth.Authenticate(ctx, key)
		}
		if err != nil {
			if errors.Is(err, auth.ErrAuthUnavailable) {
				return nil, status.Errorf(codes.Unavailable, "auth unavailable: %v", err)
			}
			return nil, status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
		}
	}

	// 2. Decode request
	req, err := evaluators.DecodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	// 3. Evaluate
	raw, err := s.evaluator.Evaluate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		s.logger.Warn("classifier evaluation failed",
			zap.String("policy", req.Policy.String()),
			zap.Error(err),
		)
		return nil, status.Errorf(codes.Internal, "evaluate: %v", err)
	}

	out, err := evaluators.EncodeVerdict(raw)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	s.logger.Debug("classifier evaluation",
		zap.String("policy", req.Policy.String()),
		zap.String("direction", req.Direction.String()),
		zap.String("action", raw.Action),
		zap.Int("assessments", len(raw.Assessments)),
		zap.Float64("latency_ms", float64(time.Since(start))/float64(time.Millisecond)),
	)
	return out, nil
}

// NewGRPCServer returns a gRPC server with the Classifier service and the
// standard health service registered and marked SERVING.
func NewGRPCServer(srv ClassifierHandler, opts ...grpc.ServerOption) *grpc.Server {
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&classifierServiceDesc, srv)

	hs := health.NewServer()
	hs.SetServingStatus(evaluators.ClassifierService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}
