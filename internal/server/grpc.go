package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
	"github.com/joseph-ayodele/car-analyzer/internal/imageprep"
	"github.com/joseph-ayodele/car-analyzer/internal/pipeline"
)

const (
	// AnalyzerServiceName is the fully qualified gRPC service name.
	AnalyzerServiceName = "carlens.v1.CarAnalyzer"
	analyzeMethod       = "/" + AnalyzerServiceName + "/Analyze"
	requestIDHeader     = "x-request-id"
)

// CarAnalyzerServer takes raw image bytes and answers with the result map.
type CarAnalyzerServer interface {
	Analyze(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// CarAnalyzerServiceDesc uses well-known types for both messages, so no generated code is needed.
var CarAnalyzerServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalyzerServiceName,
	HandlerType: (*CarAnalyzerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: analyzeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "carlens/v1/analyzer.proto",
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CarAnalyzerServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: analyzeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CarAnalyzerServer).Analyze(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func RegisterCarAnalyzerServer(s grpc.ServiceRegistrar, srv CarAnalyzerServer) {
	s.RegisterService(&CarAnalyzerServiceDesc, srv)
}

// InvokeAnalyze is the client side of CarAnalyzer/Analyze.
func InvokeAnalyze(ctx context.Context, cc grpc.ClientConnInterface, image []byte, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, analyzeMethod, wrapperspb.Bytes(image), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type AnalyzerService struct {
	analyzer Analyzer
	maxBytes int64
	logger   *slog.Logger
}

func NewAnalyzerService(a Analyzer, maxBytes int64, logger *slog.Logger) *AnalyzerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyzerService{analyzer: a, maxBytes: maxBytes, logger: logger}
}

func (s *AnalyzerService) Analyze(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	start := time.Now()
	data := in.GetValue()
	if len(data) == 0 {
		return nil, common.InvalidArgumentError("image bytes are required")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return nil, common.InvalidArgumentErrorf("image is %d bytes, limit is %d", len(data), s.maxBytes)
	}

	rid := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDHeader); len(v) > 0 {
			rid = v[0]
		}
	}
	if rid == "" {
		rid = uuid.New().String()
	}
	ctx = common.WithRequestID(ctx, rid)
	ctx = common.WithLogger(ctx, s.logger.With("transport", "grpc"))
	_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, rid))

	a, err := s.analyzer.Analyze(ctx, imageprep.Upload{Data: data})
	if err != nil {
		s.logger.Warn("grpc.analyze.failed", "req_id", rid, "outcome", pipeline.OutcomeOf(err), "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, common.ToGRPCStatus(err)
	}

	out, err := structpb.NewStruct(a.Result.Map())
	if err != nil {
		s.logger.Error("grpc.analyze.encode_failed", "req_id", rid, "error", err)
		return nil, status.Error(codes.Internal, "encode result")
	}
	s.logger.Info("grpc.analyze.ok", "req_id", rid, "outcome", a.Outcome,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// NewGRPCServer registers the analyzer and the standard health service. The analyzer
// reports NOT_SERVING while no credential is configured; the server as a whole is SERVING.
func NewGRPCServer(a Analyzer, maxBytes int64, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if maxBytes > 0 {
		// room for the protobuf framing around the image
		opts = append(opts, grpc.MaxRecvMsgSize(int(maxBytes)+1<<20))
	}
	gs := grpc.NewServer(opts...)
	RegisterCarAnalyzerServer(gs, NewAnalyzerService(a, maxBytes, logger))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	serving := healthpb.HealthCheckResponse_SERVING
	if a.Ready() != nil {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus(AnalyzerServiceName, serving)
	return gs, hs
}
