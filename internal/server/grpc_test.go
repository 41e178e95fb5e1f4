package server

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/car-analyzer/internal/common"
	"github.com/joseph-ayodele/car-analyzer/internal/llm"
)

func dialBufconn(t *testing.T, fa *fakeAnalyzer, maxBytes int64) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs, _ := NewGRPCServer(fa, maxBytes, testLogger())
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCAnalyze_OK(t *testing.T) {
	fa := &fakeAnalyzer{analyze: answering("```json\n{\"make\": \"Toyota\", \"model\": \"Corolla\"}\n```")}
	conn := dialBufconn(t, fa, 0)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-request-id", "grpc-req-1")
	var header metadata.MD
	out, err := InvokeAnalyze(ctx, conn, []byte("jpeg bytes"), grpc.Header(&header))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	m := out.AsMap()
	if m["make"] != "Toyota" || m["model"] != "Corolla" {
		t.Errorf("result = %v", m)
	}
	if got := header.Get("x-request-id"); len(got) != 1 || got[0] != "grpc-req-1" {
		t.Errorf("x-request-id header = %v", got)
	}
}

func TestGRPCAnalyze_ParseErrorIsOK(t *testing.T) {
	conn := dialBufconn(t, &fakeAnalyzer{analyze: answering("not json at all")}, 0)
	out, err := InvokeAnalyze(context.Background(), conn, []byte("jpeg bytes"))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if m := out.AsMap(); m["raw"] != "not json at all" || m["error"] == nil {
		t.Errorf("result = %v", m)
	}
}

func TestGRPCAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name  string
		image []byte
		err   error
		code  codes.Code
	}{
		{"empty image", nil, nil, codes.InvalidArgument},
		{"too large", make([]byte, 2048), nil, codes.InvalidArgument},
		{"config", []byte("x"), common.NewAppError(common.CodeConfig, "OPENAI_API_KEY is not set", nil), codes.FailedPrecondition},
		{"decode", []byte("x"), common.NewAppError(common.CodeImageDecode, "decode image", nil), codes.InvalidArgument},
		{"rate limited", []byte("x"), &llm.APIError{StatusCode: 429, Body: "slow down"}, codes.ResourceExhausted},
		{"upstream error", []byte("x"), &llm.APIError{StatusCode: 500, Body: "boom"}, codes.Internal},
		{"timeout", []byte("x"), common.NewAppError(common.CodeTransport, "send request", context.DeadlineExceeded), codes.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeAnalyzer{analyze: failing(tt.err)}
			conn := dialBufconn(t, fa, 1024)

			_, err := InvokeAnalyze(context.Background(), conn, tt.image)
			if got := status.Code(err); got != tt.code {
				t.Errorf("code = %s, want %s (err = %v)", got, tt.code, err)
			}
			if tt.err == nil && fa.calls.Load() != 0 {
				t.Errorf("analyzer ran for a rejected request")
			}
		})
	}
}

func TestGRPCHealth(t *testing.T) {
	tests := []struct {
		readyErr error
		want     healthpb.HealthCheckResponse_ServingStatus
	}{
		{nil, healthpb.HealthCheckResponse_SERVING},
		{common.ErrConfig, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		conn := dialBufconn(t, &fakeAnalyzer{readyErr: tt.readyErr}, 0)
		hc := healthpb.NewHealthClient(conn)

		resp, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{Service: AnalyzerServiceName})
		if err != nil {
			t.Fatalf("health check: %v", err)
		}
		if resp.GetStatus() != tt.want {
			t.Errorf("analyzer status = %s, want %s", resp.GetStatus(), tt.want)
		}
		overall, err := hc.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err != nil || overall.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("overall = %v, err = %v", overall.GetStatus(), err)
		}
	}
}
