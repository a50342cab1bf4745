package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/pscheid92/pollbook/internal/platform/correlation"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// correlationKey is the metadata key for correlation IDs; gRPC lowercases
// header names.
const correlationKey = "x-correlation-id"

// Server hosts the ledger gRPC API and the standard health service.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
}

func NewServer(app appService) *Server {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(correlationInterceptor, loggingInterceptor),
	)
	grpcServer.RegisterService(&ledgerServiceDesc, &ledgerService{app: app})

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{grpcServer: grpcServer, health: healthServer}
}

// Serve accepts connections on lis until ctx is cancelled, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	slog.Info("Starting gRPC server", "addr", lis.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

func correlationInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var incoming string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(correlationKey); len(values) > 0 {
			incoming = values[0]
		}
	}
	ctx, id := correlation.Ensure(ctx, incoming)
	_ = grpc.SetHeader(ctx, metadata.Pairs(correlationKey, id))
	return handler(ctx, req)
}

func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	code := status.Code(err)
	slog.Log(ctx, logLevel(code), "gRPC call", "method", info.FullMethod, "code", code.String(), "error", err)
	return resp, err
}

func logLevel(code codes.Code) slog.Level {
	switch code {
	case codes.OK:
		return slog.LevelDebug
	case codes.InvalidArgument, codes.NotFound:
		return slog.LevelInfo
	case codes.AlreadyExists, codes.Canceled, codes.DeadlineExceeded:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
