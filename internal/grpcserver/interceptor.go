package grpcserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/mtiwari1/tradeflow/internal/identity"
)

// MaxMessageSize bounds a Submit request: a handful of 10 MiB files.
const MaxMessageSize = 64 << 20

// ServerOptions returns the options every TradeFlow gRPC server runs with.
func ServerOptions(provider identity.Provider, logger *slog.Logger) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.ChainUnaryInterceptor(LoggingInterceptor(logger), AuthInterceptor(provider)),
	}
}

// AuthInterceptor resolves the bearer token in the "authorization" metadata
// to a session and stores it in the request context.
func AuthInterceptor(provider identity.Provider) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		var token string
		if vals := md.Get("authorization"); len(vals) > 0 {
			token, _ = identity.BearerToken(vals[0])
		}
		if token == "" {
			return nil, mapError(errors.Wrap(identity.ErrNoSession, "missing bearer token"), info.FullMethod)
		}

		sess, err := provider.Authenticate(ctx, token)
		if err != nil {
			return nil, mapError(err, info.FullMethod)
		}
		return handler(identity.WithSession(ctx, sess), req)
	}
}

// LoggingInterceptor logs each call with its outcome code and latency.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		level := slog.LevelInfo
		if err != nil {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "grpc call",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
