package grpcx

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

func TestRequestIDInterceptorUsesIncomingMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "abc"))

	var seen string
	_, err := UnaryServerRequestIDInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(ctx context.Context, _ any) (any, error) {
			seen = RequestIDFromContext(ctx)
			return nil, nil
		})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if seen != "abc" {
		t.Fatalf("expected propagated id, got %q", seen)
	}
}

func TestRequestIDInterceptorGeneratesID(t *testing.T) {
	var seen string
	_, _ = UnaryServerRequestIDInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{},
		func(ctx context.Context, _ any) (any, error) {
			seen = RequestIDFromContext(ctx)
			return nil, nil
		})
	if len(seen) != 32 {
		t.Fatalf("expected generated hex id, got %q", seen)
	}
}
