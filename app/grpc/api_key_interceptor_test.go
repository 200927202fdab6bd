package grpc_test

import (
	"context"
	"testing"

	accountsgrpc "github.com/vibast-solutions/ms-go-accounts/app/grpc"
	"github.com/vibast-solutions/ms-go-accounts/app/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var accountMethod = &grpc.UnaryServerInfo{FullMethod: "/" + accountsgrpc.ServiceName + "/GetUser"}

func okHandler(context.Context, any) (any, error) {
	return "ok", nil
}

func TestAPIKeyUnaryInterceptor_MissingKey(t *testing.T) {
	interceptor := accountsgrpc.APIKeyUnaryInterceptor(service.NewAPIKeyVerifier("internal-key"))

	_, err := interceptor(context.Background(), nil, accountMethod, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestAPIKeyUnaryInterceptor_InvalidKey(t *testing.T) {
	interceptor := accountsgrpc.APIKeyUnaryInterceptor(service.NewAPIKeyVerifier("internal-key"))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "wrong"))
	_, err := interceptor(ctx, nil, accountMethod, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestAPIKeyUnaryInterceptor_ValidKey(t *testing.T) {
	interceptor := accountsgrpc.APIKeyUnaryInterceptor(service.NewAPIKeyVerifier("internal-key"))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "internal-key"))
	res, err := interceptor(ctx, nil, accountMethod, okHandler)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res != "ok" {
		t.Fatalf("expected handler result, got %v", res)
	}
}

func TestAPIKeyUnaryInterceptor_HealthIsOpen(t *testing.T) {
	interceptor := accountsgrpc.APIKeyUnaryInterceptor(service.NewAPIKeyVerifier("internal-key"))

	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := interceptor(context.Background(), nil, info, okHandler); err != nil {
		t.Fatalf("expected health check to bypass the key, got %v", err)
	}
}
