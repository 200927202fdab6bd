package grpc

import (
	"context"
	"strings"

	"github.com/vibast-solutions/ms-go-accounts/app/service"

	"github.com/sirupsen/logrus"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const apiKeyMetadata = "x-api-key"

// APIKeyUnaryInterceptor requires the internal API key on AccountService
// calls. Health and reflection stay open.
func APIKeyUnaryInterceptor(verifier *service.APIKeyVerifier) gogrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}

		apiKey := incomingAPIKeyFromMetadata(ctx)
		if apiKey == "" {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		if err := verifier.Verify(apiKey); err != nil {
			logrus.WithField("method", info.FullMethod).Warn("Invalid x-api-key metadata (grpc)")
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		return handler(ctx, req)
	}
}

func incomingAPIKeyFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(apiKeyMetadata)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}
