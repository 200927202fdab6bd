package grpc

import (
	"context"
	"errors"
	"strconv"

	"github.com/vibast-solutions/ms-go-accounts/app/entity"
	"github.com/vibast-solutions/ms-go-accounts/app/service"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type AccountServer struct {
	accounts service.AccountService
}

func NewAccountServer(accounts service.AccountService) *AccountServer {
	return &AccountServer{accounts: accounts}
}

// NewServer builds the gRPC server with AccountService, health and
// reflection registered.
func NewServer(accounts service.AccountService, verifier *service.APIKeyVerifier, opts ...gogrpc.ServerOption) *gogrpc.Server {
	opts = append([]gogrpc.ServerOption{
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
		gogrpc.ChainUnaryInterceptor(APIKeyUnaryInterceptor(verifier)),
	}, opts...)

	s := gogrpc.NewServer(opts...)
	RegisterAccountServiceServer(s, NewAccountServer(accounts))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, healthServer)

	reflection.Register(s)
	return s
}

func (s *AccountServer) ValidateSession(_ context.Context, token *wrapperspb.StringValue) (*structpb.Struct, error) {
	if token.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	claims, err := s.accounts.CurrentUser(token.GetValue())
	if err != nil {
		logrus.Debug("Validate session failed (grpc)")
		return nil, status.Error(codes.Unauthenticated, "invalid or expired session")
	}

	return structpb.NewStruct(map[string]any{
		"id":         claims.Subject,
		"role":       claims.Role,
		"email":      claims.Email,
		"first_name": claims.FirstName,
		"last_name":  claims.LastName,
	})
}

func (s *AccountServer) GetUser(ctx context.Context, id *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	if id.GetValue() == 0 {
		return nil, status.Error(codes.InvalidArgument, "user id is required")
	}

	user, err := s.accounts.GetUser(ctx, id.GetValue())
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return nil, status.Error(codes.NotFound, "user not found")
		}
		logrus.WithError(err).WithField("user_id", id.GetValue()).Error("Get user failed (grpc)")
		return nil, status.Error(codes.Internal, "internal server error")
	}

	return userStruct(user)
}

func (s *AccountServer) CountUsers(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	n, err := s.accounts.CountUsers(ctx)
	if err != nil {
		logrus.WithError(err).Error("Count users failed (grpc)")
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return wrapperspb.Int64(n), nil
}

func userStruct(user *entity.User) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":                strconv.FormatUint(user.ID, 10),
		"first_name":        user.FirstName,
		"last_name":         user.LastName,
		"email":             user.Email,
		"has_pending_reset": user.HasPendingReset(),
	})
}
