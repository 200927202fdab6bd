package grpc

import (
	"context"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "accounts.v1.AccountService"

	validateSessionMethod = "/" + ServiceName + "/ValidateSession"
	getUserMethod         = "/" + ServiceName + "/GetUser"
	countUsersMethod      = "/" + ServiceName + "/CountUsers"
)

// AccountServiceServer is the internal account API. Messages are protobuf
// well-known types so no generated code is needed on either side.
type AccountServiceServer interface {
	ValidateSession(ctx context.Context, token *wrapperspb.StringValue) (*structpb.Struct, error)
	GetUser(ctx context.Context, id *wrapperspb.UInt64Value) (*structpb.Struct, error)
	CountUsers(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error)
}

var AccountServiceDesc = gogrpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AccountServiceServer)(nil),
	Methods: []gogrpc.MethodDesc{
		{MethodName: "ValidateSession", Handler: validateSessionHandler},
		{MethodName: "GetUser", Handler: getUserHandler},
		{MethodName: "CountUsers", Handler: countUsersHandler},
	},
	Streams:  []gogrpc.StreamDesc{},
	Metadata: "accounts/v1/accounts.proto",
}

func RegisterAccountServiceServer(s gogrpc.ServiceRegistrar, srv AccountServiceServer) {
	s.RegisterService(&AccountServiceDesc, srv)
}

func validateSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccountServiceServer).ValidateSession(ctx, in)
	}
	info := &gogrpc.UnaryServerInfo{Server: srv, FullMethod: validateSessionMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AccountServiceServer).ValidateSession(ctx, req.(*wrapperspb.StringValue))
	})
}

func getUserHandler(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.UInt64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccountServiceServer).GetUser(ctx, in)
	}
	info := &gogrpc.UnaryServerInfo{Server: srv, FullMethod: getUserMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AccountServiceServer).GetUser(ctx, req.(*wrapperspb.UInt64Value))
	})
}

func countUsersHandler(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AccountServiceServer).CountUsers(ctx, in)
	}
	info := &gogrpc.UnaryServerInfo{Server: srv, FullMethod: countUsersMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(AccountServiceServer).CountUsers(ctx, req.(*emptypb.Empty))
	})
}

// AccountServiceClient calls AccountService over an established connection.
type AccountServiceClient struct {
	cc gogrpc.ClientConnInterface
}

func NewAccountServiceClient(cc gogrpc.ClientConnInterface) *AccountServiceClient {
	return &AccountServiceClient{cc: cc}
}

func (c *AccountServiceClient) ValidateSession(ctx context.Context, token string, opts ...gogrpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, validateSessionMethod, wrapperspb.String(token), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AccountServiceClient) GetUser(ctx context.Context, userID uint64, opts ...gogrpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getUserMethod, wrapperspb.UInt64(userID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AccountServiceClient) CountUsers(ctx context.Context, opts ...gogrpc.CallOption) (int64, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, countUsersMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}
