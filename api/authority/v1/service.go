// Package authorityv1 is the gRPC contract of the authority service.
//
// Messages travel as google.protobuf.Struct documents whose fields follow
// the JSON encoding of the shared session model.
package authorityv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "investordefend.authority.v1.AuthorityService"

// Full method names, used by interceptors and tests.
const (
	FetchSessionMethod = "/" + ServiceName + "/FetchSession"
	SubmitActionMethod = "/" + ServiceName + "/SubmitAction"
)

// AuthorityServiceClient calls the authority.
type AuthorityServiceClient interface {
	FetchSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	SubmitAction(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type authorityServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAuthorityServiceClient builds a client over cc.
func NewAuthorityServiceClient(cc grpc.ClientConnInterface) AuthorityServiceClient {
	return &authorityServiceClient{cc: cc}
}

func (c *authorityServiceClient) FetchSession(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FetchSessionMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *authorityServiceClient) SubmitAction(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SubmitActionMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// AuthorityServiceServer is implemented by the authority.
type AuthorityServiceServer interface {
	FetchSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterAuthorityServiceServer registers srv on s.
func RegisterAuthorityServiceServer(s grpc.ServiceRegistrar, srv AuthorityServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the authority service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthorityServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FetchSession", Handler: fetchSessionHandler},
		{MethodName: "SubmitAction", Handler: submitActionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authority/v1/authority.proto",
}

func fetchSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthorityServiceServer).FetchSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FetchSessionMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthorityServiceServer).FetchSession(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func submitActionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthorityServiceServer).SubmitAction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitActionMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthorityServiceServer).SubmitAction(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
