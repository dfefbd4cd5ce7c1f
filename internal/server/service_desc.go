package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "reftriage.v1.ResolverService"

const resolveMethod = "/" + ServiceName + "/Resolve"

// ResolverServiceServer is the server API for ResolverService. Request and
// response bodies are google.protobuf.Struct values carrying the same
// fields as the HTTP JSON API.
type ResolverServiceServer interface {
	Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ResolverServiceDesc is the grpc.ServiceDesc for ResolverService.
var ResolverServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ResolverServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Resolve", Handler: resolveHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reftriage/v1/resolver.proto",
}

// RegisterResolverServiceServer registers srv on s.
func RegisterResolverServiceServer(s grpc.ServiceRegistrar, srv ResolverServiceServer) {
	s.RegisterService(&ResolverServiceDesc, srv)
}

func resolveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ResolverServiceServer).Resolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: resolveMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ResolverServiceServer).Resolve(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ResolverServiceClient calls ResolverService.
type ResolverServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewResolverServiceClient creates a client on cc.
func NewResolverServiceClient(cc grpc.ClientConnInterface) *ResolverServiceClient {
	return &ResolverServiceClient{cc: cc}
}

// Resolve calls ResolverService/Resolve.
func (c *ResolverServiceClient) Resolve(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, resolveMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
