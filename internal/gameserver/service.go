// Package gameserver exposes the raid engine over gRPC as
// raidbot.v1.RaidService. Requests and responses are google.protobuf.Struct
// messages keyed by snake_case field names.
package gameserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "raidbot.v1.RaidService"

// Full method names.
const (
	MethodAttack   = "/" + ServiceName + "/Attack"
	MethodJoinRaid = "/" + ServiceName + "/JoinRaid"
	MethodEvacuate = "/" + ServiceName + "/Evacuate"
	MethodSearch   = "/" + ServiceName + "/Search"

	MethodResetChannel = "/" + ServiceName + "/ResetChannel"
)

// RaidServiceServer is the server API of raidbot.v1.RaidService.
type RaidServiceServer interface {
	Attack(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JoinRaid(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Evacuate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetChannel(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterRaidServiceServer registers srv on s.
func RegisterRaidServiceServer(s grpc.ServiceRegistrar, srv RaidServiceServer) {
	s.RegisterService(&RaidServiceDesc, srv)
}

type unaryMethod func(RaidServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// handler adapts one server method to the grpc method handler signature,
// running it through the server's interceptor chain.
func handler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RaidServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(RaidServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

// RaidServiceDesc describes raidbot.v1.RaidService.
var RaidServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RaidServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Attack", Handler: handler(MethodAttack, RaidServiceServer.Attack)},
		{MethodName: "JoinRaid", Handler: handler(MethodJoinRaid, RaidServiceServer.JoinRaid)},
		{MethodName: "Evacuate", Handler: handler(MethodEvacuate, RaidServiceServer.Evacuate)},
		{MethodName: "Search", Handler: handler(MethodSearch, RaidServiceServer.Search)},
		{MethodName: "ResetChannel", Handler: handler(MethodResetChannel, RaidServiceServer.ResetChannel)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raidbot/v1/raid.proto",
}

// RaidServiceClient calls raidbot.v1.RaidService.
type RaidServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRaidServiceClient returns a client over cc.
func NewRaidServiceClient(cc grpc.ClientConnInterface) *RaidServiceClient {
	return &RaidServiceClient{cc: cc}
}

func (c *RaidServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Attack calls RaidService.Attack.
func (c *RaidServiceClient) Attack(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodAttack, in, opts...)
}

// JoinRaid calls RaidService.JoinRaid.
func (c *RaidServiceClient) JoinRaid(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodJoinRaid, in, opts...)
}

// Evacuate calls RaidService.Evacuate.
func (c *RaidServiceClient) Evacuate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodEvacuate, in, opts...)
}

// Search calls RaidService.Search.
func (c *RaidServiceClient) Search(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSearch, in, opts...)
}

// ResetChannel calls RaidService.ResetChannel.
func (c *RaidServiceClient) ResetChannel(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodResetChannel, in, opts...)
}
