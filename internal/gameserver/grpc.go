package gameserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer builds a gRPC server carrying the raid service and the
// standard health service, with call logging installed.
//
// Postcondition: the health service reports ServiceName as SERVING.
func NewGRPCServer(srv RaidServiceServer, logger *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryLogging(logger))}, opts...)
	s := grpc.NewServer(opts...)
	RegisterRaidServiceServer(s, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}
