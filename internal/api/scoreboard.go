package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ScoreboardServiceName is the fully-qualified gRPC service name.
const ScoreboardServiceName = "mirador.resilience.v1.Scoreboard"

const (
	latestScoreMethod = "/" + ScoreboardServiceName + "/LatestScore"
	historyMethod     = "/" + ScoreboardServiceName + "/History"
)

// ScoreboardServer serves the latest run result and the score history.
type ScoreboardServer interface {
	LatestScore(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	History(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
}

// ScoreboardServiceDesc describes the Scoreboard service using well-known message types.
var ScoreboardServiceDesc = grpc.ServiceDesc{
	ServiceName: ScoreboardServiceName,
	HandlerType: (*ScoreboardServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LatestScore", Handler: latestScoreHandler},
		{MethodName: "History", Handler: historyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/resilience/v1/scoreboard.proto",
}

// RegisterScoreboardServer registers srv on s.
func RegisterScoreboardServer(s grpc.ServiceRegistrar, srv ScoreboardServer) {
	s.RegisterService(&ScoreboardServiceDesc, srv)
}

func latestScoreHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScoreboardServer).LatestScore(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: latestScoreMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScoreboardServer).LatestScore(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func historyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScoreboardServer).History(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: historyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScoreboardServer).History(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ScoreboardClient calls a remote Scoreboard.
type ScoreboardClient struct {
	cc grpc.ClientConnInterface
}

// NewScoreboardClient wraps an established connection.
func NewScoreboardClient(cc grpc.ClientConnInterface) *ScoreboardClient {
	return &ScoreboardClient{cc: cc}
}

// LatestScore fetches the latest run summary.
func (c *ScoreboardClient) LatestScore(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, latestScoreMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// History fetches every stored history entry.
func (c *ScoreboardClient) History(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, historyMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
