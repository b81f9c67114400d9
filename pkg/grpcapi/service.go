package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the full gRPC service name.
const ServiceName = "spp.v1.Command"

// Full method names.
const (
	ExecuteMethod = "/" + ServiceName + "/Execute"
	StatusMethod  = "/" + ServiceName + "/Status"
	HistoryMethod = "/" + ServiceName + "/History"
)

// CommandServer is the server side of spp.v1.Command. Every method answers
// with a JSON document in a StringValue.
type CommandServer interface {
	Execute(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Status(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	History(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

// RegisterCommandServer registers srv on s.
func RegisterCommandServer(s grpc.ServiceRegistrar, srv CommandServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommandServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "History", Handler: historyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spp/v1/command.proto",
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommandServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExecuteMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CommandServer).Execute(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommandServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: StatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CommandServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func historyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommandServer).History(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HistoryMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CommandServer).History(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls spp.v1.Command over conn.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Execute sends one command request and returns the JSON response.
func (c *Client) Execute(ctx context.Context, request string) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, ExecuteMethod, wrapperspb.String(request), out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// Status returns the status document.
func (c *Client) Status(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, StatusMethod, &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// History returns the commit history as JSON.
func (c *Client) History(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, HistoryMethod, &emptypb.Empty{}, out); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}
