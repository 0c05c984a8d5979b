package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppServiceClient is the client API for the AppService, written in the
// shape protoc-gen-go-grpc would generate from spec.md §6's
// AppService{Set,Get,Delete,Watch,ForwardToLeader}.
type AppServiceClient interface {
	Set(ctx context.Context, in *SetRequest, opts ...grpc.CallOption) (*SetResponse, error)
	Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error)
	Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error)
	Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (AppService_WatchClient, error)
	ForwardToLeader(ctx context.Context, in *ForwardToLeaderRequest, opts ...grpc.CallOption) (*ForwardToLeaderResponse, error)
}

type appServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewAppServiceClient wraps an established *grpc.ClientConn.
func NewAppServiceClient(cc grpc.ClientConnInterface) AppServiceClient {
	return &appServiceClient{cc}
}

func (c *appServiceClient) Set(ctx context.Context, in *SetRequest, opts ...grpc.CallOption) (*SetResponse, error) {
	out := new(SetResponse)
	if err := c.cc.Invoke(ctx, "/disco.AppService/Set", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *appServiceClient) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*GetResponse, error) {
	out := new(GetResponse)
	if err := c.cc.Invoke(ctx, "/disco.AppService/Get", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *appServiceClient) Delete(ctx context.Context, in *DeleteRequest, opts ...grpc.CallOption) (*DeleteResponse, error) {
	out := new(DeleteResponse)
	if err := c.cc.Invoke(ctx, "/disco.AppService/Delete", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *appServiceClient) ForwardToLeader(ctx context.Context, in *ForwardToLeaderRequest, opts ...grpc.CallOption) (*ForwardToLeaderResponse, error) {
	out := new(ForwardToLeaderResponse)
	if err := c.cc.Invoke(ctx, "/disco.AppService/ForwardToLeader", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *appServiceClient) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (AppService_WatchClient, error) {
	stream, err := c.cc.NewStream(ctx, &AppService_ServiceDesc.Streams[0], "/disco.AppService/Watch", opts...)
	if err != nil {
		return nil, err
	}
	x := &appServiceWatchClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// AppService_WatchClient is the client side of the Watch server stream.
type AppService_WatchClient interface {
	Recv() (*WatchEvent, error)
	grpc.ClientStream
}

type appServiceWatchClient struct {
	grpc.ClientStream
}

func (x *appServiceWatchClient) Recv() (*WatchEvent, error) {
	m := new(WatchEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// AppServiceServer is the server API for the AppService.
type AppServiceServer interface {
	Set(context.Context, *SetRequest) (*SetResponse, error)
	Get(context.Context, *GetRequest) (*GetResponse, error)
	Delete(context.Context, *DeleteRequest) (*DeleteResponse, error)
	Watch(*WatchRequest, AppService_WatchServer) error
	ForwardToLeader(context.Context, *ForwardToLeaderRequest) (*ForwardToLeaderResponse, error)
	mustEmbedUnimplementedAppServiceServer()
}

// UnimplementedAppServiceServer must be embedded for forward compatibility.
type UnimplementedAppServiceServer struct{}

func (UnimplementedAppServiceServer) Set(context.Context, *SetRequest) (*SetResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Set not implemented")
}
func (UnimplementedAppServiceServer) Get(context.Context, *GetRequest) (*GetResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedAppServiceServer) Delete(context.Context, *DeleteRequest) (*DeleteResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Delete not implemented")
}
func (UnimplementedAppServiceServer) Watch(*WatchRequest, AppService_WatchServer) error {
	return status.Errorf(codes.Unimplemented, "method Watch not implemented")
}
func (UnimplementedAppServiceServer) ForwardToLeader(context.Context, *ForwardToLeaderRequest) (*ForwardToLeaderResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ForwardToLeader not implemented")
}
func (UnimplementedAppServiceServer) mustEmbedUnimplementedAppServiceServer() {}

// AppService_WatchServer is the server side of the Watch server stream.
type AppService_WatchServer interface {
	Send(*WatchEvent) error
	grpc.ServerStream
}

type appServiceWatchServer struct {
	grpc.ServerStream
}

func (x *appServiceWatchServer) Send(m *WatchEvent) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterAppServiceServer registers srv with s.
func RegisterAppServiceServer(s grpc.ServiceRegistrar, srv AppServiceServer) {
	s.RegisterService(&AppService_ServiceDesc, srv)
}

func _AppService_Set_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AppServiceServer).Set(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.AppService/Set"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AppServiceServer).Set(ctx, req.(*SetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AppService_Get_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AppServiceServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.AppService/Get"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AppServiceServer).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AppService_Delete_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DeleteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AppServiceServer).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.AppService/Delete"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AppServiceServer).Delete(ctx, req.(*DeleteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AppService_ForwardToLeader_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ForwardToLeaderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AppServiceServer).ForwardToLeader(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.AppService/ForwardToLeader"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AppServiceServer).ForwardToLeader(ctx, req.(*ForwardToLeaderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AppService_Watch_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(WatchRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AppServiceServer).Watch(m, &appServiceWatchServer{stream})
}

// AppService_ServiceDesc is the grpc.ServiceDesc for AppService.
var AppService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "disco.AppService",
	HandlerType: (*AppServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Set", Handler: _AppService_Set_Handler},
		{MethodName: "Get", Handler: _AppService_Get_Handler},
		{MethodName: "Delete", Handler: _AppService_Delete_Handler},
		{MethodName: "ForwardToLeader", Handler: _AppService_ForwardToLeader_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       _AppService_Watch_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "disco/app_service.proto",
}
