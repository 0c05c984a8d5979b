package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ManagementServiceClient is the client API for spec.md §6's
// ManagementService{Init,AddLearner,ChangeMembership,Metrics}.
type ManagementServiceClient interface {
	Init(ctx context.Context, in *InitRequest, opts ...grpc.CallOption) (*InitResponse, error)
	AddLearner(ctx context.Context, in *AddLearnerRequest, opts ...grpc.CallOption) (*AddLearnerResponse, error)
	ChangeMembership(ctx context.Context, in *ChangeMembershipRequest, opts ...grpc.CallOption) (*ChangeMembershipResponse, error)
	Metrics(ctx context.Context, in *MetricsRequest, opts ...grpc.CallOption) (*MetricsResponse, error)
}

type managementServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewManagementServiceClient wraps an established *grpc.ClientConn.
func NewManagementServiceClient(cc grpc.ClientConnInterface) ManagementServiceClient {
	return &managementServiceClient{cc}
}

func (c *managementServiceClient) Init(ctx context.Context, in *InitRequest, opts ...grpc.CallOption) (*InitResponse, error) {
	out := new(InitResponse)
	if err := c.cc.Invoke(ctx, "/disco.ManagementService/Init", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *managementServiceClient) AddLearner(ctx context.Context, in *AddLearnerRequest, opts ...grpc.CallOption) (*AddLearnerResponse, error) {
	out := new(AddLearnerResponse)
	if err := c.cc.Invoke(ctx, "/disco.ManagementService/AddLearner", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *managementServiceClient) ChangeMembership(ctx context.Context, in *ChangeMembershipRequest, opts ...grpc.CallOption) (*ChangeMembershipResponse, error) {
	out := new(ChangeMembershipResponse)
	if err := c.cc.Invoke(ctx, "/disco.ManagementService/ChangeMembership", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *managementServiceClient) Metrics(ctx context.Context, in *MetricsRequest, opts ...grpc.CallOption) (*MetricsResponse, error) {
	out := new(MetricsResponse)
	if err := c.cc.Invoke(ctx, "/disco.ManagementService/Metrics", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ManagementServiceServer is the server API for the ManagementService.
type ManagementServiceServer interface {
	Init(context.Context, *InitRequest) (*InitResponse, error)
	AddLearner(context.Context, *AddLearnerRequest) (*AddLearnerResponse, error)
	ChangeMembership(context.Context, *ChangeMembershipRequest) (*ChangeMembershipResponse, error)
	Metrics(context.Context, *MetricsRequest) (*MetricsResponse, error)
	mustEmbedUnimplementedManagementServiceServer()
}

// UnimplementedManagementServiceServer must be embedded for forward compatibility.
type UnimplementedManagementServiceServer struct{}

func (UnimplementedManagementServiceServer) Init(context.Context, *InitRequest) (*InitResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Init not implemented")
}
func (UnimplementedManagementServiceServer) AddLearner(context.Context, *AddLearnerRequest) (*AddLearnerResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method AddLearner not implemented")
}
func (UnimplementedManagementServiceServer) ChangeMembership(context.Context, *ChangeMembershipRequest) (*ChangeMembershipResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ChangeMembership not implemented")
}
func (UnimplementedManagementServiceServer) Metrics(context.Context, *MetricsRequest) (*MetricsResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Metrics not implemented")
}
func (UnimplementedManagementServiceServer) mustEmbedUnimplementedManagementServiceServer() {}

// RegisterManagementServiceServer registers srv with s.
func RegisterManagementServiceServer(s grpc.ServiceRegistrar, srv ManagementServiceServer) {
	s.RegisterService(&ManagementService_ServiceDesc, srv)
}

func _ManagementService_Init_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ManagementServiceServer).Init(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.ManagementService/Init"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ManagementServiceServer).Init(ctx, req.(*InitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ManagementService_AddLearner_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AddLearnerRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ManagementServiceServer).AddLearner(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.ManagementService/AddLearner"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ManagementServiceServer).AddLearner(ctx, req.(*AddLearnerRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ManagementService_ChangeMembership_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ChangeMembershipRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ManagementServiceServer).ChangeMembership(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.ManagementService/ChangeMembership"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ManagementServiceServer).ChangeMembership(ctx, req.(*ChangeMembershipRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ManagementService_Metrics_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MetricsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ManagementServiceServer).Metrics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/disco.ManagementService/Metrics"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ManagementServiceServer).Metrics(ctx, req.(*MetricsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ManagementService_ServiceDesc is the grpc.ServiceDesc for ManagementService.
var ManagementService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "disco.ManagementService",
	HandlerType: (*ManagementServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Init", Handler: _ManagementService_Init_Handler},
		{MethodName: "AddLearner", Handler: _ManagementService_AddLearner_Handler},
		{MethodName: "ChangeMembership", Handler: _ManagementService_ChangeMembership_Handler},
		{MethodName: "Metrics", Handler: _ManagementService_Metrics_Handler},
	},
	Metadata: "disco/management_service.proto",
}
