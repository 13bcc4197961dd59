package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dualstore.v1.Content"

// Full method names.
const (
	MethodList   = "/" + ServiceName + "/List"
	MethodGet    = "/" + ServiceName + "/Get"
	MethodCreate = "/" + ServiceName + "/Create"
	MethodUpdate = "/" + ServiceName + "/Update"
	MethodDelete = "/" + ServiceName + "/Delete"
	MethodWatch  = "/" + ServiceName + "/Watch"
)

// ContentServer is the server API of the content service. Messages are
// google.protobuf.Struct in both directions.
type ContentServer interface {
	List(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Create(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

type unaryCall func(ContentServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ContentServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ContentServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ContentServer).Watch(in, stream)
}

// ContentServiceDesc describes the content service without generated code.
var ContentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ContentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "List", Handler: unaryHandler(MethodList, ContentServer.List)},
		{MethodName: "Get", Handler: unaryHandler(MethodGet, ContentServer.Get)},
		{MethodName: "Create", Handler: unaryHandler(MethodCreate, ContentServer.Create)},
		{MethodName: "Update", Handler: unaryHandler(MethodUpdate, ContentServer.Update)},
		{MethodName: "Delete", Handler: unaryHandler(MethodDelete, ContentServer.Delete)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "dualstore/v1/content.proto",
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv ContentServer) {
	s.RegisterService(&ContentServiceDesc, srv)
}
