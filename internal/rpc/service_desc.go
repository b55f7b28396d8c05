// Package rpc exposes the offline method dispatcher over gRPC. Requests and
// results are untyped structpb records, so the service is described by hand
// instead of being generated from a .proto file.
package rpc

import (
	"context"

	"github.com/signalsfoundry/offline-maps/internal/plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "offline.v1.OfflineRegions"

// MethodSubscribe is the server-streaming event subscription.
const MethodSubscribe = "subscribe"

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// OfflineRegionsServer is implemented by Service.
type OfflineRegionsServer interface {
	// Invoke runs one dispatcher method with the request record as its
	// arguments.
	Invoke(ctx context.Context, method string, args *structpb.Struct) (*structpb.Value, error)
	// Subscribe streams the events of the channel named in req until the
	// channel closes or the client goes away.
	Subscribe(req *structpb.Struct, stream EventStream) error
}

// EventStream is the server side of a subscribe call.
type EventStream interface {
	Send(*structpb.Struct) error
	SendHeader(md map[string]string) error
	Context() context.Context
}

// ServiceDesc describes the OfflineRegions service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OfflineRegionsServer)(nil),
	Methods:     unaryMethods(plugin.Methods),
	Streams: []grpc.StreamDesc{{
		StreamName:    MethodSubscribe,
		Handler:       subscribeHandler,
		ServerStreams: true,
	}},
	Metadata: "offline/v1/offline_regions.proto",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv OfflineRegionsServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryMethods(names []string) []grpc.MethodDesc {
	out := make([]grpc.MethodDesc, 0, len(names))
	for _, name := range names {
		out = append(out, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name)})
	}
	return out
}

func unaryHandler(method string) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(OfflineRegionsServer)
		if interceptor == nil {
			return s.Invoke(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return s.Invoke(ctx, method, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(OfflineRegionsServer).Subscribe(in, &eventStream{stream})
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func (s *eventStream) SendHeader(md map[string]string) error {
	return s.ServerStream.SendHeader(metadata.New(md))
}
