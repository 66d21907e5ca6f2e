package transport

// ============================================================================
// Destination gRPC 服務描述
// 請求與回應使用 protobuf well-known types，不需產生程式碼：
//   Deliver:         BytesValue(zstd 壓縮批次) → StringValue(票據)
//   Acknowledgements: Empty → BytesValue(JSON []types.Ack)
// 目的端識別碼放在 metadata 的 x-destination。
// ============================================================================

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName            = "beavermigrate.v1.Destination"
	MethodDeliver          = "/" + ServiceName + "/Deliver"
	MethodAcknowledgements = "/" + ServiceName + "/Acknowledgements"

	// DestinationHeader metadata key carrying the destination id
	DestinationHeader = "x-destination"
)

// DestinationServer 目的端 gRPC 服務
type DestinationServer interface {
	Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	Acknowledgements(ctx context.Context, req *emptypb.Empty) (*wrapperspb.BytesValue, error)
}

// RegisterDestinationServer 註冊目的端服務
func RegisterDestinationServer(s grpc.ServiceRegistrar, srv DestinationServer) {
	s.RegisterService(&destinationServiceDesc, srv)
}

var destinationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DestinationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Acknowledgements", Handler: acknowledgementsHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DestinationServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodDeliver}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DestinationServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func acknowledgementsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DestinationServer).Acknowledgements(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodAcknowledgements}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DestinationServer).Acknowledgements(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
