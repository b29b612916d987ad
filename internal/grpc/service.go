package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "asure.ledger.v1.LedgerService"

// LedgerServiceServer is the server API for LedgerService.
// Messages are protobuf well-known types; structured values travel as
// google.protobuf.Struct holding the JSON form of the domain types.
type LedgerServiceServer interface {
	Issue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Verify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Revoke(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListArtifacts(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetArtifact(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Contains(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	VerifyIntegrity(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetInfo(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetBlock(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	SetDifficulty(context.Context, *wrapperspb.UInt32Value) (*emptypb.Empty, error)
	SubscribeBlocks(*emptypb.Empty, LedgerService_SubscribeBlocksServer) error
}

// LedgerService_SubscribeBlocksServer is the server side of the block stream
type LedgerService_SubscribeBlocksServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type subscribeBlocksServer struct {
	grpc.ServerStream
}

func (x *subscribeBlocksServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterLedgerServiceServer registers srv with s
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerService_ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor for one unary RPC
func unary[Req, Resp proto.Message](name string, newReq func() Req, call func(LedgerServiceServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServiceServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func subscribeBlocksHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(LedgerServiceServer).SubscribeBlocks(m, &subscribeBlocksServer{stream})
}

func newStruct() *structpb.Struct { return new(structpb.Struct) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }
func newUInt64() *wrapperspb.UInt64Value { return new(wrapperspb.UInt64Value) }
func newUInt32() *wrapperspb.UInt32Value { return new(wrapperspb.UInt32Value) }

// LedgerService_ServiceDesc is the grpc.ServiceDesc for LedgerService
var LedgerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Issue", newStruct, LedgerServiceServer.Issue),
		unary("Verify", newStruct, LedgerServiceServer.Verify),
		unary("Revoke", newString, LedgerServiceServer.Revoke),
		unary("ListArtifacts", newEmpty, LedgerServiceServer.ListArtifacts),
		unary("GetArtifact", newString, LedgerServiceServer.GetArtifact),
		unary("Contains", newString, LedgerServiceServer.Contains),
		unary("VerifyIntegrity", newEmpty, LedgerServiceServer.VerifyIntegrity),
		unary("GetInfo", newEmpty, LedgerServiceServer.GetInfo),
		unary("GetBlock", newUInt64, LedgerServiceServer.GetBlock),
		unary("SetDifficulty", newUInt32, LedgerServiceServer.SetDifficulty),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubscribeBlocks",
			Handler:       subscribeBlocksHandler,
			ServerStreams: true,
		},
	},
	Metadata: "asure/ledger/v1/ledger.proto",
}
