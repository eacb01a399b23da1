// Package proto defines the gRPC service interface for TradeFlow ingestion.
//
// The messages are plain Go structs carried by the JSON codec registered in
// codec.go, so no protoc step is needed. Clients created with
// NewIngestionClient select that codec on every call.
package proto

import (
	"context"

	"google.golang.org/grpc"
)

// IngestionServer is the server-side interface for the IngestionService.
type IngestionServer interface {
	Submit(context.Context, *SubmitRequest) (*SubmitResponse, error)
	Cancel(context.Context, *CancelRequest) (*CancelResponse, error)
	Snapshot(context.Context, *SnapshotRequest) (*SnapshotResponse, error)
	Credits(context.Context, *CreditsRequest) (*CreditsResponse, error)
}

// IngestionClient is the client-side interface for the IngestionService.
type IngestionClient interface {
	Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error)
	Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error)
	Snapshot(ctx context.Context, in *SnapshotRequest, opts ...grpc.CallOption) (*SnapshotResponse, error)
	Credits(ctx context.Context, in *CreditsRequest, opts ...grpc.CallOption) (*CreditsResponse, error)
}

const serviceName = "tradeflow.IngestionService"

// ---- server registration ----

// ServiceDesc is the grpc.ServiceDesc for the IngestionService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*IngestionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: _Ingestion_Submit_Handler},
		{MethodName: "Cancel", Handler: _Ingestion_Cancel_Handler},
		{MethodName: "Snapshot", Handler: _Ingestion_Snapshot_Handler},
		{MethodName: "Credits", Handler: _Ingestion_Credits_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/tradeflow.proto",
}

// RegisterIngestionServer registers the server implementation with a gRPC server.
func RegisterIngestionServer(s grpc.ServiceRegistrar, srv IngestionServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary runs h through the server's interceptor chain, as generated code does.
func unary[Req any](method string, h func(IngestionServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return h(srv.(IngestionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return h(srv.(IngestionServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	_Ingestion_Submit_Handler = unary("Submit", func(s IngestionServer, ctx context.Context, in *SubmitRequest) (any, error) {
		return s.Submit(ctx, in)
	})
	_Ingestion_Cancel_Handler = unary("Cancel", func(s IngestionServer, ctx context.Context, in *CancelRequest) (any, error) {
		return s.Cancel(ctx, in)
	})
	_Ingestion_Snapshot_Handler = unary("Snapshot", func(s IngestionServer, ctx context.Context, in *SnapshotRequest) (any, error) {
		return s.Snapshot(ctx, in)
	})
	_Ingestion_Credits_Handler = unary("Credits", func(s IngestionServer, ctx context.Context, in *CreditsRequest) (any, error) {
		return s.Credits(ctx, in)
	})
)

// ---- client implementation ----

type ingestionClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestionClient creates a new IngestionService gRPC client.
func NewIngestionClient(cc grpc.ClientConnInterface) IngestionClient {
	return &ingestionClient{cc: cc}
}

func (c *ingestionClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *ingestionClient) Submit(ctx context.Context, in *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	out := new(SubmitResponse)
	if err := c.invoke(ctx, "Submit", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ingestionClient) Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error) {
	out := new(CancelResponse)
	if err := c.invoke(ctx, "Cancel", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ingestionClient) Snapshot(ctx context.Context, in *SnapshotRequest, opts ...grpc.CallOption) (*SnapshotResponse, error) {
	out := new(SnapshotResponse)
	if err := c.invoke(ctx, "Snapshot", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ingestionClient) Credits(ctx context.Context, in *CreditsRequest, opts ...grpc.CallOption) (*CreditsResponse, error) {
	out := new(CreditsResponse)
	if err := c.invoke(ctx, "Credits", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
