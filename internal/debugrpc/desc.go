package debugrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

func structMethod[Out any](name string, call func(ChunkDebugServer, context.Context, *structpb.Struct) (Out, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ChunkDebugServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(ChunkDebugServer)
	if interceptor == nil {
		return s.Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Status"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return s.Status(ctx, req.(*emptypb.Empty))
	})
}

// ServiceDesc describes the debug service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChunkDebugServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
		structMethod("Chunk", ChunkDebugServer.Chunk),
		structMethod("AddPlayer", ChunkDebugServer.AddPlayer),
		structMethod("RemovePlayer", ChunkDebugServer.RemovePlayer),
		structMethod("MovePlayer", ChunkDebugServer.MovePlayer),
		structMethod("SetViewDistance", ChunkDebugServer.SetViewDistance),
		structMethod("SetSimulationDistance", ChunkDebugServer.SetSimulationDistance),
		structMethod("ForceChunk", ChunkDebugServer.ForceChunk),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chunkmap/debug/v1/debug.proto",
}

// Client calls the debug service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a Client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Out any](ctx context.Context, c *Client, method string, in any, opts ...grpc.CallOption) (*Out, error) {
	out := new(Out)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Status calls ChunkDebug.Status.
func (c *Client) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c, "Status", &emptypb.Empty{}, opts...)
}

// Call invokes a Struct-argument method by name, e.g. "Chunk" or "ForceChunk".
func (c *Client) Call(ctx context.Context, method string, args map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(args)
	if err != nil {
		return nil, err
	}
	return invoke[structpb.Struct](ctx, c, method, in, opts...)
}

// SetViewDistance calls ChunkDebug.SetViewDistance.
func (c *Client) SetViewDistance(ctx context.Context, d int, opts ...grpc.CallOption) error {
	in, err := structpb.NewStruct(map[string]any{"view_distance": d})
	if err != nil {
		return err
	}
	_, err = invoke[emptypb.Empty](ctx, c, "SetViewDistance", in, opts...)
	return err
}

// SetSimulationDistance calls ChunkDebug.SetSimulationDistance.
func (c *Client) SetSimulationDistance(ctx context.Context, d int, opts ...grpc.CallOption) error {
	in, err := structpb.NewStruct(map[string]any{"simulation_distance": d})
	if err != nil {
		return err
	}
	_, err = invoke[emptypb.Empty](ctx, c, "SetSimulationDistance", in, opts...)
	return err
}
