package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "roomvia.v1.Rows"

// RowsServer is the server API of the row service.
type RowsServer interface {
	CurrentUser(context.Context, *emptypb.Empty) (*UserResponse, error)
	RegisterUser(context.Context, *RegisterUserRequest) (*RegisterUserResponse, error)
	FindThread(context.Context, *FindThreadRequest) (*ThreadResponse, error)
	GetThread(context.Context, *GetThreadRequest) (*ThreadResponse, error)
	CreateThread(context.Context, *CreateThreadRequest) (*ThreadResponse, error)
	UpdateThread(context.Context, *UpdateThreadRequest) (*emptypb.Empty, error)
	ListThreads(context.Context, *ListThreadsRequest) (*ThreadsResponse, error)
	InsertMessage(context.Context, *InsertMessageRequest) (*MessageResponse, error)
	QueryMessages(context.Context, *QueryMessagesRequest) (*MessagesResponse, error)
	MarkMessagesRead(context.Context, *MarkMessagesReadRequest) (*emptypb.Empty, error)
	UnreadMessageIDs(context.Context, *UnreadMessageIDsRequest) (*IDsResponse, error)
	CountUnread(context.Context, *CountUnreadRequest) (*CountResponse, error)
	DisplayLabel(context.Context, *DisplayLabelRequest) (*LabelResponse, error)
	SearchMessages(context.Context, *SearchMessagesRequest) (*SearchResponse, error)
	WatchInserts(*WatchInsertsRequest, RowsWatchInsertsServer) error
}

// RowsWatchInsertsServer is the server side of a WatchInserts stream.
type RowsWatchInsertsServer interface {
	Send(*Message) error
	grpc.ServerStream
}

type rowsWatchInsertsServer struct {
	grpc.ServerStream
}

func (s *rowsWatchInsertsServer) Send(m *Message) error {
	return s.ServerStream.SendMsg(m)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor of one unary call.
func unary[Req, Resp any](name string, call func(RowsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RowsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RowsServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RowsServiceDesc describes the row service for grpc.Server.RegisterService.
var RowsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RowsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CurrentUser", RowsServer.CurrentUser),
		unary("RegisterUser", RowsServer.RegisterUser),
		unary("FindThread", RowsServer.FindThread),
		unary("GetThread", RowsServer.GetThread),
		unary("CreateThread", RowsServer.CreateThread),
		unary("UpdateThread", RowsServer.UpdateThread),
		unary("ListThreads", RowsServer.ListThreads),
		unary("InsertMessage", RowsServer.InsertMessage),
		unary("QueryMessages", RowsServer.QueryMessages),
		unary("MarkMessagesRead", RowsServer.MarkMessagesRead),
		unary("UnreadMessageIDs", RowsServer.UnreadMessageIDs),
		unary("CountUnread", RowsServer.CountUnread),
		unary("DisplayLabel", RowsServer.DisplayLabel),
		unary("SearchMessages", RowsServer.SearchMessages),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchInserts",
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(WatchInsertsRequest)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(RowsServer).WatchInserts(in, &rowsWatchInsertsServer{stream})
			},
		},
	},
	Metadata: "roomvia/v1/rows",
}

// RegisterRowsServer registers srv on s.
func RegisterRowsServer(s grpc.ServiceRegistrar, srv RowsServer) {
	s.RegisterService(&RowsServiceDesc, srv)
}

// RowsClient is the client API of the row service.
type RowsClient struct {
	cc grpc.ClientConnInterface
}

// NewRowsClient wraps a connection. Calls use the JSON codec.
func NewRowsClient(cc grpc.ClientConnInterface) *RowsClient {
	return &RowsClient{cc: cc}
}

// Dial connects to a daemon unix socket.
func Dial(socketPath string) (*grpc.ClientConn, error) {
	return grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
}

func invoke[Resp any](ctx context.Context, c *RowsClient, name string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RowsClient) CurrentUser(ctx context.Context, opts ...grpc.CallOption) (*UserResponse, error) {
	return invoke[UserResponse](ctx, c, "CurrentUser", &emptypb.Empty{}, opts...)
}

func (c *RowsClient) RegisterUser(ctx context.Context, in *RegisterUserRequest, opts ...grpc.CallOption) (*RegisterUserResponse, error) {
	return invoke[RegisterUserResponse](ctx, c, "RegisterUser", in, opts...)
}

func (c *RowsClient) FindThread(ctx context.Context, in *FindThreadRequest, opts ...grpc.CallOption) (*ThreadResponse, error) {
	return invoke[ThreadResponse](ctx, c, "FindThread", in, opts...)
}

func (c *RowsClient) GetThread(ctx context.Context, in *GetThreadRequest, opts ...grpc.CallOption) (*ThreadResponse, error) {
	return invoke[ThreadResponse](ctx, c, "GetThread", in, opts...)
}

func (c *RowsClient) CreateThread(ctx context.Context, in *CreateThreadRequest, opts ...grpc.CallOption) (*ThreadResponse, error) {
	return invoke[ThreadResponse](ctx, c, "CreateThread", in, opts...)
}

func (c *RowsClient) UpdateThread(ctx context.Context, in *UpdateThreadRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "UpdateThread", in, opts...)
}

func (c *RowsClient) ListThreads(ctx context.Context, in *ListThreadsRequest, opts ...grpc.CallOption) (*ThreadsResponse, error) {
	return invoke[ThreadsResponse](ctx, c, "ListThreads", in, opts...)
}

func (c *RowsClient) InsertMessage(ctx context.Context, in *InsertMessageRequest, opts ...grpc.CallOption) (*MessageResponse, error) {
	return invoke[MessageResponse](ctx, c, "InsertMessage", in, opts...)
}

func (c *RowsClient) QueryMessages(ctx context.Context, in *QueryMessagesRequest, opts ...grpc.CallOption) (*MessagesResponse, error) {
	return invoke[MessagesResponse](ctx, c, "QueryMessages", in, opts...)
}

func (c *RowsClient) MarkMessagesRead(ctx context.Context, in *MarkMessagesReadRequest, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c, "MarkMessagesRead", in, opts...)
}

func (c *RowsClient) UnreadMessageIDs(ctx context.Context, in *UnreadMessageIDsRequest, opts ...grpc.CallOption) (*IDsResponse, error) {
	return invoke[IDsResponse](ctx, c, "UnreadMessageIDs", in, opts...)
}

func (c *RowsClient) CountUnread(ctx context.Context, in *CountUnreadRequest, opts ...grpc.CallOption) (*CountResponse, error) {
	return invoke[CountResponse](ctx, c, "CountUnread", in, opts...)
}

func (c *RowsClient) DisplayLabel(ctx context.Context, in *DisplayLabelRequest, opts ...grpc.CallOption) (*LabelResponse, error) {
	return invoke[LabelResponse](ctx, c, "DisplayLabel", in, opts...)
}

func (c *RowsClient) SearchMessages(ctx context.Context, in *SearchMessagesRequest, opts ...grpc.CallOption) (*SearchResponse, error) {
	return invoke[SearchResponse](ctx, c, "SearchMessages", in, opts...)
}

// WatchInsertsClient is the client side of a WatchInserts stream.
type WatchInsertsClient interface {
	Recv() (*Message, error)
	grpc.ClientStream
}

type watchInsertsClient struct {
	grpc.ClientStream
}

func (x *watchInsertsClient) Recv() (*Message, error) {
	m := new(Message)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// WatchInserts opens an insert stream. The server sends a header once the
// subscription is active.
func (c *RowsClient) WatchInserts(ctx context.Context, in *WatchInsertsRequest, opts ...grpc.CallOption) (WatchInsertsClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &RowsServiceDesc.Streams[0], fullMethod("WatchInserts"), opts...)
	if err != nil {
		return nil, err
	}
	x := &watchInsertsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
