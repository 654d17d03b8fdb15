package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/identity"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/store"
)

// watchBuffer bounds the inserts queued for one slow watcher.
const watchBuffer = 256

// Searcher finds messages by text.
type Searcher interface {
	SearchMessages(ctx context.Context, userID, query, threadID string, limit int) ([]store.SearchResult, error)
}

// RowsService implements RowsServer over the daemon's store and feed.
type RowsService struct {
	store    messenger.Store
	profiles messenger.Profiles
	search   Searcher
	auth     *identity.TokenAuthenticator
	feed     messenger.Feed
	logger   *zap.Logger
}

var _ RowsServer = (*RowsService)(nil)

// Deps are the collaborators of RowsService.
type Deps struct {
	Store    messenger.Store
	Profiles messenger.Profiles
	Search   Searcher
	Auth     *identity.TokenAuthenticator
	Feed     messenger.Feed
	Logger   *zap.Logger
}

// NewRowsService creates the row service.
func NewRowsService(d Deps) *RowsService {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RowsService{
		store:    d.Store,
		profiles: d.Profiles,
		search:   d.Search,
		auth:     d.Auth,
		feed:     d.Feed,
		logger:   logger,
	}
}

// Register adds the service to a gRPC server.
func (s *RowsService) Register(srv *grpc.Server) {
	RegisterRowsServer(srv, s)
}

// TokenMetadataKey carries the bearer token of CurrentUser calls.
const TokenMetadataKey = "authorization"

func (s *RowsService) CurrentUser(ctx context.Context, _ *emptypb.Empty) (*UserResponse, error) {
	if s.auth == nil {
		return nil, ToStatus(messenger.ErrUnauthenticated)
	}
	var token string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(TokenMetadataKey); len(v) > 0 {
			token = identity.BearerToken(v[0])
		}
	}
	u, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &UserResponse{ID: u.ID, DisplayID: u.DisplayID}, nil
}

func (s *RowsService) RegisterUser(ctx context.Context, req *RegisterUserRequest) (*RegisterUserResponse, error) {
	if s.auth == nil {
		return nil, grpcstatus.Error(codes.Unimplemented, "token issuing disabled")
	}
	token, err := s.auth.Issue(ctx, req.UserID, req.DisplayID, req.Label)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Info("user registered", zap.String("user", req.UserID))
	return &RegisterUserResponse{Token: token}, nil
}

func (s *RowsService) FindThread(ctx context.Context, req *FindThreadRequest) (*ThreadResponse, error) {
	t, err := s.store.FindThread(ctx, req.UserA, req.UserB)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &ThreadResponse{Thread: ThreadToWire(t)}, nil
}

func (s *RowsService) GetThread(ctx context.Context, req *GetThreadRequest) (*ThreadResponse, error) {
	t, err := s.store.GetThread(ctx, req.ID)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &ThreadResponse{Thread: ThreadToWire(t)}, nil
}

func (s *RowsService) CreateThread(ctx context.Context, req *CreateThreadRequest) (*ThreadResponse, error) {
	t, err := s.store.CreateThread(ctx, messenger.NewThread{UserA: req.UserA, UserB: req.UserB, Context: req.Context.domain()})
	if err != nil {
		return nil, ToStatus(err)
	}
	return &ThreadResponse{Thread: ThreadToWire(t)}, nil
}

func (s *RowsService) UpdateThread(ctx context.Context, req *UpdateThreadRequest) (*emptypb.Empty, error) {
	if err := s.store.UpdateThread(ctx, req.ID, req.LastMessage, req.At); err != nil {
		return nil, ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *RowsService) ListThreads(ctx context.Context, req *ListThreadsRequest) (*ThreadsResponse, error) {
	threads, err := s.store.ListThreads(ctx, req.UserID)
	if err != nil {
		return nil, ToStatus(err)
	}
	out := make([]Thread, 0, len(threads))
	for i := range threads {
		out = append(out, *ThreadToWire(&threads[i]))
	}
	return &ThreadsResponse{Threads: out}, nil
}

func (s *RowsService) InsertMessage(ctx context.Context, req *InsertMessageRequest) (*MessageResponse, error) {
	m, err := s.store.InsertMessage(ctx, messenger.NewMessage{
		ThreadID:    req.ThreadID,
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Text:        req.Text,
		Nonce:       req.Nonce,
	})
	if err != nil {
		return nil, ToStatus(err)
	}
	return &MessageResponse{Message: MessageToWire(*m)}, nil
}

func (s *RowsService) QueryMessages(ctx context.Context, req *QueryMessagesRequest) (*MessagesResponse, error) {
	msgs, err := s.store.QueryMessages(ctx, req.ThreadID, req.Limit, req.Offset)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &MessagesResponse{Messages: messagesToWire(msgs)}, nil
}

func (s *RowsService) MarkMessagesRead(ctx context.Context, req *MarkMessagesReadRequest) (*emptypb.Empty, error) {
	if err := s.store.MarkMessagesRead(ctx, req.IDs); err != nil {
		return nil, ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *RowsService) UnreadMessageIDs(ctx context.Context, req *UnreadMessageIDsRequest) (*IDsResponse, error) {
	ids, err := s.store.UnreadMessageIDs(ctx, req.ThreadID, req.RecipientID)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &IDsResponse{IDs: ids}, nil
}

func (s *RowsService) CountUnread(ctx context.Context, req *CountUnreadRequest) (*CountResponse, error) {
	n, err := s.store.CountMessages(ctx, messenger.MessagePredicate{
		ThreadID:    req.ThreadID,
		RecipientID: req.RecipientID,
		UnreadOnly:  req.UnreadOnly,
	})
	if err != nil {
		return nil, ToStatus(err)
	}
	return &CountResponse{Count: n}, nil
}

func (s *RowsService) DisplayLabel(ctx context.Context, req *DisplayLabelRequest) (*LabelResponse, error) {
	if s.profiles == nil {
		return &LabelResponse{}, nil
	}
	label, err := s.profiles.DisplayLabel(ctx, req.UserID)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &LabelResponse{Label: label}, nil
}

func (s *RowsService) SearchMessages(ctx context.Context, req *SearchMessagesRequest) (*SearchResponse, error) {
	if s.search == nil {
		return nil, grpcstatus.Error(codes.Unimplemented, "search not available")
	}
	if req.UserID == "" || req.Query == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user_id and query are required")
	}
	results, err := s.search.SearchMessages(ctx, req.UserID, req.Query, req.ThreadID, req.Limit)
	if err != nil {
		return nil, ToStatus(err)
	}
	return &SearchResponse{Results: searchToWire(results)}, nil
}

// WatchInserts streams inserted messages involving the participant. A
// watcher that falls behind by more than watchBuffer rows is disconnected
// with Unavailable and is expected to resubscribe and reload.
func (s *RowsService) WatchInserts(req *WatchInsertsRequest, stream RowsWatchInsertsServer) error {
	if req.ParticipantID == "" {
		return grpcstatus.Error(codes.InvalidArgument, "participant_id is required")
	}
	ch := make(chan messenger.Message, watchBuffer)
	overflow := make(chan struct{})
	var overflowed bool

	h, err := s.feed.Subscribe(messenger.MessagesTable, messenger.FeedFilter{ParticipantID: req.ParticipantID}, func(m messenger.Message) {
		if overflowed {
			return
		}
		select {
		case ch <- m:
		default:
			overflowed = true
			close(overflow)
		}
	})
	if err != nil {
		return ToStatus(fmt.Errorf("%w: %w", messenger.ErrStoreUnavailable, err))
	}
	defer s.feed.Unsubscribe(h)

	if err := stream.SendHeader(metadata.Pairs("subscription", h.ID())); err != nil {
		return err
	}
	s.logger.Debug("watch started", zap.String("participant", req.ParticipantID), zap.String("handle", h.ID()))

	ctx := stream.Context()
	for {
		select {
		case m := <-ch:
			w := MessageToWire(m)
			if err := stream.Send(&w); err != nil {
				return err
			}
		case <-overflow:
			s.logger.Warn("watcher fell behind", zap.String("participant", req.ParticipantID))
			return grpcstatus.Error(codes.Unavailable, "watch overflow")
		case <-ctx.Done():
			return nil
		}
	}
}
