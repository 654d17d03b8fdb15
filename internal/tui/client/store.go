package client

import (
	"context"
	"time"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// Store is a messenger.Store and messenger.Profiles served by the daemon.
type Store struct {
	rows *api.RowsClient
}

var (
	_ messenger.Store    = (*Store)(nil)
	_ messenger.Profiles = (*Store)(nil)
)

// Store returns the remote store of c.
func (c *Client) Store() *Store { return &Store{rows: c.Rows} }

func (s *Store) FindThread(ctx context.Context, userA, userB string) (*messenger.Thread, error) {
	resp, err := s.rows.FindThread(ctx, &api.FindThreadRequest{UserA: userA, UserB: userB})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Thread.Domain(), nil
}

func (s *Store) GetThread(ctx context.Context, id string) (*messenger.Thread, error) {
	resp, err := s.rows.GetThread(ctx, &api.GetThreadRequest{ID: id})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Thread.Domain(), nil
}

func (s *Store) CreateThread(ctx context.Context, t messenger.NewThread) (*messenger.Thread, error) {
	resp, err := s.rows.CreateThread(ctx, &api.CreateThreadRequest{
		UserA:   t.UserA,
		UserB:   t.UserB,
		Context: api.ThreadContext{ListingID: t.Context.ListingID, FlatmateID: t.Context.FlatmateID},
	})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Thread.Domain(), nil
}

func (s *Store) UpdateThread(ctx context.Context, id, lastMessage string, at time.Time) error {
	_, err := s.rows.UpdateThread(ctx, &api.UpdateThreadRequest{ID: id, LastMessage: lastMessage, At: at})
	return api.FromStatus(err)
}

func (s *Store) ListThreads(ctx context.Context, userID string) ([]messenger.Thread, error) {
	resp, err := s.rows.ListThreads(ctx, &api.ListThreadsRequest{UserID: userID})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	threads := make([]messenger.Thread, 0, len(resp.Threads))
	for i := range resp.Threads {
		threads = append(threads, *resp.Threads[i].Domain())
	}
	return threads, nil
}

func (s *Store) InsertMessage(ctx context.Context, m messenger.NewMessage) (*messenger.Message, error) {
	resp, err := s.rows.InsertMessage(ctx, &api.InsertMessageRequest{
		ThreadID:    m.ThreadID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Text:        m.Text,
		Nonce:       m.Nonce,
	})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	msg := resp.Message.Domain()
	return &msg, nil
}

func (s *Store) QueryMessages(ctx context.Context, threadID string, limit, offset int) ([]messenger.Message, error) {
	resp, err := s.rows.QueryMessages(ctx, &api.QueryMessagesRequest{ThreadID: threadID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	msgs := make([]messenger.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msgs = append(msgs, m.Domain())
	}
	return msgs, nil
}

func (s *Store) UnreadMessageIDs(ctx context.Context, threadID, recipientID string) ([]string, error) {
	resp, err := s.rows.UnreadMessageIDs(ctx, &api.UnreadMessageIDsRequest{ThreadID: threadID, RecipientID: recipientID})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.IDs, nil
}

func (s *Store) MarkMessagesRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.rows.MarkMessagesRead(ctx, &api.MarkMessagesReadRequest{IDs: ids})
	return api.FromStatus(err)
}

func (s *Store) CountMessages(ctx context.Context, p messenger.MessagePredicate) (int, error) {
	resp, err := s.rows.CountUnread(ctx, &api.CountUnreadRequest{ThreadID: p.ThreadID, RecipientID: p.RecipientID, UnreadOnly: p.UnreadOnly})
	if err != nil {
		return 0, api.FromStatus(err)
	}
	return resp.Count, nil
}

func (s *Store) DisplayLabel(ctx context.Context, userID string) (string, error) {
	resp, err := s.rows.DisplayLabel(ctx, &api.DisplayLabelRequest{UserID: userID})
	if err != nil {
		return "", api.FromStatus(err)
	}
	return resp.Label, nil
}

// Search finds messages of userID containing query.
func (s *Store) Search(ctx context.Context, userID, query, threadID string, limit int) ([]api.SearchHit, error) {
	resp, err := s.rows.SearchMessages(ctx, &api.SearchMessagesRequest{UserID: userID, Query: query, ThreadID: threadID, Limit: limit})
	if err != nil {
		return nil, api.FromStatus(err)
	}
	return resp.Results, nil
}
