package messenger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeIdentity struct {
	user User
	err  error
}

func (f fakeIdentity) CurrentUser(context.Context) (User, error) {
	if f.err != nil {
		return User{}, f.err
	}
	if f.user.ID == "" {
		return User{}, ErrUnauthenticated
	}
	return f.user, nil
}

func identityOf(id string) fakeIdentity { return fakeIdentity{user: User{ID: id, DisplayID: id}} }

// memStore is an in-memory Store keyed on the ordered pair like the real schema.
type memStore struct {
	mu        sync.Mutex
	threads   map[string]*Thread
	messages  []Message
	seq       int
	err       error
	insertErr error
	markCalls [][]string
	finds     int

	// beforeInsert runs at the start of InsertMessage, outside the lock.
	beforeInsert func()
	// afterInsert runs with the stored row before InsertMessage returns, outside the lock.
	afterInsert func(Message)
	// beforeMark and beforeUnreadIDs run at the start of MarkMessagesRead
	// and UnreadMessageIDs, outside the lock.
	beforeMark      func()
	beforeUnreadIDs func()
}

func newMemStore() *memStore {
	return &memStore{threads: make(map[string]*Thread)}
}

func (s *memStore) FindThread(_ context.Context, a, b string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.err != nil {
		return nil, s.err
	}
	for _, t := range s.threads {
		if t.UserA == a && t.UserB == b {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetThread(_ context.Context, id string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	t, ok := s.threads[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) CreateThread(_ context.Context, nt NewThread) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	for _, t := range s.threads {
		if (t.UserA == nt.UserA && t.UserB == nt.UserB) || (t.UserA == nt.UserB && t.UserB == nt.UserA) {
			return nil, ErrDuplicateThread
		}
	}
	if nt.Context.IsZero() {
		return nil, ErrContextRequired
	}
	s.seq++
	t := &Thread{
		ID:        fmt.Sprintf("t%d", s.seq),
		UserA:     nt.UserA,
		UserB:     nt.UserB,
		Context:   nt.Context,
		CreatedAt: epoch,
	}
	s.threads[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *memStore) UpdateThread(_ context.Context, id, last string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if t, ok := s.threads[id]; ok {
		t.LastMessage = last
		t.LastMessageAt = at
	}
	return nil
}

func (s *memStore) ListThreads(_ context.Context, userID string) ([]Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []Thread
	for _, t := range s.threads {
		if t.Has(userID) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) InsertMessage(_ context.Context, nm NewMessage) (*Message, error) {
	if s.beforeInsert != nil {
		s.beforeInsert()
	}
	m, err := s.insert(nm)
	if err != nil {
		return nil, err
	}
	if s.afterInsert != nil {
		s.afterInsert(*m)
	}
	return m, nil
}

func (s *memStore) insert(nm NewMessage) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.seq++
	m := Message{
		ID:          fmt.Sprintf("m%d", s.seq),
		ThreadID:    nm.ThreadID,
		SenderID:    nm.SenderID,
		RecipientID: nm.RecipientID,
		Text:        nm.Text,
		Nonce:       nm.Nonce,
		CreatedAt:   epoch.Add(time.Duration(s.seq) * time.Second),
	}
	s.messages = append(s.messages, m)
	return &m, nil
}

// seed inserts a message directly, bypassing error injection.
func (s *memStore) seed(threadID, from, to, text string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	m := Message{
		ID:          fmt.Sprintf("m%d", s.seq),
		ThreadID:    threadID,
		SenderID:    from,
		RecipientID: to,
		Text:        text,
		CreatedAt:   epoch.Add(time.Duration(s.seq) * time.Second),
	}
	s.messages = append(s.messages, m)
	if t, ok := s.threads[threadID]; ok {
		t.LastMessage = text
		t.LastMessageAt = m.CreatedAt
	}
	return m
}

func (s *memStore) QueryMessages(_ context.Context, threadID string, limit, offset int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ThreadID == threadID {
			out = append(out, s.messages[i])
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UnreadMessageIDs(_ context.Context, threadID, recipientID string) ([]string, error) {
	if s.beforeUnreadIDs != nil {
		s.beforeUnreadIDs()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var ids []string
	for _, m := range s.messages {
		if m.ThreadID == threadID && m.RecipientID == recipientID && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	return ids, nil
}

func (s *memStore) MarkMessagesRead(_ context.Context, ids []string) error {
	if s.beforeMark != nil {
		s.beforeMark()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	cp := append([]string(nil), ids...)
	sort.Strings(cp)
	s.markCalls = append(s.markCalls, cp)
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range s.messages {
		if set[s.messages[i].ID] {
			s.messages[i].IsRead = true
		}
	}
	return nil
}

func (s *memStore) CountMessages(_ context.Context, p MessagePredicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	n := 0
	for _, m := range s.messages {
		if p.ThreadID != "" && m.ThreadID != p.ThreadID {
			continue
		}
		if p.RecipientID != "" && m.RecipientID != p.RecipientID {
			continue
		}
		if p.UnreadOnly && m.IsRead {
			continue
		}
		n++
	}
	return n, nil
}

func (s *memStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *memStore) marks() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.markCalls...)
}

// memFeed delivers synchronously on emit.
type memFeed struct {
	mu    sync.Mutex
	subs  map[string]func(Message)
	seq   int
	err   error
	opens int
}

type memHandle string

func (h memHandle) ID() string { return string(h) }

func newMemFeed() *memFeed {
	return &memFeed{subs: make(map[string]func(Message))}
}

func (f *memFeed) Subscribe(_ string, _ FeedFilter, fn func(Message)) (FeedHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	f.opens++
	h := memHandle(fmt.Sprintf("h%d", f.seq))
	f.subs[string(h)] = fn
	return h, nil
}

func (f *memFeed) Unsubscribe(h FeedHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, h.ID())
}

func (f *memFeed) emit(m Message) {
	f.mu.Lock()
	fns := make([]func(Message), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

func (f *memFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeProfiles map[string]string

func (p fakeProfiles) DisplayLabel(_ context.Context, id string) (string, error) {
	return p[id], nil
}
