package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/bus"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/feed"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// tokens maps "<user>-token" to the user.
type tokens map[string]messenger.User

func (t tokens) Authenticate(_ context.Context, token string) (messenger.User, error) {
	u, ok := t[token]
	if !ok {
		return messenger.User{}, messenger.ErrUnauthenticated
	}
	return u, nil
}

var testUsers = tokens{
	"alice-token":   {ID: "alice"},
	"bob-token":     {ID: "bob"},
	"charlie-token": {ID: "charlie"},
}

func testHandler(t *testing.T, maxWS int) *Handler {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "roomvia.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	db.SetBus(b)
	f := feed.New(b, nil)
	t.Cleanup(f.Close)
	if err := db.UpsertUser(context.Background(), &store.User{ID: "bob", DisplayLabel: "Bob B."}); err != nil {
		t.Fatal(err)
	}
	return New(Deps{
		Store:      db,
		Profiles:   db,
		Feed:       f,
		Auth:       testUsers,
		Timeout:    5 * time.Second,
		MaxWSPerIP: maxWS,
	})
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	r := testHandler(t, 0).Router()
	w := do(t, r, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRequiresAuth(t *testing.T) {
	r := testHandler(t, 0).Router()
	for _, token := range []string{"", "forged"} {
		w := do(t, r, http.MethodGet, "/threads", token, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, w.Code)
		}
		if body := decode[errorBody](t, w); body.Code != "unauthenticated" {
			t.Errorf("code = %q", body.Code)
		}
	}
}

func TestConversationFlow(t *testing.T) {
	r := testHandler(t, 0).Router()

	w := do(t, r, http.MethodPost, "/threads/resolve", "alice-token", resolveRequest{PeerID: "bob"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("resolve without context: status = %d, want 422", w.Code)
	}
	w = do(t, r, http.MethodPost, "/threads/resolve", "alice-token", resolveRequest{PeerID: "bob", ListingID: "listing42"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d, body %s", w.Code, w.Body)
	}
	th := decode[api.ThreadResponse](t, w).Thread
	if th == nil || th.Context.ListingID != "listing42" {
		t.Fatalf("thread = %+v", th)
	}

	w = do(t, r, http.MethodPost, "/threads/resolve", "bob-token", resolveRequest{PeerID: "alice"})
	if got := decode[api.ThreadResponse](t, w).Thread; w.Code != http.StatusOK || got.ID != th.ID || got.Context.ListingID != "listing42" {
		t.Fatalf("reverse resolve: status = %d thread = %+v", w.Code, got)
	}

	path := "/threads/" + th.ID + "/messages"
	if w := do(t, r, http.MethodPost, path, "alice-token", sendRequest{Text: "   "}); w.Code != http.StatusBadRequest {
		t.Errorf("blank send: status = %d, want 400", w.Code)
	}
	for _, text := range []string{"Hi", "Is the room free?"} {
		w := do(t, r, http.MethodPost, path, "alice-token", sendRequest{Text: text, Nonce: "n-" + text})
		if w.Code != http.StatusCreated {
			t.Fatalf("send %q: status = %d body %s", text, w.Code, w.Body)
		}
		if m := decode[api.MessageResponse](t, w).Message; m.RecipientID != "bob" || m.Nonce != "n-"+text {
			t.Errorf("sent = %+v", m)
		}
	}

	w = do(t, r, http.MethodGet, "/threads", "bob-token", nil)
	list := decode[struct {
		Threads []threadEntry `json:"threads"`
	}](t, w).Threads
	if len(list) != 1 || list[0].UnreadCount != 2 || list[0].PeerID != "alice" || list[0].LastMessage != "Is the room free?" {
		t.Fatalf("bob's threads = %+v", list)
	}
	w = do(t, r, http.MethodGet, "/threads", "alice-token", nil)
	list = decode[struct {
		Threads []threadEntry `json:"threads"`
	}](t, w).Threads
	if len(list) != 1 || list[0].DisplayName != "Bob B." || list[0].UnreadCount != 0 {
		t.Fatalf("alice's threads = %+v", list)
	}

	w = do(t, r, http.MethodGet, path+"?limit=1", "bob-token", nil)
	page := decode[historyResponse](t, w)
	if len(page.Messages) != 1 || page.Messages[0].Text != "Is the room free?" || page.NextCursor != "1" {
		t.Fatalf("first page = %+v", page)
	}
	w = do(t, r, http.MethodGet, path+"?limit=1&cursor="+page.NextCursor, "bob-token", nil)
	page = decode[historyResponse](t, w)
	if len(page.Messages) != 1 || page.Messages[0].Text != "Hi" {
		t.Fatalf("second page = %+v", page)
	}
	if w := do(t, r, http.MethodGet, path+"?cursor=-3", "bob-token", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad cursor: status = %d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/threads/"+th.ID+"/read", "bob-token", nil)
	if ids := decode[api.IDsResponse](t, w).IDs; len(ids) != 2 {
		t.Fatalf("marked = %v, want 2 ids", ids)
	}
	w = do(t, r, http.MethodPost, "/threads/"+th.ID+"/read", "bob-token", nil)
	if ids := decode[api.IDsResponse](t, w).IDs; w.Code != http.StatusOK || len(ids) != 0 {
		t.Fatalf("second mark = %d %v, want no ids", w.Code, ids)
	}

	for _, req := range []struct{ method, path string }{
		{http.MethodGet, path},
		{http.MethodPost, "/threads/" + th.ID + "/read"},
	} {
		if w := do(t, r, req.method, req.path, "charlie-token", nil); w.Code != http.StatusNotFound {
			t.Errorf("%s %s as outsider: status = %d, want 404", req.method, req.path, w.Code)
		}
	}
}

func TestSendReusedNonceConflicts(t *testing.T) {
	r := testHandler(t, 0).Router()
	resolve := func(peer string) string {
		w := do(t, r, http.MethodPost, "/threads/resolve", "alice-token", resolveRequest{PeerID: peer, ListingID: "listing42"})
		if w.Code != http.StatusOK {
			t.Fatalf("resolve %s: status = %d body %s", peer, w.Code, w.Body)
		}
		return decode[api.ThreadResponse](t, w).Thread.ID
	}
	toBob, toCharlie := resolve("bob"), resolve("charlie")

	if w := do(t, r, http.MethodPost, "/threads/"+toBob+"/messages", "alice-token", sendRequest{Text: "to bob", Nonce: "n"}); w.Code != http.StatusCreated {
		t.Fatalf("first send: status = %d body %s", w.Code, w.Body)
	}
	if w := do(t, r, http.MethodPost, "/threads/"+toBob+"/messages", "alice-token", sendRequest{Text: "to bob", Nonce: "n"}); w.Code != http.StatusCreated {
		t.Errorf("retried send: status = %d, want 201", w.Code)
	}
	w := do(t, r, http.MethodPost, "/threads/"+toCharlie+"/messages", "alice-token", sendRequest{Text: "to charlie", Nonce: "n"})
	if w.Code != http.StatusConflict {
		t.Fatalf("reused nonce: status = %d body %s, want 409", w.Code, w.Body)
	}

	w = do(t, r, http.MethodGet, "/threads/"+toCharlie+"/messages", "charlie-token", nil)
	if page := decode[historyResponse](t, w); w.Code != http.StatusOK || len(page.Messages) != 0 {
		t.Errorf("charlie history = %d %+v, want empty", w.Code, page.Messages)
	}
	w = do(t, r, http.MethodGet, "/threads", "charlie-token", nil)
	list := decode[struct {
		Threads []threadEntry `json:"threads"`
	}](t, w).Threads
	if len(list) != 1 || list[0].LastMessage != "" {
		t.Errorf("charlie threads = %+v, want one thread without a preview", list)
	}
}

func dialSocket(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return websocket.DefaultDialer.Dial(url, header)
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestSocketPushesOwnThreadsOnly(t *testing.T) {
	h := testHandler(t, 0)
	srv := httptest.NewServer(h.Router())
	defer srv.Close()
	r := h.Router()

	ws, _, err := dialSocket(t, srv, "bob-token")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ws.Close() }()
	if f := readFrame(t, ws); f.Type != FrameConnected {
		t.Fatalf("first frame = %+v", f)
	}

	// A thread bob is not part of must not reach him.
	w := do(t, r, http.MethodPost, "/threads/resolve", "alice-token", resolveRequest{PeerID: "charlie", FlatmateID: "fm1"})
	other := decode[api.ThreadResponse](t, w).Thread
	do(t, r, http.MethodPost, "/threads/"+other.ID+"/messages", "alice-token", sendRequest{Text: "private"})

	w = do(t, r, http.MethodPost, "/threads/resolve", "alice-token", resolveRequest{PeerID: "bob", ListingID: "l1"})
	th := decode[api.ThreadResponse](t, w).Thread
	do(t, r, http.MethodPost, "/threads/"+th.ID+"/messages", "alice-token", sendRequest{Text: "Hi"})

	f := readFrame(t, ws)
	if f.Type != FrameMessageCreated || f.ThreadID != th.ID || f.Message == nil || f.Message.Text != "Hi" {
		t.Fatalf("frame = %+v", f)
	}
}

func TestSocketRejectsUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, 0).Router())
	defer srv.Close()
	_, resp, err := dialSocket(t, srv, "forged")
	if err == nil {
		t.Fatal("dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v", resp)
	}
}

func TestSocketPerIPLimit(t *testing.T) {
	srv := httptest.NewServer(testHandler(t, 1).Router())
	defer srv.Close()

	ws, _, err := dialSocket(t, srv, "bob-token")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ws.Close() }()
	readFrame(t, ws)

	_, resp, err := dialSocket(t, srv, "alice-token")
	if err == nil {
		t.Fatal("second connection from the same IP should be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("response = %v", resp)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{messenger.ErrUnauthenticated, http.StatusUnauthorized},
		{messenger.ErrThreadNotFound, http.StatusNotFound},
		{messenger.ErrContextRequired, http.StatusUnprocessableEntity},
		{messenger.ErrNonceConflict, http.StatusConflict},
		{messenger.ErrInvalidContext, http.StatusBadRequest},
		{messenger.ErrSelfConversation, http.StatusBadRequest},
		{messenger.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(errors.Join(errors.New("op"), tt.err)); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestConnLimiter(t *testing.T) {
	l := newConnLimiter(2)
	if !l.acquire("1.2.3.4") || !l.acquire("1.2.3.4") {
		t.Fatal("first two connections should pass")
	}
	if l.acquire("1.2.3.4") {
		t.Error("third connection should be refused")
	}
	if !l.acquire("5.6.7.8") {
		t.Error("other IPs are counted separately")
	}
	l.release("1.2.3.4")
	if !l.acquire("1.2.3.4") {
		t.Error("released slot should be reusable")
	}
	if unlimited := newConnLimiter(0); !unlimited.acquire("x") {
		t.Error("zero max means unlimited")
	}
}
