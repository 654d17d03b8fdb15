// Package httpapi serves the messaging core over HTTP and a WebSocket push
// channel for server-side clients.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/identity"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// Authenticator verifies bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (messenger.User, error)
}

// Deps are the collaborators of Handler.
type Deps struct {
	Store      messenger.Store
	Profiles   messenger.Profiles
	Feed       messenger.Feed
	Auth       Authenticator
	Timeout    time.Duration
	MaxWSPerIP int
	// AllowOrigin is matched against the Origin header of WebSocket
	// upgrades. Empty allows any origin.
	AllowOrigin string
	Logger      *zap.Logger
}

// Handler holds the HTTP routes.
type Handler struct {
	store    messenger.Store
	profiles messenger.Profiles
	feed     messenger.Feed
	auth     Authenticator
	timeout  time.Duration
	resolver *messenger.ThreadResolver
	port     *messenger.MessagePort
	limiter  *connLimiter
	origin   string
	logger   *zap.Logger
}

// New creates a handler. The resolver and port are shared across requests;
// the current user travels in the request context.
func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = messenger.DefaultRequestTimeout
	}
	resolver := messenger.NewThreadResolver(d.Store, timeout, logger)
	return &Handler{
		store:    d.Store,
		profiles: d.Profiles,
		feed:     d.Feed,
		auth:     d.Auth,
		timeout:  timeout,
		resolver: resolver,
		port:     messenger.NewMessagePort(identity.Request{}, resolver, d.Store, timeout, logger),
		limiter:  newConnLimiter(d.MaxWSPerIP),
		origin:   d.AllowOrigin,
		logger:   logger,
	}
}

// Router builds the gin engine.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", h.health)
	r.GET("/ws", h.authenticate(true), h.socket)

	threads := r.Group("/threads", h.authenticate(false))
	threads.GET("", h.listThreads)
	threads.POST("/resolve", h.resolve)
	threads.GET("/:id/messages", h.history)
	threads.POST("/:id/messages", h.send)
	threads.POST("/:id/read", h.markRead)
	return r
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type resolveRequest struct {
	PeerID     string `json:"peer_id" binding:"required"`
	ListingID  string `json:"listing_id"`
	FlatmateID string `json:"flatmate_id"`
}

func (h *Handler) resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx := c.Request.Context()
	user, _ := identity.FromContext(ctx)
	id, err := h.resolver.ResolveOrCreate(ctx, user.ID, req.PeerID, messenger.ThreadContext{
		ListingID:  req.ListingID,
		FlatmateID: req.FlatmateID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	getCtx, cancel := context.WithTimeout(ctx, h.timeout)
	t, err := h.store.GetThread(getCtx, id)
	cancel()
	if err != nil {
		h.fail(c, messenger.ErrStoreUnavailable)
		return
	}
	c.JSON(http.StatusOK, api.ThreadResponse{Thread: api.ThreadToWire(t)})
}

type sendRequest struct {
	Text  string `json:"text"`
	Nonce string `json:"nonce"`
}

func (h *Handler) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	m, err := h.port.SendToThread(c.Request.Context(), c.Param("id"), req.Text, req.Nonce)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.MessageResponse{Message: api.MessageToWire(*m)})
}

type historyResponse struct {
	Messages   []api.Message `json:"messages"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// maxPageSize caps the limit query parameter.
const maxPageSize = 200

// history pages backwards through a thread. The cursor is the opaque offset
// returned as next_cursor by the previous page.
func (h *Handler) history(c *gin.Context) {
	limit := messenger.DefaultPageSize
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPageSize)
	}
	offset := 0
	if v := c.Query("cursor"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "invalid cursor")
			return
		}
		offset = n
	}

	msgs, err := h.port.ThreadHistory(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := historyResponse{Messages: make([]api.Message, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, api.MessageToWire(m))
	}
	if len(msgs) == limit {
		resp.NextCursor = strconv.Itoa(offset + limit)
	}
	c.JSON(http.StatusOK, resp)
}

type threadEntry struct {
	ThreadID      string            `json:"thread_id"`
	PeerID        string            `json:"peer_id"`
	DisplayName   string            `json:"display_name"`
	Context       api.ThreadContext `json:"context"`
	LastMessage   string            `json:"last_message,omitempty"`
	LastMessageAt *time.Time        `json:"last_message_at,omitempty"`
	UnreadCount   int               `json:"unread_count"`
}

func (h *Handler) listThreads(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := identity.FromContext(ctx)
	unread := messenger.NewUnreadTracker(h.store, user.ID, h.timeout, h.logger)
	agg := messenger.NewThreadListAggregator(identity.Request{}, h.store, h.profiles, unread, h.timeout, h.logger)
	entries, err := agg.List(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]threadEntry, 0, len(entries))
	for _, e := range entries {
		te := threadEntry{
			ThreadID:    e.ThreadID,
			PeerID:      e.PeerID,
			DisplayName: e.DisplayName,
			Context:     api.ThreadContext{ListingID: e.Context.ListingID, FlatmateID: e.Context.FlatmateID},
			LastMessage: e.LastMessage,
			UnreadCount: e.UnreadCount,
		}
		if !e.LastMessageAt.IsZero() {
			at := e.LastMessageAt
			te.LastMessageAt = &at
		}
		out = append(out, te)
	}
	c.JSON(http.StatusOK, gin.H{"threads": out})
}

func (h *Handler) markRead(c *gin.Context) {
	ctx := c.Request.Context()
	user, _ := identity.FromContext(ctx)
	threadID := c.Param("id")

	getCtx, cancel := context.WithTimeout(ctx, h.timeout)
	t, err := h.store.GetThread(getCtx, threadID)
	cancel()
	if err != nil {
		h.fail(c, messenger.ErrStoreUnavailable)
		return
	}
	if t == nil || !t.Has(user.ID) {
		h.fail(c, messenger.ErrThreadNotFound)
		return
	}

	unread := messenger.NewUnreadTracker(h.store, user.ID, h.timeout, h.logger)
	ids, err := unread.MarkRead(ctx, threadID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, api.IDsResponse{IDs: ids})
}
