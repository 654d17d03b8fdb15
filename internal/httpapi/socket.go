package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/identity"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

const (
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	readTimeout  = 60 * time.Second
	socketBuffer = 128
)

// Frame types sent on /ws.
const (
	FrameConnected      = "connected"
	FrameMessageCreated = "message.created"
)

// Frame is one server-to-client WebSocket message.
type Frame struct {
	Type     string       `json:"type"`
	ThreadID string       `json:"thread_id,omitempty"`
	Message  *api.Message `json:"message,omitempty"`
}

// socket upgrades to a WebSocket and streams message.created frames for every
// thread of the user over a single feed subscription.
func (h *Handler) socket(c *gin.Context) {
	user, _ := identity.FromContext(c.Request.Context())
	ip := c.ClientIP()
	if !h.limiter.acquire(ip) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "too many connections", Code: "rate_limited"})
		return
	}
	defer h.limiter.release(ip)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return h.origin == "" || r.Header.Get("Origin") == h.origin
		},
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	conn := newConnection(ws)
	conn.start()
	defer conn.close(websocket.CloseNormalClosure, "bye")

	handle, err := h.feed.Subscribe(messenger.MessagesTable, messenger.FeedFilter{ParticipantID: user.ID}, func(m messenger.Message) {
		wire := api.MessageToWire(m)
		payload, err := json.Marshal(Frame{Type: FrameMessageCreated, ThreadID: m.ThreadID, Message: &wire})
		if err != nil {
			return
		}
		if err := conn.send(payload); err != nil {
			h.logger.Debug("websocket push dropped", zap.String("user_id", user.ID), zap.Error(err))
		}
	})
	if err != nil {
		h.logger.Warn("websocket feed subscribe failed", zap.String("user_id", user.ID), zap.Error(err))
		conn.close(websocket.CloseTryAgainLater, "feed unavailable")
		return
	}
	defer h.feed.Unsubscribe(handle)

	h.logger.Info("websocket connected", zap.String("user_id", user.ID), zap.String("ip", ip))
	if payload, err := json.Marshal(Frame{Type: FrameConnected}); err == nil {
		_ = conn.send(payload)
	}

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	// Client frames are ignored; reading keeps pongs and close frames flowing.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug("websocket read ended", zap.String("user_id", user.ID), zap.Error(err))
			}
			h.logger.Info("websocket disconnected", zap.String("user_id", user.ID))
			return
		}
	}
}

// connection serializes writes to one WebSocket through a buffered channel.
// A client too slow to drain the buffer is disconnected.
type connection struct {
	ws     *websocket.Conn
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

func newConnection(ws *websocket.Conn) *connection {
	return &connection{
		ws:   ws,
		out:  make(chan []byte, socketBuffer),
		done: make(chan struct{}),
	}
}

func (c *connection) start() {
	go c.writeLoop()
}

var errConnClosed = errors.New("connection closed")

func (c *connection) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.out <- payload:
		return nil
	default:
		go c.close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("connection buffer exceeded")
	}
}

func (c *connection) close(code int, reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// connLimiter caps concurrent WebSocket connections per client IP.
type connLimiter struct {
	mu    sync.Mutex
	conns map[string]int
	max   int
}

func newConnLimiter(max int) *connLimiter {
	return &connLimiter{conns: make(map[string]int), max: max}
}

func (l *connLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max > 0 && l.conns[ip] >= l.max {
		return false
	}
	l.conns[ip]++
	return true
}

func (l *connLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conns[ip]--
	if l.conns[ip] <= 0 {
		delete(l.conns, ip)
	}
}
