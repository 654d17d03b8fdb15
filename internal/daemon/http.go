package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/feed"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/httpapi"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/identity"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// HTTPServer serves the HTTP/WebSocket API when http.addr is set.
type HTTPServer struct {
	addr     string
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewHTTPServer builds the HTTP server. It is inert when no address is configured.
func NewHTTPServer(p Params, st messenger.Store, prof messenger.Profiles, f *feed.Bus, auth *identity.TokenAuthenticator, logger *zap.Logger) *HTTPServer {
	s := &HTTPServer{addr: p.Config.HTTP.Addr, logger: logger}
	if s.addr == "" {
		return s
	}
	gin.SetMode(gin.ReleaseMode)
	h := httpapi.New(httpapi.Deps{
		Store:       st,
		Profiles:    prof,
		Feed:        f,
		Auth:        auth,
		Timeout:     p.Config.Timeouts.Request.Duration,
		MaxWSPerIP:  p.Config.HTTP.MaxWSPerIP,
		AllowOrigin: p.Config.HTTP.AllowOrigin,
		Logger:      logger,
	})
	s.srv = &http.Server{
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start listens synchronously and serves in the background.
func (s *HTTPServer) Start() error {
	if s.srv == nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.logger.Info("HTTP server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" when the server is disabled or not started.
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting for in-flight requests.
func (s *HTTPServer) Stop(ctx context.Context) {
	if s.srv == nil || s.listener == nil {
		return
	}
	s.logger.Info("HTTP server stopping")
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown", zap.Error(err))
	}
}
