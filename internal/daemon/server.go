package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/instance"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/lock"
)

// Server serves the row service on the instance's unix socket.
type Server struct {
	rpc    *grpc.Server
	lis    net.Listener
	socket string
	logger *zap.Logger
}

// NewServer listens on the instance socket. The lock parameter orders
// construction after the instance lock is held, which makes replacing a
// stale socket file safe.
func NewServer(p Params, _ *lock.Lock, logger *zap.Logger, rows *api.RowsService) (*Server, error) {
	socket := p.SocketPath
	if socket == "" {
		socket = instance.SocketPath(p.Instance)
	}
	lis, err := listenSocket(socket)
	if err != nil {
		return nil, err
	}

	rpc := grpc.NewServer(
		grpc.ChainUnaryInterceptor(logUnary(logger)),
		grpc.ChainStreamInterceptor(logStream(logger)),
	)
	rows.Register(rpc)

	return &Server{rpc: rpc, lis: lis, socket: socket, logger: logger}, nil
}

func listenSocket(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = lis.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return lis, nil
}

// SocketPath returns the socket the server listens on.
func (s *Server) SocketPath() string { return s.socket }

// Start serves until Stop. Blocks.
func (s *Server) Start() error {
	s.logger.Info("row service listening", zap.String("socket", s.socket))
	if err := s.rpc.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop drains in-flight calls and removes the socket. Watch streams never
// finish on their own, so the drain is cut short when ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("row service stopping")
	done := make(chan struct{})
	go func() {
		s.rpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.rpc.Stop()
		<-done
	}
	_ = os.Remove(s.socket)
}

func logUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(logger, info.FullMethod, start, err)
		return resp, err
	}
}

func logStream(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		logger.Debug("stream opened", zap.String("method", info.FullMethod))
		err := handler(srv, ss)
		logCall(logger, info.FullMethod, start, err)
		return err
	}
}

func logCall(logger *zap.Logger, method string, start time.Time, err error) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err == nil {
		logger.Debug("rpc", fields...)
		return
	}
	fields = append(fields, zap.String("code", status.Code(err).String()), zap.Error(err))
	logger.Warn("rpc failed", fields...)
}
