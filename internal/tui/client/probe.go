package client

import (
	"context"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
)

// Probe reports whether a daemon answers on socketPath. Any reply counts,
// including an authentication error for the anonymous call.
func Probe(ctx context.Context, socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	conn, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = conn.Close() }()

	_, err = api.NewRowsClient(conn).CurrentUser(ctx)
	switch grpcstatus.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return false
	default:
		return true
	}
}

// WaitReady polls Probe every interval until the daemon answers or ctx ends.
func WaitReady(ctx context.Context, socketPath string, every time.Duration) error {
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		pctx, cancel := context.WithTimeout(ctx, every)
		ok := Probe(pctx, socketPath)
		cancel()
		if ok {
			return nil
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return fmt.Errorf("daemon at %s not ready: %w", socketPath, ctx.Err())
		}
	}
}
