// Package client implements the messaging core's collaborator ports against
// a daemon's row service.
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/api"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn  *grpc.ClientConn
	Rows  *api.RowsClient
	token string
}

// New dials the daemon's Unix domain socket. token authenticates
// CurrentUser calls and may be empty.
func New(socketPath, token string) (*Client, error) {
	conn, err := api.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, Rows: api.NewRowsClient(conn), token: token}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Identity is a messenger.Identity resolved by the daemon from the token.
type Identity struct {
	c *Client
}

var _ messenger.Identity = Identity{}

// Identity returns the remote identity of the client's token.
func (c *Client) Identity() Identity { return Identity{c: c} }

func (i Identity) CurrentUser(ctx context.Context) (messenger.User, error) {
	if i.c.token == "" {
		return messenger.User{}, messenger.ErrUnauthenticated
	}
	ctx = metadata.AppendToOutgoingContext(ctx, api.TokenMetadataKey, "Bearer "+i.c.token)
	u, err := i.c.Rows.CurrentUser(ctx)
	if err != nil {
		return messenger.User{}, api.FromStatus(err)
	}
	return messenger.User{ID: u.ID, DisplayID: u.DisplayID}, nil
}
