package store

import (
	"time"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
)

// User is a registered user row.
type User struct {
	ID           string
	DisplayID    string
	DisplayLabel string
	TokenHash    string
	CreatedAt    time.Time
}

// SearchResult holds a message that matched a search and the peer of its thread.
type SearchResult struct {
	Message messenger.Message
	PeerID  string
}
