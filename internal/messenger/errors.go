package messenger

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means there is no current user. Fatal for the operation.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrThreadNotFound means the pair has no thread yet; callers treat it as empty history.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrDuplicateThread is returned by Store.CreateThread when the pair already has a thread.
	ErrDuplicateThread = errors.New("duplicate thread")
	// ErrContextRequired is returned when a new pair is created without a listing or flatmate context.
	ErrContextRequired = errors.New("thread context required for a new conversation")
	// ErrInvalidContext is returned when both a listing and a flatmate id are given.
	ErrInvalidContext = errors.New("thread context must be a listing or a flatmate profile, not both")
	// ErrStoreUnavailable is a transient storage failure. Retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSubscriptionDropped means the realtime feed lost its transport.
	ErrSubscriptionDropped = errors.New("subscription dropped")
	// ErrWindowNotFound is returned for window operations on a peer with no open window.
	ErrWindowNotFound = errors.New("window not found")
	// ErrEmptyMessage is returned when sending blank text.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrSelfConversation is returned when a user tries to message themselves.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	// ErrNonceConflict means the sender already used the nonce for a different message.
	ErrNonceConflict = errors.New("nonce already used for another message")
)

// SendError is returned by a failed send. Draft holds the text so the UI can restore it.
type SendError struct {
	Peer  string
	Draft string
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Peer, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// domainErrors pass through store calls unclassified.
var domainErrors = []error{
	ErrUnauthenticated,
	ErrThreadNotFound,
	ErrDuplicateThread,
	ErrContextRequired,
	ErrInvalidContext,
	ErrStoreUnavailable,
	ErrNonceConflict,
	context.Canceled,
}

// unavailable wraps a store failure. Anything that is not a known domain
// error, including deadline expiry, is a transient ErrStoreUnavailable.
func unavailable(op string, err error) error {
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Retryable reports whether err is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrSubscriptionDropped)
}
