// Package identity provides the current-user sources of the messaging core.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/messenger"
	"github.com/NarayanBavisetti/roomvia-sub000/internal/store"
)

// Static is a fixed identity, configured on the client.
type Static struct {
	User messenger.User
}

var _ messenger.Identity = Static{}

// CurrentUser returns the configured user, or ErrUnauthenticated when unset.
func (s Static) CurrentUser(context.Context) (messenger.User, error) {
	if s.User.ID == "" {
		return messenger.User{}, messenger.ErrUnauthenticated
	}
	return s.User, nil
}

type ctxKey struct{}

// WithUser returns a context carrying an authenticated user.
func WithUser(ctx context.Context, u messenger.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the user stored by WithUser.
func FromContext(ctx context.Context) (messenger.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(messenger.User)
	return u, ok && u.ID != ""
}

// Request is the identity of the user attached to each request context.
type Request struct{}

var _ messenger.Identity = Request{}

func (Request) CurrentUser(ctx context.Context) (messenger.User, error) {
	u, ok := FromContext(ctx)
	if !ok {
		return messenger.User{}, messenger.ErrUnauthenticated
	}
	return u, nil
}

// Users is the user storage the authenticator needs.
type Users interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	UpsertUser(ctx context.Context, u *store.User) error
}

// TokenAuthenticator verifies bearer tokens of the form <userID>.<secret>.
// Only a bcrypt hash of the secret is stored.
type TokenAuthenticator struct {
	users Users
	cost  int
}

// NewTokenAuthenticator creates an authenticator over users.
func NewTokenAuthenticator(users Users) *TokenAuthenticator {
	return &TokenAuthenticator{users: users, cost: bcrypt.DefaultCost}
}

// Issue registers or updates a user and returns a fresh token for it. Any
// previously issued token stops working.
func (a *TokenAuthenticator) Issue(ctx context.Context, userID, displayID, label string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, ". \t\n") {
		return "", fmt.Errorf("issue token: invalid user id %q", userID)
	}
	secret := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), a.cost)
	if err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	if err := a.users.UpsertUser(ctx, &store.User{
		ID:           userID,
		DisplayID:    displayID,
		DisplayLabel: label,
		TokenHash:    string(hash),
	}); err != nil {
		return "", fmt.Errorf("issue token: %w", err)
	}
	return userID + "." + secret, nil
}

// Authenticate returns the user a token belongs to. Every rejection is
// ErrUnauthenticated; storage failures are wrapped as they are.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, token string) (messenger.User, error) {
	userID, secret, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || userID == "" || secret == "" {
		return messenger.User{}, messenger.ErrUnauthenticated
	}
	u, err := a.users.GetUser(ctx, userID)
	if err != nil {
		return messenger.User{}, fmt.Errorf("authenticate: %w", err)
	}
	if u == nil || u.TokenHash == "" {
		return messenger.User{}, messenger.ErrUnauthenticated
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.TokenHash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return messenger.User{}, messenger.ErrUnauthenticated
		}
		return messenger.User{}, fmt.Errorf("authenticate: %w", messenger.ErrUnauthenticated)
	}
	return messenger.User{ID: u.ID, DisplayID: u.DisplayID}, nil
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
