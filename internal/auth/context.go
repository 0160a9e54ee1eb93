// ABOUTME: Caller identity carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"
)

// Identity is the caller a request acts for.
type Identity struct {
	UserID string

	// Verified is true when UserID came from a validated token rather than
	// an unauthenticated header.
	Verified bool
}

type identityKey struct{}

// WithIdentity returns a new context with id attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the request's identity, or nil for anonymous callers.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// UserID returns the caller's user id, or "" for anonymous callers.
func UserID(ctx context.Context) string {
	if id := FromContext(ctx); id != nil {
		return id.UserID
	}
	return ""
}
