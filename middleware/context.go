package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/upb/wikigate/engine"
)

// Context key type to avoid collisions
type contextKey string

const (
	// IdentityKey is the context key for the resolved identity
	IdentityKey contextKey = "identity"
)

// WithIdentity adds the resolved identity to the context so the protected
// application can attribute writes to it
func WithIdentity(ctx context.Context, id *engine.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentityFromContext retrieves the resolved identity from context.
// Returns nil for anonymous requests.
func GetIdentityFromContext(ctx context.Context) *engine.Identity {
	if val := ctx.Value(IdentityKey); val != nil {
		if id, ok := val.(*engine.Identity); ok {
			return id
		}
	}
	return nil
}

// GetRequestIDFromContext retrieves the chi request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	return chimiddleware.GetReqID(ctx)
}
