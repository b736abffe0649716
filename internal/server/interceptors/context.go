package interceptors

import (
	"context"

	userdomain "schoolhub/backend/internal/user/domain"
)

type contextKey struct{ name string }

var (
	identityKey = contextKey{"identity"}
	clientIPKey = contextKey{"client_ip"}
)

// Identity is the authenticated subject of a request.
type Identity struct {
	UserID    string
	SessionID string
	DeviceID  string
	Role      userdomain.Role
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity set by the auth middleware and true, or a zero Identity and false.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

// GetUserID returns the authenticated user id, or "", false.
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	return id.UserID, ok
}

// GetSessionID returns the authenticated session id, or "", false.
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	return id.SessionID, ok && id.SessionID != ""
}

// WithClientIP returns a context carrying the client address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the client address stored by ClientAddr, or "unknown".
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
