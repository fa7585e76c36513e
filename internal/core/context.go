package core

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	requestIDKey   contextKey = "request-id"
	userSubjectKey contextKey = "user-subject"
)

// WithRequestID returns a new context with the request ID attached.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithUserSubject returns a new context carrying the authenticated
// caller's subject claim. Set by the auth middleware after a token
// validates; read when audit entries are written.
func WithUserSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, userSubjectKey, subject)
}

// GetUserSubject retrieves the authenticated subject from the context.
// Returns empty string for unauthenticated requests.
func GetUserSubject(ctx context.Context) string {
	if sub, ok := ctx.Value(userSubjectKey).(string); ok {
		return sub
	}
	return ""
}
