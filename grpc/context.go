// Package grpc carries userauth sessions across gRPC calls: clients attach
// the session token as bearer metadata and server interceptors resolve it
// into a session on the handler context.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	ua "github.com/panyam/userauth"
)

// DefaultMetadataKey is the metadata key holding "Bearer <token>"
const DefaultMetadataKey = "authorization"

type sessionKey struct{}

// ContextWithSession stores sess for the handler
func ContextWithSession(ctx context.Context, sess *ua.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFromContext returns the session resolved by the interceptor, or nil
func SessionFromContext(ctx context.Context) *ua.Session {
	sess, _ := ctx.Value(sessionKey{}).(*ua.Session)
	return sess
}

// UserIDFromContext returns the authenticated user id, or ""
func UserIDFromContext(ctx context.Context) string {
	if sess := SessionFromContext(ctx); sess != nil {
		return sess.UserID
	}
	return ""
}

// IsAuthenticated reports whether the context carries a session
func IsAuthenticated(ctx context.Context) bool {
	return SessionFromContext(ctx) != nil
}

// TokenToOutgoingContext attaches a session token to outgoing client metadata
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKey, "Bearer "+token)
}

// tokenFromIncoming returns the bearer token in key, or ""
func tokenFromIncoming(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(key) {
		parts := strings.SplitN(v, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if t := strings.TrimSpace(parts[1]); t != "" {
				return t
			}
		}
	}
	return ""
}
