package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ua "github.com/panyam/userauth"
)

// Verifier resolves a session token. *userauth.Service satisfies it.
type Verifier interface {
	ValidateSession(ctx context.Context, token string) (*ua.Session, error)
}

// InterceptorConfig configures the auth interceptors.
type InterceptorConfig struct {
	Verifier Verifier

	// MetadataKey defaults to "authorization".
	MetadataKey string

	// RequireAuth rejects calls without a valid session. When false, calls
	// proceed and SessionFromContext returns nil.
	RequireAuth bool

	// PublicMethods skip the RequireAuth check. Keys are full method names
	// like "/package.Service/Method".
	PublicMethods map[string]bool
}

// NewInterceptorConfig requires auth for every method except publicMethods
func NewInterceptorConfig(v Verifier, publicMethods ...string) *InterceptorConfig {
	cfg := &InterceptorConfig{Verifier: v, RequireAuth: true, PublicMethods: map[string]bool{}}
	for _, m := range publicMethods {
		cfg.PublicMethods[m] = true
	}
	return cfg
}

// OptionalAuthConfig resolves sessions when present but never rejects
func OptionalAuthConfig(v Verifier) *InterceptorConfig {
	return &InterceptorConfig{Verifier: v, PublicMethods: map[string]bool{}}
}

func (c *InterceptorConfig) metadataKey() string {
	if c.MetadataKey != "" {
		return c.MetadataKey
	}
	return DefaultMetadataKey
}

// authenticate returns ctx with the session attached, or a status error
func (c *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	required := c.RequireAuth && !c.PublicMethods[method]
	token := tokenFromIncoming(ctx, c.metadataKey())
	if token == "" {
		if required {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}

	sess, err := c.Verifier.ValidateSession(ctx, token)
	if err != nil {
		if !required {
			return ctx, nil
		}
		if errors.Is(err, ua.ErrAccountInactive) {
			return nil, status.Error(codes.PermissionDenied, "account is inactive")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid session")
	}
	return ContextWithSession(ctx, sess), nil
}

// UnaryAuthInterceptor returns a unary interceptor that resolves the session
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

type sessionStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *sessionStream) Context() context.Context { return s.ctx }

// StreamAuthInterceptor returns a stream interceptor that resolves the session
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &sessionStream{ServerStream: ss, ctx: ctx})
	}
}
