package httpauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ua "github.com/panyam/userauth"
)

type contextKey string

const sessionKey contextKey = "userauth_session"

// SessionFromContext returns the session stored by Middleware, or nil
func SessionFromContext(ctx context.Context) *ua.Session {
	sess, _ := ctx.Value(sessionKey).(*ua.Session)
	return sess
}

// UserIDFromContext returns the logged in user id, or ""
func UserIDFromContext(ctx context.Context) string {
	if sess := SessionFromContext(ctx); sess != nil {
		return sess.UserID
	}
	return ""
}

// ContextWithSession stores sess for downstream handlers
func ContextWithSession(ctx context.Context, sess *ua.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// Middleware resolves session tokens from the Authorization header
// ("Bearer <token>") or a cookie.
type Middleware struct {
	Service *ua.Service

	AuthTokenHeaderName string
	AuthTokenCookieName string

	// LoginURL receives unauthenticated browsers in EnsureUser. Without it
	// EnsureUser answers 401.
	LoginURL         string
	CallbackURLParam string
}

func (m *Middleware) headerName() string {
	if m.AuthTokenHeaderName != "" {
		return m.AuthTokenHeaderName
	}
	return "Authorization"
}

func (m *Middleware) cookieName() string {
	if m.AuthTokenCookieName != "" {
		return m.AuthTokenCookieName
	}
	return DefaultSessionCookie
}

func (m *Middleware) callbackParam() string {
	if m.CallbackURLParam != "" {
		return m.CallbackURLParam
	}
	return "callbackURL"
}

func (m *Middleware) candidates(r *http.Request) []string {
	var tokens []string
	for _, h := range r.Header.Values(m.headerName()) {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if t := strings.TrimSpace(parts[1]); t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	for _, c := range r.CookiesNamed(m.cookieName()) {
		if c.Value != "" {
			tokens = append(tokens, c.Value)
		}
	}
	return tokens
}

// session returns the first valid session among the request's tokens
func (m *Middleware) session(r *http.Request) *ua.Session {
	for _, token := range m.candidates(r) {
		sess, err := m.Service.ValidateSession(r.Context(), token)
		if err == nil {
			return sess
		}
	}
	return nil
}

// ExtractUser stores the session in the request context when one is
// present. It never rejects the request.
func (m *Middleware) ExtractUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sess := m.session(r); sess != nil {
			r = r.WithContext(ContextWithSession(r.Context(), sess))
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser requires a valid session, redirecting to LoginURL or
// answering 401 otherwise
func (m *Middleware) EnsureUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := m.session(r)
		if sess == nil {
			if m.LoginURL != "" {
				redir := fmt.Sprintf("%s?%s=%s", m.LoginURL, m.callbackParam(),
					strings.ReplaceAll(url.QueryEscape(r.URL.Path), "+", "%20"))
				http.Redirect(w, r, redir, http.StatusFound)
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="userauth"`)
			writeJSON(w, http.StatusUnauthorized, &AuthError{Code: ua.CodeInvalidCredentials, Message: "login required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), sess)))
	})
}
