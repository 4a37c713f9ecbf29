package userauth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/samber/oops"
)

// SessionState tracks where a session is in the login lifecycle
type SessionState int

const (
	StateAnonymous SessionState = iota
	StateAuthenticating
	StateAuthenticated
	StateLoggedOut
)

func (s SessionState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateLoggedOut:
		return "logged_out"
	}
	return "unknown"
}

// allowed transitions; a failed login returns Authenticating to Anonymous
var sessionTransitions = map[SessionState][]SessionState{
	StateAnonymous:      {StateAuthenticating},
	StateAuthenticating: {StateAuthenticated, StateAnonymous},
	StateAuthenticated:  {StateLoggedOut},
}

// Session is the result of a successful login
type Session struct {
	ID        string
	UserID    string
	Provider  string
	State     SessionState
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NewSession returns an anonymous session
func NewSession() *Session {
	return &Session{State: StateAnonymous}
}

// Transition moves the session to next if the lifecycle allows it
func (s *Session) Transition(next SessionState) error {
	for _, allowed := range sessionTransitions[s.State] {
		if allowed == next {
			s.State = next
			return nil
		}
	}
	return validationError("session.state", "cannot move session from %s to %s", s.State, next)
}

// SessionClaims are the JWT claims carried by a session token
type SessionClaims struct {
	Provider string `json:"prv,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies HS256 session tokens and keeps a
// revocation list for logged out sessions until they would have expired.
type SessionManager struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	revoked *cache.Cache
	now     func() time.Time
}

// NewSessionManager creates a manager. An empty secret is rejected.
func NewSessionManager(settings SessionSettings) (*SessionManager, error) {
	if settings.Secret == "" {
		return nil, validationError("session.secret", "session secret is required")
	}
	ttl := settings.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionManager{
		secret:  []byte(settings.Secret),
		issuer:  settings.Issuer,
		ttl:     ttl,
		revoked: cache.New(ttl, 10*time.Minute),
		now:     time.Now,
	}, nil
}

// Issue signs a token for userID and marks sess authenticated
func (m *SessionManager) Issue(sess *Session, userID, provider string) error {
	if err := sess.Transition(StateAuthenticated); err != nil {
		return err
	}
	now := m.now()
	sess.ID = uuid.NewString()
	sess.UserID = userID
	sess.Provider = provider
	sess.IssuedAt = now
	sess.ExpiresAt = now.Add(m.ttl)

	claims := SessionClaims{
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return oops.Code("SESSION_SIGN_FAILED").With("user_id", userID).Wrap(err)
	}
	sess.Token = signed
	return nil
}

// Verify parses a session token and rejects revoked or expired ones
func (m *SessionManager) Verify(ctx context.Context, token string) (*Session, error) {
	claims := &SessionClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeTokenExpired).Wrap(ErrTokenExpired)
		}
		return nil, oops.Code(CodeInvalidCredentials).With("reason", err.Error()).Wrap(ErrInvalidCredentials)
	}
	if _, revoked := m.revoked.Get(claims.ID); revoked {
		return nil, oops.Code(CodeInvalidCredentials).With("reason", "revoked").Wrap(ErrInvalidCredentials)
	}
	sess := &Session{
		ID:       claims.ID,
		UserID:   claims.Subject,
		Provider: claims.Provider,
		State:    StateAuthenticated,
		Token:    token,
	}
	if claims.IssuedAt != nil {
		sess.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess, nil
}

// Revoke blocks the session token until its natural expiry
func (m *SessionManager) Revoke(sess *Session) {
	if sess.ID == "" {
		return
	}
	ttl := sess.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return
	}
	m.revoked.Set(sess.ID, struct{}{}, ttl)
}
