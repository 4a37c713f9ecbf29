package userauth

import "time"

// SetClock replaces the issuer's time source
func (ti *TokenIssuer) SetClock(now func() time.Time) { ti.now = now }

// SetClock replaces the session manager's time source
func (m *SessionManager) SetClock(now func() time.Time) { m.now = now }

// SetClock replaces the time source of the service's token issuer and
// session manager
func (s *Service) SetClock(now func() time.Time) {
	s.tokens.SetClock(now)
	s.sessions.SetClock(now)
}
