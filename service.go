package userauth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
)

// ProviderLocal is the provider recorded on sessions created by password login
const ProviderLocal = "local"

// Deps are the collaborators of a Service. Stores and a session secret in
// Settings are required; everything else has a default.
type Deps struct {
	Stores Stores
	Hasher PasswordHasher
	Events Emitter
	Mailer Mailer
	Logger *slog.Logger
	// Clock drives token and session expiry. Defaults to time.Now.
	Clock func() time.Time
}

// Service orchestrates registration, login, logout, social login and
// password management on top of the stores.
type Service struct {
	users      UserStore
	identities SocialIdentityStore
	tokens     *TokenIssuer
	linker     *Linker
	hashes     *HashPool
	sessions   *SessionManager
	events     Emitter
	mailer     Mailer
	settings   Settings
	logger     *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewService wires a Service from deps and validated settings
func NewService(deps Deps, settings Settings) (*Service, error) {
	if deps.Stores.Users == nil || deps.Stores.Identities == nil || deps.Stores.Tokens == nil {
		return nil, oops.Code(CodeValidation).Wrapf(ErrValidation, "user, social identity and token stores are required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := deps.Events
	if events == nil {
		events = NopEmitter{}
	}
	hasher := deps.Hasher
	if hasher == nil {
		h, err := NewHasher(settings.Hasher)
		if err != nil {
			return nil, err
		}
		hasher = h
	}
	sessions, err := NewSessionManager(settings.Session)
	if err != nil {
		return nil, err
	}
	tokens := NewTokenIssuer(deps.Stores.Tokens, events, logger)
	if deps.Clock != nil {
		tokens.now = deps.Clock
		sessions.now = deps.Clock
	}
	return &Service{
		users:      deps.Stores.Users,
		identities: deps.Stores.Identities,
		tokens:     tokens,
		linker:     NewLinker(deps.Stores.Identities),
		hashes:     NewHashPool(hasher, settings.Hasher.MaxConcurrent),
		sessions:   sessions,
		events:     events,
		mailer:     deps.Mailer,
		settings:   settings,
		logger:     logger,
	}, nil
}

// Settings returns the settings the service was built with
func (s *Service) Settings() Settings { return s.settings }

// Tokens exposes the token issuer
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

// Linker exposes the social identity linker
func (s *Service) Linker() *Linker { return s.linker }

// GetUser loads a user by id
func (s *Service) GetUser(ctx context.Context, userID string) (*User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// FindUser resolves an identifier as an email when it contains "@", otherwise as a username
func (s *Service) FindUser(ctx context.Context, identifier string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if IsEmailIdentifier(identifier) {
		return s.users.GetUserByEmail(ctx, identifier)
	}
	return s.users.GetUserByUsername(ctx, identifier)
}

// Register creates a local account. after_register is only emitted when the
// user was stored.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := req.Validate(s.settings.PasswordMinLength); err != nil {
		return nil, err
	}

	now := time.Now()
	user := &User{
		ID:                  NewID(),
		Username:            req.Username,
		Email:               req.Email,
		FirstName:           req.FirstName,
		LastName:            req.LastName,
		Role:                RoleUser,
		IsActive:            !s.settings.RequireEmailConfirmation,
		PendingConfirmation: s.settings.RequireEmailConfirmation,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.events.Emit(ctx, EventBeforeRegister, user, map[string]any{"username": user.Username})

	hash, err := s.hashes.Hash(ctx, req.Password)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID, "username", user.Username)
	s.events.Emit(ctx, EventAfterRegister, user, map[string]any{"username": user.Username})

	if user.Email != "" && s.mailer != nil {
		if _, err := s.sendConfirmation(ctx, user); err != nil {
			s.logger.WarnContext(ctx, "failed to send verification email", "user_id", user.ID, "error", err)
		}
	}
	return user, nil
}

func (s *Service) sendConfirmation(ctx context.Context, user *User) (*Token, error) {
	token, err := s.tokens.Issue(ctx, user.ID, PurposeConfirmEmail, s.settings.Tokens.ConfirmEmailTTL)
	if err != nil {
		return nil, err
	}
	if s.mailer != nil && user.Email != "" {
		if err := s.mailer.SendVerificationEmail(ctx, user.Email, verificationLink(s.settings.BaseURL, token.Value)); err != nil {
			return token, oops.Code("MAIL_FAILED").With("user_id", user.ID).Wrap(err)
		}
	}
	return token, nil
}

func (s *Service) dummyDigest() string {
	s.dummyOnce.Do(func() {
		h, err := s.hashes.hasher.Hash("timing-equalization-password")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
}

// Login authenticates with a username (or email) and password. Unknown users
// and wrong passwords both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identifier, password string) (*Session, error) {
	sess := NewSession()
	if err := sess.Transition(StateAuthenticating); err != nil {
		return nil, err
	}

	user, err := s.FindUser(ctx, identifier)
	if err != nil {
		_ = sess.Transition(StateAnonymous)
		if errors.Is(err, ErrNotFound) {
			if digest := s.dummyDigest(); digest != "" {
				_, _ = s.hashes.Verify(ctx, password, digest)
			}
			return nil, invalidCredentials()
		}
		return nil, err
	}

	ok, err := s.hashes.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		_ = sess.Transition(StateAnonymous)
		if ctx.Err() != nil {
			return nil, err
		}
		s.logger.WarnContext(ctx, "stored password digest unusable", "user_id", user.ID, "error", err)
		return nil, invalidCredentials()
	}
	if !ok {
		_ = sess.Transition(StateAnonymous)
		return nil, invalidCredentials()
	}
	if !user.IsActive {
		_ = sess.Transition(StateAnonymous)
		return nil, oops.Code(CodeAccountInactive).With("user_id", user.ID).Wrap(ErrAccountInactive)
	}

	if s.hashes.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}

	if err := s.sessions.Issue(sess, user.ID, ProviderLocal); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID, "provider", ProviderLocal)
	s.events.Emit(ctx, EventAfterLogin, user, map[string]any{"provider": ProviderLocal})
	return sess, nil
}

func (s *Service) rehash(ctx context.Context, user *User, password string) {
	digest, err := s.hashes.Hash(ctx, password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.ID, digest)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = digest
	s.logger.DebugContext(ctx, "password digest upgraded", "user_id", user.ID)
}

// SocialLogin signs in the user linked to (provider, externalID), creating
// and linking a new user on first sight.
func (s *Service) SocialLogin(ctx context.Context, provider, externalID string, profile *Profile) (*Session, error) {
	if !s.settings.Social.Enabled {
		return nil, validationError("social", "social login is disabled")
	}
	provider = NormalizeProvider(provider)
	if provider == "" || externalID == "" {
		return nil, validationError("provider", "provider and external id are required")
	}
	if profile == nil {
		profile = &Profile{}
	}

	sess := NewSession()
	if err := sess.Transition(StateAuthenticating); err != nil {
		return nil, err
	}

	created := false
	user, err := s.userForIdentity(ctx, provider, externalID)
	if errors.Is(err, ErrNotFound) {
		user, err = s.createSocialUser(ctx, provider, externalID, profile)
		created = err == nil
	}
	if err != nil {
		_ = sess.Transition(StateAnonymous)
		return nil, err
	}
	if !user.IsActive {
		_ = sess.Transition(StateAnonymous)
		return nil, oops.Code(CodeAccountInactive).With("user_id", user.ID).Wrap(ErrAccountInactive)
	}

	if err := s.sessions.Issue(sess, user.ID, provider); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID, "provider", provider, "created", created)
	s.events.Emit(ctx, EventAfterLogin, user, map[string]any{"provider": provider, "created": created})
	return sess, nil
}

func (s *Service) userForIdentity(ctx context.Context, provider, externalID string) (*User, error) {
	userID, err := s.linker.FindByProviderIdentity(ctx, provider, externalID)
	if err != nil {
		return nil, err
	}
	return s.users.GetUserByID(ctx, userID)
}

func (s *Service) createSocialUser(ctx context.Context, provider, externalID string, profile *Profile) (*User, error) {
	base := UsernameFromProfile(provider, externalID, profile)
	now := time.Now()
	user := &User{
		Email:         strings.TrimSpace(profile.Email),
		FirstName:     profile.FirstName,
		LastName:      profile.LastName,
		Role:          RoleUser,
		IsActive:      true,
		EmailVerified: profile.EmailVerified && profile.Email != "",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if ValidateEmail(user.Email) != nil {
		user.Email, user.EmailVerified = "", false
	}
	s.events.Emit(ctx, EventBeforeSocialLoginUserCreate, &User{Username: base, Email: user.Email}, map[string]any{
		"provider":    provider,
		"external_id": externalID,
	})

	secret, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	if user.PasswordHash, err = s.hashes.Hash(ctx, secret); err != nil {
		return nil, err
	}

	attempts := 1
	if s.settings.Social.UsernamePolicy == UsernamePolicySuffix {
		attempts += s.settings.Social.MaxSuffixAttempts
	}
	for i := 0; i < attempts; i++ {
		user.ID = NewID()
		user.Username = base
		if i > 0 {
			user.Username = base + strconv.Itoa(i)
		}
		err = s.users.CreateUser(ctx, user)
		if errors.Is(err, ErrDuplicateEmail) {
			// never attach to an existing account by email; drop it instead
			s.logger.InfoContext(ctx, "social email already registered, creating user without email", "provider", provider)
			user.Email, user.EmailVerified = "", false
			err = s.users.CreateUser(ctx, user)
		}
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateUsername) {
			return nil, err
		}
	}
	if err != nil {
		return nil, oops.Code(CodeDuplicateUsername).
			With("username", base).
			With("policy", s.settings.Social.UsernamePolicy).
			Wrap(err)
	}

	if err := s.linker.Link(ctx, user.ID, provider, externalID, profile); err != nil {
		if errors.Is(err, ErrAlreadyLinked) {
			// a concurrent social login for the same account got there first
			if derr := s.users.SetActive(ctx, user.ID, false); derr != nil {
				s.logger.WarnContext(ctx, "failed to deactivate orphaned user", "user_id", user.ID, "error", derr)
			}
			return s.userForIdentity(ctx, provider, externalID)
		}
		return nil, err
	}
	s.logger.InfoContext(ctx, "user created from social login", "user_id", user.ID, "provider", provider, "username", user.Username)
	return user, nil
}

// LinkSocialAccount links a provider account to an existing user
func (s *Service) LinkSocialAccount(ctx context.Context, userID, provider, externalID string, profile *Profile) error {
	if _, err := s.users.GetUserByID(ctx, userID); err != nil {
		return err
	}
	return s.linker.Link(ctx, userID, provider, externalID, profile)
}

// UnlinkSocialAccount removes a provider link from a user
func (s *Service) UnlinkSocialAccount(ctx context.Context, userID, provider string) error {
	return s.linker.Unlink(ctx, userID, provider)
}

// Logout ends an authenticated session
func (s *Service) Logout(ctx context.Context, sess *Session) error {
	if sess == nil || sess.State != StateAuthenticated {
		return validationError("session", "session is not authenticated")
	}
	user, err := s.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		user = &User{ID: sess.UserID}
	}
	s.events.Emit(ctx, EventBeforeLogout, user, map[string]any{"session_id": sess.ID})
	s.sessions.Revoke(sess)
	if err := sess.Transition(StateLoggedOut); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "user logged out", "user_id", sess.UserID)
	s.events.Emit(ctx, EventAfterLogout, user, map[string]any{"session_id": sess.ID})
	return nil
}

// ValidateSession verifies a session token and that its user may still sign in
func (s *Service) ValidateSession(ctx context.Context, token string) (*Session, error) {
	sess, err := s.sessions.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidCredentials()
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, oops.Code(CodeAccountInactive).With("user_id", user.ID).Wrap(ErrAccountInactive)
	}
	return sess, nil
}

// ChangePassword replaces the user's password
func (s *Service) ChangePassword(ctx context.Context, userID, newPassword string) error {
	if err := ValidatePassword(newPassword, s.settings.PasswordMinLength); err != nil {
		return err
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	digest, err := s.hashes.Hash(ctx, newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, digest); err != nil {
		return err
	}
	user.PasswordHash = digest
	s.logger.InfoContext(ctx, "password changed", "user_id", userID)
	s.events.Emit(ctx, EventAfterChangePassword, user, nil)
	return nil
}

// RequestPasswordReset issues a reset token for the user behind identifier
// and mails it when a Mailer is configured. Unknown or inactive users yield
// an empty token and no error.
func (s *Service) RequestPasswordReset(ctx context.Context, identifier string) (string, error) {
	user, err := s.FindUser(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		s.logger.InfoContext(ctx, "password reset requested for unknown user")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !user.IsActive {
		s.logger.InfoContext(ctx, "password reset requested for inactive user", "user_id", user.ID)
		return "", nil
	}
	token, err := s.tokens.Issue(ctx, user.ID, PurposeResetPassword, s.settings.Tokens.ResetPasswordTTL)
	if err != nil {
		return "", err
	}
	if s.mailer != nil && user.Email != "" {
		if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, resetLink(s.settings.BaseURL, token.Value)); err != nil {
			return "", oops.Code("MAIL_FAILED").With("user_id", user.ID).Wrap(err)
		}
	}
	return token.Value, nil
}

// ResetPassword consumes a reset token and sets the new password
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword, s.settings.PasswordMinLength); err != nil {
		return err
	}
	userID, err := s.tokens.Consume(ctx, token, PurposeResetPassword)
	if err != nil {
		return err
	}
	return s.ChangePassword(ctx, userID, newPassword)
}

// ConfirmEmail consumes a confirmation token and marks the email verified.
// Only an account awaiting confirmation is activated; one an administrator
// deactivated stays inactive.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (*User, error) {
	userID, err := s.tokens.Consume(ctx, token, PurposeConfirmEmail)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		return nil, err
	}
	if user.PendingConfirmation {
		if err := s.users.SetActive(ctx, userID, true); err != nil {
			return nil, err
		}
	}
	return s.users.GetUserByID(ctx, userID)
}

// ResendValidation issues a fresh confirmation token, invalidating the
// previous one
func (s *Service) ResendValidation(ctx context.Context, identifier string) (string, error) {
	user, err := s.FindUser(ctx, identifier)
	if err != nil {
		return "", err
	}
	if !user.IsActive && !user.PendingConfirmation {
		return "", oops.Code(CodeAccountInactive).With("user_id", user.ID).Wrap(ErrAccountInactive)
	}
	if user.EmailVerified {
		return "", validationError("email", "email is already verified")
	}
	if user.Email == "" {
		return "", validationError("email", "user has no email address")
	}
	token, err := s.sendConfirmation(ctx, user)
	if err != nil {
		return "", err
	}
	s.events.Emit(ctx, EventAfterResendTokenValidation, user, map[string]any{"purpose": string(PurposeConfirmEmail)})
	return token.Value, nil
}

// UpdateRole changes a user's role
func (s *Service) UpdateRole(ctx context.Context, userID string, role Role) error {
	if !role.Valid() {
		return validationError("role", "unknown role %q", role)
	}
	return s.users.UpdateRole(ctx, userID, role)
}

// SetSuperuser grants or revokes superuser status
func (s *Service) SetSuperuser(ctx context.Context, userID string, isSuperuser bool) error {
	return s.users.SetSuperuser(ctx, userID, isSuperuser)
}

// Deactivate prevents the user from signing in and revokes outstanding
// confirmation and reset links
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	if err := s.users.SetActive(ctx, userID, false); err != nil {
		return err
	}
	for _, purpose := range []TokenPurpose{PurposeConfirmEmail, PurposeResetPassword} {
		if err := s.tokens.Revoke(ctx, userID, purpose); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "user deactivated", "user_id", userID)
	return nil
}

// Activate re-enables a deactivated user
func (s *Service) Activate(ctx context.Context, userID string) error {
	return s.users.SetActive(ctx, userID, true)
}
