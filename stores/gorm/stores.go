//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ua "github.com/panyam/userauth"
)

// Open connects to PostgreSQL through GORM with error translation enabled,
// which the stores rely on to detect unique violations
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	return db, nil
}

// AutoMigrate creates or updates the auth tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&SocialIdentityModel{},
		&AuthTokenModel{},
	)
}

// NewStores returns the three GORM stores sharing db
func NewStores(db *gorm.DB) ua.Stores {
	return ua.Stores{
		Users:      NewUserStore(db),
		Identities: NewIdentityStore(db),
		Tokens:     NewTokenStore(db),
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// =============================================================================
// UserStore
// =============================================================================

// UserStore implements ua.UserStore using GORM
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, user *ua.User) error {
	model := UserToModel(user)
	err := s.db.WithContext(ctx).Create(model).Error
	if err == nil {
		return nil
	}
	if !isDuplicate(err) {
		return oops.Code("USER_CREATE_FAILED").With("username", user.Username).Wrap(err)
	}
	// the driver does not say which index fired; the username wins ties
	var count int64
	err = s.db.WithContext(ctx).Model(&UserModel{}).Where("username_key = ?", model.UsernameKey).Count(&count).Error
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "classify conflict").
			With("username", user.Username).
			Wrap(err)
	}
	if count > 0 || model.EmailKey == nil {
		return oops.Code(ua.CodeDuplicateUsername).With("username", user.Username).Wrap(ua.ErrDuplicateUsername)
	}
	return oops.Code(ua.CodeDuplicateEmail).With("email", user.Email).Wrap(ua.ErrDuplicateEmail)
}

func (s *UserStore) first(ctx context.Context, field, value string, query string, args ...any) (*ua.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, oops.Code(ua.CodeNotFound).With(field, value).Wrap(ua.ErrNotFound)
		}
		return nil, oops.Code("USER_GET_FAILED").With(field, value).Wrap(err)
	}
	return model.ToUser(), nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*ua.User, error) {
	return s.first(ctx, "id", id, "id = ?", id)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*ua.User, error) {
	return s.first(ctx, "username", username, "username_key = ?", ua.NormalizeUsername(username))
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*ua.User, error) {
	return s.first(ctx, "email", email, "email_key = ?", ua.NormalizeEmail(email))
}

func (s *UserStore) update(ctx context.Context, id string, values map[string]any) error {
	result := s.db.WithContext(ctx).Model(&UserModel{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return oops.Code("USER_UPDATE_FAILED").With("id", id).With("values", values).Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		return oops.Code(ua.CodeNotFound).With("id", id).Wrap(ua.ErrNotFound)
	}
	return nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	return s.update(ctx, id, map[string]any{"password_hash": passwordHash})
}

func (s *UserStore) UpdateRole(ctx context.Context, id string, role ua.Role) error {
	return s.update(ctx, id, map[string]any{"role": string(role)})
}

func (s *UserStore) SetSuperuser(ctx context.Context, id string, isSuperuser bool) error {
	return s.update(ctx, id, map[string]any{"is_superuser": isSuperuser})
}

func (s *UserStore) SetActive(ctx context.Context, id string, isActive bool) error {
	return s.update(ctx, id, map[string]any{"is_active": isActive, "pending_confirmation": false})
}

func (s *UserStore) MarkEmailVerified(ctx context.Context, id string) error {
	return s.update(ctx, id, map[string]any{"email_verified": true})
}

// =============================================================================
// SocialIdentityStore
// =============================================================================

// IdentityStore implements ua.SocialIdentityStore using GORM
type IdentityStore struct {
	db *gorm.DB
}

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db}
}

func (s *IdentityStore) CreateSocialIdentity(ctx context.Context, identity *ua.SocialIdentity) error {
	model := SocialIdentityToModel(identity)
	identity.Provider = model.Provider
	err := s.db.WithContext(ctx).Create(model).Error
	if err == nil {
		return nil
	}
	if !isDuplicate(err) {
		return oops.Code("SOCIAL_IDENTITY_CREATE_FAILED").With("provider", model.Provider).Wrap(err)
	}
	var count int64
	err = s.db.WithContext(ctx).Model(&SocialIdentityModel{}).
		Where("provider = ? AND external_id = ?", model.Provider, model.ExternalID).
		Count(&count).Error
	if err != nil {
		return oops.Code("SOCIAL_IDENTITY_CREATE_FAILED").
			With("operation", "classify conflict").
			With("provider", model.Provider).
			Wrap(err)
	}
	if count > 0 {
		return oops.Code(ua.CodeAlreadyLinked).With("provider", model.Provider).Wrap(ua.ErrAlreadyLinked)
	}
	return oops.Code(ua.CodeProviderAlreadyLinked).
		With("provider", model.Provider).
		With("user_id", model.UserID).
		Wrap(ua.ErrProviderAlreadyLinked)
}

func (s *IdentityStore) GetSocialIdentity(ctx context.Context, provider, externalID string) (*ua.SocialIdentity, error) {
	provider = ua.NormalizeProvider(provider)
	var model SocialIdentityModel
	err := s.db.WithContext(ctx).First(&model, "provider = ? AND external_id = ?", provider, externalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, oops.Code(ua.CodeNotFound).With("provider", provider).Wrap(ua.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SOCIAL_IDENTITY_GET_FAILED").With("provider", provider).Wrap(err)
	}
	return model.ToSocialIdentity(), nil
}

func (s *IdentityStore) DeleteSocialIdentity(ctx context.Context, userID, provider string) error {
	provider = ua.NormalizeProvider(provider)
	result := s.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).Delete(&SocialIdentityModel{})
	if result.Error != nil {
		return oops.Code("SOCIAL_IDENTITY_DELETE_FAILED").With("provider", provider).Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		return oops.Code(ua.CodeNotFound).With("provider", provider).With("user_id", userID).Wrap(ua.ErrNotFound)
	}
	return nil
}

func (s *IdentityStore) ListSocialIdentities(ctx context.Context, userID string) ([]*ua.SocialIdentity, error) {
	var models []SocialIdentityModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("provider").Find(&models).Error; err != nil {
		return nil, oops.Code("SOCIAL_IDENTITY_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	out := make([]*ua.SocialIdentity, len(models))
	for i := range models {
		out[i] = models[i].ToSocialIdentity()
	}
	return out, nil
}

// =============================================================================
// TokenStore
// =============================================================================

// TokenStore implements ua.TokenStore using GORM
type TokenStore struct {
	db *gorm.DB
}

func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

// ReplaceToken locks the owning user row so concurrent replacements for the
// same user are serialized, then swaps the tokens in one transaction
func (s *TokenStore) ReplaceToken(ctx context.Context, token *ua.Token) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner UserModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&owner, "id = ?", token.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return oops.Code(ua.CodeNotFound).With("user_id", token.UserID).Wrap(ua.ErrNotFound)
			}
			return err
		}
		if err := tx.Where("user_id = ? AND purpose = ? AND consumed_at IS NULL", token.UserID, string(token.Purpose)).
			Delete(&AuthTokenModel{}).Error; err != nil {
			return err
		}
		return tx.Create(TokenToModel(token)).Error
	})
	if err != nil && !errors.Is(err, ua.ErrNotFound) {
		return oops.Code("TOKEN_REPLACE_FAILED").With("user_id", token.UserID).Wrap(err)
	}
	return err
}

func (s *TokenStore) GetToken(ctx context.Context, hash string) (*ua.Token, error) {
	var model AuthTokenModel
	err := s.db.WithContext(ctx).First(&model, "hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, oops.Code(ua.CodeNotFound).Wrap(ua.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").Wrap(err)
	}
	return model.ToToken(), nil
}

func (s *TokenStore) ConsumeToken(ctx context.Context, hash string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&AuthTokenModel{}).
		Where("hash = ? AND consumed_at IS NULL", hash).
		Update("consumed_at", at)
	if result.Error != nil {
		return oops.Code("TOKEN_CONSUME_FAILED").Wrap(result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetToken(ctx, hash); err != nil {
		return err
	}
	return oops.Code(ua.CodeTokenConsumed).Wrap(ua.ErrTokenConsumed)
}

func (s *TokenStore) DeleteToken(ctx context.Context, hash string) error {
	return s.db.WithContext(ctx).Delete(&AuthTokenModel{}, "hash = ?", hash).Error
}

func (s *TokenStore) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("expires_at < ?", before).Delete(&AuthTokenModel{})
	if result.Error != nil {
		return 0, oops.Code("TOKEN_SWEEP_FAILED").Wrap(result.Error)
	}
	return result.RowsAffected, nil
}
