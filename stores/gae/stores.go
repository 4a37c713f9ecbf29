//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"sort"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/samber/oops"
	"google.golang.org/api/iterator"

	ua "github.com/panyam/userauth"
)

// Kind constants for Datastore entities
const (
	KindUser            = "User"
	KindUsernameIndex   = "UsernameIndex"
	KindEmailIndex      = "EmailIndex"
	KindSocialIdentity  = "SocialIdentity"
	KindSocialUserIndex = "SocialUserIndex"
	KindAuthToken       = "AuthToken"
	KindTokenIndex      = "TokenIndex"
)

// base holds what every store needs to build keys
type base struct {
	client    *datastore.Client
	namespace string
}

func (s *base) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

// NewStores returns the three Datastore stores sharing client and namespace
func NewStores(client *datastore.Client, namespace string) ua.Stores {
	return ua.Stores{
		Users:      NewUserStore(client, namespace),
		Identities: NewIdentityStore(client, namespace),
		Tokens:     NewTokenStore(client, namespace),
	}
}

// ============================================================================
// UserStore
// ============================================================================

// UserStore implements ua.UserStore using Google Cloud Datastore. Username
// and email uniqueness is enforced by index entities written in the same
// transaction as the user.
type UserStore struct {
	base
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{base{client: client, namespace: namespace}}
}

func (s *UserStore) CreateUser(ctx context.Context, user *ua.User) error {
	userKey := s.namespacedKey(KindUser, user.ID)
	unameKey := s.namespacedKey(KindUsernameIndex, ua.NormalizeUsername(user.Username))
	var emailKey *datastore.Key
	if user.Email != "" {
		emailKey = s.namespacedKey(KindEmailIndex, ua.NormalizeEmail(user.Email))
	}

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing IndexEntity
		if err := tx.Get(unameKey, &existing); err == nil {
			return oops.Code(ua.CodeDuplicateUsername).With("username", user.Username).Wrap(ua.ErrDuplicateUsername)
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if emailKey != nil {
			if err := tx.Get(emailKey, &existing); err == nil {
				return oops.Code(ua.CodeDuplicateEmail).With("email", user.Email).Wrap(ua.ErrDuplicateEmail)
			} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
				return err
			}
		}

		now := time.Now()
		if _, err := tx.Put(unameKey, &IndexEntity{UserID: user.ID, Value: user.Username, CreatedAt: now}); err != nil {
			return err
		}
		if emailKey != nil {
			if _, err := tx.Put(emailKey, &IndexEntity{UserID: user.ID, Value: user.Email, CreatedAt: now}); err != nil {
				return err
			}
		}
		_, err := tx.Put(userKey, UserToEntity(user, userKey))
		return err
	})
	if err != nil && !errors.Is(err, ua.ErrDuplicateUsername) && !errors.Is(err, ua.ErrDuplicateEmail) {
		return oops.Code("USER_CREATE_FAILED").With("username", user.Username).Wrap(err)
	}
	return err
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*ua.User, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, id), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oops.Code(ua.CodeNotFound).With("id", id).Wrap(ua.ErrNotFound)
		}
		return nil, oops.Code("USER_GET_FAILED").With("id", id).Wrap(err)
	}
	return entity.ToUser(), nil
}

func (s *UserStore) getByIndex(ctx context.Context, kind, field, value string) (*ua.User, error) {
	var idx IndexEntity
	if err := s.client.Get(ctx, s.namespacedKey(kind, value), &idx); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oops.Code(ua.CodeNotFound).With(field, value).Wrap(ua.ErrNotFound)
		}
		return nil, oops.Code("USER_GET_FAILED").With(field, value).Wrap(err)
	}
	return s.GetUserByID(ctx, idx.UserID)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*ua.User, error) {
	return s.getByIndex(ctx, KindUsernameIndex, "username", ua.NormalizeUsername(username))
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*ua.User, error) {
	return s.getByIndex(ctx, KindEmailIndex, "email", ua.NormalizeEmail(email))
}

func (s *UserStore) update(ctx context.Context, id string, fn func(*UserEntity)) error {
	key := s.namespacedKey(KindUser, id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return oops.Code(ua.CodeNotFound).With("id", id).Wrap(ua.ErrNotFound)
			}
			return err
		}
		fn(&entity)
		entity.UpdatedAt = time.Now()
		_, err := tx.Put(key, &entity)
		return err
	})
	if err != nil && !errors.Is(err, ua.ErrNotFound) {
		return oops.Code("USER_UPDATE_FAILED").With("id", id).Wrap(err)
	}
	return err
}

func (s *UserStore) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	return s.update(ctx, id, func(e *UserEntity) { e.PasswordHash = passwordHash })
}

func (s *UserStore) UpdateRole(ctx context.Context, id string, role ua.Role) error {
	return s.update(ctx, id, func(e *UserEntity) { e.Role = string(role) })
}

func (s *UserStore) SetSuperuser(ctx context.Context, id string, isSuperuser bool) error {
	return s.update(ctx, id, func(e *UserEntity) { e.IsSuperuser = isSuperuser })
}

func (s *UserStore) SetActive(ctx context.Context, id string, isActive bool) error {
	return s.update(ctx, id, func(e *UserEntity) { e.IsActive, e.PendingConfirmation = isActive, false })
}

func (s *UserStore) MarkEmailVerified(ctx context.Context, id string) error {
	return s.update(ctx, id, func(e *UserEntity) { e.EmailVerified = true })
}

// ============================================================================
// SocialIdentityStore
// ============================================================================

// IdentityStore implements ua.SocialIdentityStore using Google Cloud Datastore
type IdentityStore struct {
	base
}

// NewIdentityStore creates a new Datastore-backed SocialIdentityStore
func NewIdentityStore(client *datastore.Client, namespace string) *IdentityStore {
	return &IdentityStore{base{client: client, namespace: namespace}}
}

func (s *IdentityStore) accountKey(provider, externalID string) *datastore.Key {
	return s.namespacedKey(KindSocialIdentity, provider+":"+externalID)
}

func (s *IdentityStore) userLinkKey(provider, userID string) *datastore.Key {
	return s.namespacedKey(KindSocialUserIndex, provider+":"+userID)
}

func (s *IdentityStore) CreateSocialIdentity(ctx context.Context, identity *ua.SocialIdentity) error {
	identity.Provider = ua.NormalizeProvider(identity.Provider)
	acctKey := s.accountKey(identity.Provider, identity.ExternalID)
	linkKey := s.userLinkKey(identity.Provider, identity.UserID)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing SocialIdentityEntity
		if err := tx.Get(acctKey, &existing); err == nil {
			return oops.Code(ua.CodeAlreadyLinked).With("provider", identity.Provider).Wrap(ua.ErrAlreadyLinked)
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		var link IndexEntity
		if err := tx.Get(linkKey, &link); err == nil {
			return oops.Code(ua.CodeProviderAlreadyLinked).
				With("provider", identity.Provider).
				With("user_id", identity.UserID).
				Wrap(ua.ErrProviderAlreadyLinked)
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if _, err := tx.Put(acctKey, SocialIdentityToEntity(identity, acctKey)); err != nil {
			return err
		}
		_, err := tx.Put(linkKey, &IndexEntity{UserID: identity.UserID, Value: identity.ExternalID, CreatedAt: identity.CreatedAt})
		return err
	})
	if err != nil && !errors.Is(err, ua.ErrAlreadyLinked) && !errors.Is(err, ua.ErrProviderAlreadyLinked) {
		return oops.Code("SOCIAL_IDENTITY_CREATE_FAILED").With("provider", identity.Provider).Wrap(err)
	}
	return err
}

func (s *IdentityStore) GetSocialIdentity(ctx context.Context, provider, externalID string) (*ua.SocialIdentity, error) {
	provider = ua.NormalizeProvider(provider)
	var entity SocialIdentityEntity
	if err := s.client.Get(ctx, s.accountKey(provider, externalID), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oops.Code(ua.CodeNotFound).With("provider", provider).Wrap(ua.ErrNotFound)
		}
		return nil, oops.Code("SOCIAL_IDENTITY_GET_FAILED").With("provider", provider).Wrap(err)
	}
	return entity.ToSocialIdentity(), nil
}

func (s *IdentityStore) DeleteSocialIdentity(ctx context.Context, userID, provider string) error {
	provider = ua.NormalizeProvider(provider)
	linkKey := s.userLinkKey(provider, userID)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var link IndexEntity
		if err := tx.Get(linkKey, &link); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return oops.Code(ua.CodeNotFound).With("provider", provider).With("user_id", userID).Wrap(ua.ErrNotFound)
			}
			return err
		}
		return tx.DeleteMulti([]*datastore.Key{linkKey, s.accountKey(provider, link.Value)})
	})
	if err != nil && !errors.Is(err, ua.ErrNotFound) {
		return oops.Code("SOCIAL_IDENTITY_DELETE_FAILED").With("provider", provider).Wrap(err)
	}
	return err
}

func (s *IdentityStore) ListSocialIdentities(ctx context.Context, userID string) ([]*ua.SocialIdentity, error) {
	query := datastore.NewQuery(KindSocialIdentity).
		Namespace(s.namespace).
		FilterField("user_id", "=", userID)

	var out []*ua.SocialIdentity
	it := s.client.Run(ctx, query)
	for {
		var entity SocialIdentityEntity
		_, err := it.Next(&entity)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, oops.Code("SOCIAL_IDENTITY_LIST_FAILED").With("user_id", userID).Wrap(err)
		}
		out = append(out, entity.ToSocialIdentity())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

// ============================================================================
// TokenStore
// ============================================================================

// TokenStore implements ua.TokenStore using Google Cloud Datastore. A
// TokenIndex entity keyed by user and purpose points at the current token,
// which lets replacement run inside a transaction without a query.
type TokenStore struct {
	base
}

// NewTokenStore creates a new Datastore-backed TokenStore
func NewTokenStore(client *datastore.Client, namespace string) *TokenStore {
	return &TokenStore{base{client: client, namespace: namespace}}
}

func (s *TokenStore) ReplaceToken(ctx context.Context, token *ua.Token) error {
	idxKey := s.namespacedKey(KindTokenIndex, token.UserID+":"+string(token.Purpose))
	tokKey := s.namespacedKey(KindAuthToken, token.Hash)

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var idx IndexEntity
		err := tx.Get(idxKey, &idx)
		switch {
		case err == nil:
			prevKey := s.namespacedKey(KindAuthToken, idx.Value)
			var prev AuthTokenEntity
			if gerr := tx.Get(prevKey, &prev); gerr == nil && !prev.Consumed {
				if derr := tx.Delete(prevKey); derr != nil {
					return derr
				}
			} else if gerr != nil && !errors.Is(gerr, datastore.ErrNoSuchEntity) {
				return gerr
			}
		case !errors.Is(err, datastore.ErrNoSuchEntity):
			return err
		}
		if _, err := tx.Put(tokKey, TokenToEntity(token, tokKey)); err != nil {
			return err
		}
		_, err = tx.Put(idxKey, &IndexEntity{UserID: token.UserID, Value: token.Hash, CreatedAt: token.IssuedAt})
		return err
	})
	if err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("user_id", token.UserID).Wrap(err)
	}
	return nil
}

func (s *TokenStore) GetToken(ctx context.Context, hash string) (*ua.Token, error) {
	var entity AuthTokenEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindAuthToken, hash), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, oops.Code(ua.CodeNotFound).Wrap(ua.ErrNotFound)
		}
		return nil, oops.Code("TOKEN_GET_FAILED").Wrap(err)
	}
	return entity.ToToken(), nil
}

func (s *TokenStore) ConsumeToken(ctx context.Context, hash string, at time.Time) error {
	key := s.namespacedKey(KindAuthToken, hash)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity AuthTokenEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return oops.Code(ua.CodeNotFound).Wrap(ua.ErrNotFound)
			}
			return err
		}
		if entity.Consumed {
			return oops.Code(ua.CodeTokenConsumed).Wrap(ua.ErrTokenConsumed)
		}
		entity.Consumed = true
		entity.ConsumedAt = at
		_, err := tx.Put(key, &entity)
		return err
	})
	if err != nil && !errors.Is(err, ua.ErrNotFound) && !errors.Is(err, ua.ErrTokenConsumed) {
		return oops.Code("TOKEN_CONSUME_FAILED").Wrap(err)
	}
	return err
}

func (s *TokenStore) DeleteToken(ctx context.Context, hash string) error {
	return s.client.Delete(ctx, s.namespacedKey(KindAuthToken, hash))
}

// DeleteExpiredTokens deletes in batches of 500, the Datastore multi-op limit
func (s *TokenStore) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	query := datastore.NewQuery(KindAuthToken).
		Namespace(s.namespace).
		FilterField("expires_at", "<", before).
		KeysOnly()

	var (
		batch []*datastore.Key
		total int64
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.client.DeleteMulti(ctx, batch); err != nil {
			return err
		}
		total += int64(len(batch))
		batch = batch[:0]
		return nil
	}

	it := s.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return total, oops.Code("TOKEN_SWEEP_FAILED").Wrap(err)
		}
		batch = append(batch, key)
		if len(batch) == 500 {
			if err := flush(); err != nil {
				return total, oops.Code("TOKEN_SWEEP_FAILED").Wrap(err)
			}
		}
	}
	if err := flush(); err != nil {
		return total, oops.Code("TOKEN_SWEEP_FAILED").Wrap(err)
	}
	return total, nil
}
