package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/oops"

	ua "github.com/panyam/userauth"
)

// FSIdentityStore stores social identities as JSON files.
//
//	{StoragePath}/
//	└── social/
//	    ├── accounts/github/12345.json     # full SocialIdentity
//	    └── users/github/01HV....json      # {"key": "12345", "user_id": "01HV..."}
//
// Both files are created with O_EXCL; the first enforces one owner per
// provider account, the second one link per provider per user.
type FSIdentityStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewFSIdentityStore(storagePath string) *FSIdentityStore {
	return &FSIdentityStore{StoragePath: storagePath}
}

func (s *FSIdentityStore) accountPath(provider, externalID string) string {
	return filepath.Join(s.StoragePath, "social", "accounts", safeName(provider), safeName(externalID)+".json")
}

func (s *FSIdentityStore) userLinkPath(provider, userID string) string {
	return filepath.Join(s.StoragePath, "social", "users", safeName(provider), safeName(userID)+".json")
}

func (s *FSIdentityStore) CreateSocialIdentity(ctx context.Context, identity *ua.SocialIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	provider := ua.NormalizeProvider(identity.Provider)
	identity.Provider = provider

	data, err := jsonBytes(identity)
	if err != nil {
		return err
	}
	acctPath := s.accountPath(provider, identity.ExternalID)
	if err := createExclusive(acctPath, data); err != nil {
		if errors.Is(err, os.ErrExist) {
			return oops.Code(ua.CodeAlreadyLinked).With("provider", provider).Wrap(ua.ErrAlreadyLinked)
		}
		return oops.Code("SOCIAL_IDENTITY_CREATE_FAILED").With("provider", provider).Wrap(err)
	}

	link, _ := jsonBytes(indexEntry{Key: identity.ExternalID, UserID: identity.UserID})
	if err := createExclusive(s.userLinkPath(provider, identity.UserID), link); err != nil {
		_ = removeIfExists(acctPath)
		if errors.Is(err, os.ErrExist) {
			return oops.Code(ua.CodeProviderAlreadyLinked).
				With("provider", provider).
				With("user_id", identity.UserID).
				Wrap(ua.ErrProviderAlreadyLinked)
		}
		return oops.Code("SOCIAL_IDENTITY_CREATE_FAILED").With("provider", provider).Wrap(err)
	}
	return nil
}

func (s *FSIdentityStore) GetSocialIdentity(ctx context.Context, provider, externalID string) (*ua.SocialIdentity, error) {
	provider = ua.NormalizeProvider(provider)
	var identity ua.SocialIdentity
	found, err := readJSON(s.accountPath(provider, externalID), &identity)
	if err != nil {
		return nil, oops.Code("SOCIAL_IDENTITY_GET_FAILED").With("provider", provider).Wrap(err)
	}
	if !found {
		return nil, oops.Code(ua.CodeNotFound).With("provider", provider).Wrap(ua.ErrNotFound)
	}
	return &identity, nil
}

func (s *FSIdentityStore) DeleteSocialIdentity(ctx context.Context, userID, provider string) error {
	provider = ua.NormalizeProvider(provider)
	s.mu.Lock()
	defer s.mu.Unlock()

	linkPath := s.userLinkPath(provider, userID)
	var link indexEntry
	found, err := readJSON(linkPath, &link)
	if err != nil {
		return oops.Code("SOCIAL_IDENTITY_DELETE_FAILED").With("provider", provider).Wrap(err)
	}
	if !found {
		return oops.Code(ua.CodeNotFound).With("provider", provider).With("user_id", userID).Wrap(ua.ErrNotFound)
	}
	if err := removeIfExists(s.accountPath(provider, link.Key)); err != nil {
		return err
	}
	return removeIfExists(linkPath)
}

func (s *FSIdentityStore) ListSocialIdentities(ctx context.Context, userID string) ([]*ua.SocialIdentity, error) {
	usersDir := filepath.Join(s.StoragePath, "social", "users")
	providers, err := os.ReadDir(usersDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var out []*ua.SocialIdentity
	for _, p := range providers {
		if !p.IsDir() {
			continue
		}
		var link indexEntry
		found, err := readJSON(filepath.Join(usersDir, p.Name(), safeName(userID)+".json"), &link)
		if err != nil || !found {
			continue
		}
		var identity ua.SocialIdentity
		if ok, err := readJSON(filepath.Join(s.StoragePath, "social", "accounts", p.Name(), safeName(link.Key)+".json"), &identity); err == nil && ok {
			out = append(out, &identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}
