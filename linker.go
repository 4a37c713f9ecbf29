package userauth

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/samber/oops"
)

// Linker maintains the association between external provider accounts and
// local users.
type Linker struct {
	store SocialIdentityStore
	now   func() time.Time
}

// NewLinker creates a linker over store
func NewLinker(store SocialIdentityStore) *Linker {
	return &Linker{store: store, now: time.Now}
}

// Link binds (provider, externalID) to userID. Linking the same triple twice
// is a no-op.
func (l *Linker) Link(ctx context.Context, userID, provider, externalID string, profile *Profile) error {
	provider = NormalizeProvider(provider)
	if provider == "" {
		return validationError("provider", "provider is required")
	}
	if externalID == "" {
		return validationError("external_id", "external id is required")
	}
	if userID == "" {
		return validationError("user_id", "user id is required")
	}

	existing, err := l.store.GetSocialIdentity(ctx, provider, externalID)
	switch {
	case err == nil:
		if existing.UserID == userID {
			return nil
		}
		return oops.Code(CodeAlreadyLinked).
			With("provider", provider).
			Wrap(ErrAlreadyLinked)
	case !errors.Is(err, ErrNotFound):
		return oops.Code("LINK_FAILED").With("provider", provider).Wrap(err)
	}

	identity := &SocialIdentity{
		ID:         NewID(),
		UserID:     userID,
		Provider:   provider,
		ExternalID: externalID,
		CreatedAt:  l.now(),
	}
	if profile != nil {
		identity.Email = profile.Email
		identity.Profile = profile.Raw
	}
	if err := l.store.CreateSocialIdentity(ctx, identity); err != nil {
		// a concurrent Link of the same triple may have won the race
		if errors.Is(err, ErrAlreadyLinked) {
			if got, gerr := l.store.GetSocialIdentity(ctx, provider, externalID); gerr == nil && got.UserID == userID {
				return nil
			}
		}
		return err
	}
	return nil
}

// FindByProviderIdentity returns the user owning (provider, externalID)
func (l *Linker) FindByProviderIdentity(ctx context.Context, provider, externalID string) (string, error) {
	identity, err := l.store.GetSocialIdentity(ctx, NormalizeProvider(provider), externalID)
	if err != nil {
		return "", err
	}
	return identity.UserID, nil
}

// Unlink removes the user's link for provider
func (l *Linker) Unlink(ctx context.Context, userID, provider string) error {
	return l.store.DeleteSocialIdentity(ctx, userID, NormalizeProvider(provider))
}

// ListForUser returns the sorted provider names linked to userID
func (l *Linker) ListForUser(ctx context.Context, userID string) ([]string, error) {
	identities, err := l.store.ListSocialIdentities(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(identities))
	for _, id := range identities {
		out = append(out, NormalizeProvider(id.Provider))
	}
	sort.Strings(out)
	return out, nil
}
