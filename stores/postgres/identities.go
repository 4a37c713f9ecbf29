package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	ua "github.com/panyam/userauth"
)

const identityColumns = `id, user_id, provider, external_id, email, profile, created_at`

// IdentityStore implements ua.SocialIdentityStore using PostgreSQL.
type IdentityStore struct {
	pool poolIface
}

// NewIdentityStore creates a new IdentityStore.
func NewIdentityStore(pool poolIface) *IdentityStore {
	return &IdentityStore{pool: pool}
}

// CreateSocialIdentity stores a new provider link.
func (s *IdentityStore) CreateSocialIdentity(ctx context.Context, identity *ua.SocialIdentity) error {
	identity.Provider = ua.NormalizeProvider(identity.Provider)
	var profile []byte
	if identity.Profile != nil {
		var err error
		if profile, err = json.Marshal(identity.Profile); err != nil {
			return oops.Code("SOCIAL_IDENTITY_CREATE_FAILED").With("operation", "marshal profile").Wrap(err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO social_identities (id, user_id, provider, external_id, email, profile, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		identity.ID,
		identity.UserID,
		identity.Provider,
		identity.ExternalID,
		identity.Email,
		profile,
		identity.CreatedAt,
	)
	if err == nil {
		return nil
	}
	switch uniqueViolation(err) {
	case "":
	case "social_identities_provider_user_key":
		return oops.Code(ua.CodeProviderAlreadyLinked).
			With("provider", identity.Provider).
			With("user_id", identity.UserID).
			Wrap(ua.ErrProviderAlreadyLinked)
	default:
		return oops.Code(ua.CodeAlreadyLinked).With("provider", identity.Provider).Wrap(ua.ErrAlreadyLinked)
	}
	return oops.Code("SOCIAL_IDENTITY_CREATE_FAILED").
		With("operation", "insert social identity").
		With("provider", identity.Provider).
		Wrap(err)
}

// GetSocialIdentity retrieves a link by provider account.
func (s *IdentityStore) GetSocialIdentity(ctx context.Context, provider, externalID string) (*ua.SocialIdentity, error) {
	provider = ua.NormalizeProvider(provider)
	row := s.pool.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM social_identities
		WHERE provider = $1 AND external_id = $2
	`, provider, externalID)
	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code(ua.CodeNotFound).With("provider", provider).Wrap(ua.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SOCIAL_IDENTITY_GET_FAILED").With("provider", provider).Wrap(err)
	}
	return identity, nil
}

// DeleteSocialIdentity removes a user's link for a provider.
func (s *IdentityStore) DeleteSocialIdentity(ctx context.Context, userID, provider string) error {
	provider = ua.NormalizeProvider(provider)
	tag, err := s.pool.Exec(ctx, `DELETE FROM social_identities WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return oops.Code("SOCIAL_IDENTITY_DELETE_FAILED").With("provider", provider).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code(ua.CodeNotFound).With("provider", provider).With("user_id", userID).Wrap(ua.ErrNotFound)
	}
	return nil
}

// ListSocialIdentities returns a user's links ordered by provider.
func (s *IdentityStore) ListSocialIdentities(ctx context.Context, userID string) ([]*ua.SocialIdentity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+identityColumns+`
		FROM social_identities
		WHERE user_id = $1
		ORDER BY provider
	`, userID)
	if err != nil {
		return nil, oops.Code("SOCIAL_IDENTITY_LIST_FAILED").With("user_id", userID).Wrap(err)
	}
	defer rows.Close()

	var out []*ua.SocialIdentity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, oops.Code("SOCIAL_IDENTITY_LIST_FAILED").With("operation", "scan").Wrap(err)
		}
		out = append(out, identity)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SOCIAL_IDENTITY_LIST_FAILED").With("operation", "iterate").Wrap(err)
	}
	return out, nil
}

func scanIdentity(row pgx.Row) (*ua.SocialIdentity, error) {
	var (
		identity ua.SocialIdentity
		profile  []byte
	)
	if err := row.Scan(
		&identity.ID,
		&identity.UserID,
		&identity.Provider,
		&identity.ExternalID,
		&identity.Email,
		&profile,
		&identity.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &identity.Profile); err != nil {
			return nil, err
		}
	}
	return &identity, nil
}
