package userauth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
)

// memStore is an in-memory implementation of the three store contracts
type memStore struct {
	mu         sync.Mutex
	users      map[string]*User
	usernames  map[string]string
	emails     map[string]string
	identities map[string]*SocialIdentity // provider:external
	userLinks  map[string]string          // provider:user -> provider:external
	tokens     map[string]*Token
}

// NewMemStores returns Stores backed by a single in-memory store
func NewMemStores() Stores {
	m := &memStore{
		users:      map[string]*User{},
		usernames:  map[string]string{},
		emails:     map[string]string{},
		identities: map[string]*SocialIdentity{},
		userLinks:  map[string]string{},
		tokens:     map[string]*Token{},
	}
	return Stores{Users: m, Identities: m, Tokens: m}
}

func notFound() error { return oops.Code(CodeNotFound).Wrap(ErrNotFound) }

func (m *memStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	uname := NormalizeUsername(u.Username)
	if _, ok := m.usernames[uname]; ok {
		return oops.Code(CodeDuplicateUsername).Wrap(ErrDuplicateUsername)
	}
	email := NormalizeEmail(u.Email)
	if email != "" {
		if _, ok := m.emails[email]; ok {
			return oops.Code(CodeDuplicateEmail).Wrap(ErrDuplicateEmail)
		}
		m.emails[email] = u.ID
	}
	m.usernames[uname] = u.ID
	m.users[u.ID] = u.Clone()
	return nil
}

func (m *memStore) GetUserByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u.Clone(), nil
	}
	return nil, notFound()
}

func (m *memStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.Lock()
	id, ok := m.usernames[NormalizeUsername(username)]
	m.mu.Unlock()
	if !ok {
		return nil, notFound()
	}
	return m.GetUserByID(ctx, id)
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	id, ok := m.emails[NormalizeEmail(email)]
	m.mu.Unlock()
	if !ok {
		return nil, notFound()
	}
	return m.GetUserByID(ctx, id)
}

func (m *memStore) update(id string, fn func(*User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return notFound()
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, id, hash string) error {
	return m.update(id, func(u *User) { u.PasswordHash = hash })
}

func (m *memStore) UpdateRole(_ context.Context, id string, role Role) error {
	return m.update(id, func(u *User) { u.Role = role })
}

func (m *memStore) SetSuperuser(_ context.Context, id string, v bool) error {
	return m.update(id, func(u *User) { u.IsSuperuser = v })
}

func (m *memStore) SetActive(_ context.Context, id string, v bool) error {
	return m.update(id, func(u *User) { u.IsActive, u.PendingConfirmation = v, false })
}

func (m *memStore) MarkEmailVerified(_ context.Context, id string) error {
	return m.update(id, func(u *User) { u.EmailVerified = true })
}

func (m *memStore) CreateSocialIdentity(_ context.Context, si *SocialIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	provider := NormalizeProvider(si.Provider)
	acct := provider + ":" + si.ExternalID
	if _, ok := m.identities[acct]; ok {
		return oops.Code(CodeAlreadyLinked).Wrap(ErrAlreadyLinked)
	}
	link := provider + ":" + si.UserID
	if _, ok := m.userLinks[link]; ok {
		return oops.Code(CodeProviderAlreadyLinked).Wrap(ErrProviderAlreadyLinked)
	}
	cp := *si
	cp.Provider = provider
	m.identities[acct] = &cp
	m.userLinks[link] = acct
	return nil
}

func (m *memStore) GetSocialIdentity(_ context.Context, provider, externalID string) (*SocialIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	si, ok := m.identities[NormalizeProvider(provider)+":"+externalID]
	if !ok {
		return nil, notFound()
	}
	cp := *si
	return &cp, nil
}

func (m *memStore) DeleteSocialIdentity(_ context.Context, userID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	link := NormalizeProvider(provider) + ":" + userID
	acct, ok := m.userLinks[link]
	if !ok {
		return notFound()
	}
	delete(m.userLinks, link)
	delete(m.identities, acct)
	return nil
}

func (m *memStore) ListSocialIdentities(_ context.Context, userID string) ([]*SocialIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*SocialIdentity
	for _, si := range m.identities {
		if si.UserID == userID {
			cp := *si
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (m *memStore) ReplaceToken(_ context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, existing := range m.tokens {
		if existing.UserID == t.UserID && existing.Purpose == t.Purpose && !existing.IsConsumed() {
			delete(m.tokens, hash)
		}
	}
	cp := *t
	cp.Value = ""
	m.tokens[t.Hash] = &cp
	return nil
}

func (m *memStore) GetToken(_ context.Context, hash string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return nil, notFound()
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ConsumeToken(_ context.Context, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return notFound()
	}
	if t.IsConsumed() {
		return oops.Code(CodeTokenConsumed).Wrap(ErrTokenConsumed)
	}
	t.ConsumedAt = &at
	return nil
}

func (m *memStore) DeleteToken(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, hash)
	return nil
}

func (m *memStore) DeleteExpiredTokens(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for hash, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, hash)
			n++
		}
	}
	return n, nil
}
