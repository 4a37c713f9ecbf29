package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	ua "github.com/panyam/userauth"
)

// FSTokenStore stores one-time tokens as JSON files named by token hash.
// Replacement and consumption hold a mutex, so the store is safe for one
// process; share a directory between processes only for read access.
type FSTokenStore struct {
	StoragePath string
	mu          sync.Mutex
}

func NewFSTokenStore(storagePath string) *FSTokenStore {
	return &FSTokenStore{StoragePath: storagePath}
}

func (s *FSTokenStore) tokensDir() string {
	return filepath.Join(s.StoragePath, "tokens")
}

func (s *FSTokenStore) tokenPath(hash string) string {
	return filepath.Join(s.tokensDir(), safeName(hash)+".json")
}

// eachToken calls fn for every readable token file
func (s *FSTokenStore) eachToken(fn func(path string, token *ua.Token) error) error {
	entries, err := os.ReadDir(s.tokensDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.tokensDir(), entry.Name())
		var token ua.Token
		if found, err := readJSON(path, &token); err != nil || !found {
			continue
		}
		if err := fn(path, &token); err != nil {
			return err
		}
	}
	return nil
}

func (s *FSTokenStore) ReplaceToken(ctx context.Context, token *ua.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.eachToken(func(path string, existing *ua.Token) error {
		if existing.UserID == token.UserID && existing.Purpose == token.Purpose && !existing.IsConsumed() {
			return removeIfExists(path)
		}
		return nil
	})
	if err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("operation", "invalidate previous").Wrap(err)
	}
	if err := writeJSON(s.tokenPath(token.Hash), token); err != nil {
		return oops.Code("TOKEN_REPLACE_FAILED").With("operation", "write token").Wrap(err)
	}
	return nil
}

func (s *FSTokenStore) GetToken(ctx context.Context, hash string) (*ua.Token, error) {
	var token ua.Token
	found, err := readJSON(s.tokenPath(hash), &token)
	if err != nil {
		return nil, oops.Code("TOKEN_GET_FAILED").Wrap(err)
	}
	if !found {
		return nil, oops.Code(ua.CodeNotFound).Wrap(ua.ErrNotFound)
	}
	return &token, nil
}

func (s *FSTokenStore) ConsumeToken(ctx context.Context, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.GetToken(ctx, hash)
	if err != nil {
		return err
	}
	if token.IsConsumed() {
		return oops.Code(ua.CodeTokenConsumed).Wrap(ua.ErrTokenConsumed)
	}
	token.ConsumedAt = &at
	if err := writeJSON(s.tokenPath(hash), token); err != nil {
		return oops.Code("TOKEN_CONSUME_FAILED").Wrap(err)
	}
	return nil
}

func (s *FSTokenStore) DeleteToken(ctx context.Context, hash string) error {
	return removeIfExists(s.tokenPath(hash))
}

func (s *FSTokenStore) DeleteExpiredTokens(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.eachToken(func(path string, token *ua.Token) error {
		if token.ExpiresAt.Before(before) {
			if err := removeIfExists(path); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// NewStores returns the three filesystem stores rooted at storagePath
func NewStores(storagePath string) ua.Stores {
	return ua.Stores{
		Users:      NewFSUserStore(storagePath),
		Identities: NewFSIdentityStore(storagePath),
		Tokens:     NewFSTokenStore(storagePath),
	}
}
