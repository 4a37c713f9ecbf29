package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"

	ua "github.com/panyam/userauth"
)

// indexEntry maps a unique key (username, email, provider account) to its owner
type indexEntry struct {
	Key    string `json:"key"`
	UserID string `json:"user_id"`
}

// FSUserStore implements ua.UserStore using JSON files.
//
// # File Structure
//
//	{StoragePath}/
//	├── users/
//	│   └── 01HV....json          # full user record
//	└── index/
//	    ├── usernames/alice.json  # {"key": "alice", "user_id": "01HV..."}
//	    └── emails/alice%40example%2Ecom.json
//
// # Concurrency Model
//
// Index files are created with O_EXCL, so two processes racing to register
// the same username see exactly one success. Updates to a user record are
// serialized by a mutex inside one process and written atomically
// (temp file + rename).
type FSUserStore struct {
	StoragePath string
	mu          sync.Mutex
}

// NewFSUserStore creates a new filesystem-backed UserStore
func NewFSUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) userPath(id string) string {
	return filepath.Join(s.StoragePath, "users", safeName(id)+".json")
}

func (s *FSUserStore) usernamePath(username string) string {
	return filepath.Join(s.StoragePath, "index", "usernames", safeName(ua.NormalizeUsername(username))+".json")
}

func (s *FSUserStore) emailPath(email string) string {
	return filepath.Join(s.StoragePath, "index", "emails", safeName(ua.NormalizeEmail(email))+".json")
}

func (s *FSUserStore) CreateUser(ctx context.Context, user *ua.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unamePath := s.usernamePath(user.Username)
	entry, _ := jsonBytes(indexEntry{Key: ua.NormalizeUsername(user.Username), UserID: user.ID})
	if err := createExclusive(unamePath, entry); err != nil {
		if errors.Is(err, os.ErrExist) {
			return oops.Code(ua.CodeDuplicateUsername).With("username", user.Username).Wrap(ua.ErrDuplicateUsername)
		}
		return oops.Code("USER_CREATE_FAILED").With("operation", "reserve username").Wrap(err)
	}

	if user.Email != "" {
		entry, _ := jsonBytes(indexEntry{Key: ua.NormalizeEmail(user.Email), UserID: user.ID})
		if err := createExclusive(s.emailPath(user.Email), entry); err != nil {
			_ = removeIfExists(unamePath)
			if errors.Is(err, os.ErrExist) {
				return oops.Code(ua.CodeDuplicateEmail).With("email", user.Email).Wrap(ua.ErrDuplicateEmail)
			}
			return oops.Code("USER_CREATE_FAILED").With("operation", "reserve email").Wrap(err)
		}
	}

	if err := writeJSON(s.userPath(user.ID), user); err != nil {
		_ = removeIfExists(unamePath)
		if user.Email != "" {
			_ = removeIfExists(s.emailPath(user.Email))
		}
		return oops.Code("USER_CREATE_FAILED").With("operation", "write user").Wrap(err)
	}
	return nil
}

func (s *FSUserStore) GetUserByID(ctx context.Context, id string) (*ua.User, error) {
	var user ua.User
	found, err := readJSON(s.userPath(id), &user)
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("id", id).Wrap(err)
	}
	if !found {
		return nil, oops.Code(ua.CodeNotFound).With("id", id).Wrap(ua.ErrNotFound)
	}
	return &user, nil
}

func (s *FSUserStore) getByIndex(ctx context.Context, path, field, value string) (*ua.User, error) {
	var entry indexEntry
	found, err := readJSON(path, &entry)
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With(field, value).Wrap(err)
	}
	if !found {
		return nil, oops.Code(ua.CodeNotFound).With(field, value).Wrap(ua.ErrNotFound)
	}
	return s.GetUserByID(ctx, entry.UserID)
}

func (s *FSUserStore) GetUserByUsername(ctx context.Context, username string) (*ua.User, error) {
	return s.getByIndex(ctx, s.usernamePath(username), "username", username)
}

func (s *FSUserStore) GetUserByEmail(ctx context.Context, email string) (*ua.User, error) {
	if email == "" {
		return nil, oops.Code(ua.CodeNotFound).Wrap(ua.ErrNotFound)
	}
	return s.getByIndex(ctx, s.emailPath(email), "email", email)
}

// update applies fn to the stored user and writes it back
func (s *FSUserStore) update(ctx context.Context, id string, fn func(*ua.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return err
	}
	fn(user)
	user.UpdatedAt = time.Now()
	if err := writeJSON(s.userPath(id), user); err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("id", id).Wrap(err)
	}
	return nil
}

func (s *FSUserStore) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	return s.update(ctx, id, func(u *ua.User) { u.PasswordHash = passwordHash })
}

func (s *FSUserStore) UpdateRole(ctx context.Context, id string, role ua.Role) error {
	return s.update(ctx, id, func(u *ua.User) { u.Role = role })
}

func (s *FSUserStore) SetSuperuser(ctx context.Context, id string, isSuperuser bool) error {
	return s.update(ctx, id, func(u *ua.User) { u.IsSuperuser = isSuperuser })
}

func (s *FSUserStore) SetActive(ctx context.Context, id string, isActive bool) error {
	return s.update(ctx, id, func(u *ua.User) { u.IsActive, u.PendingConfirmation = isActive, false })
}

func (s *FSUserStore) MarkEmailVerified(ctx context.Context, id string) error {
	return s.update(ctx, id, func(u *ua.User) { u.EmailVerified = true })
}
