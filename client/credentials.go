// Package client talks to a userauth HTTP server from Go programs and CLIs.
// Sessions are kept in a CredentialStore keyed by server URL so later
// requests are sent with the bearer token.
package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Credential is a session issued by one server
type Credential struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider,omitempty"`
	Username  string    `json:"username,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the session has lapsed at now
func (c *Credential) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// CredentialStore keeps one credential per server
type CredentialStore interface {
	// GetCredential returns nil, nil when the server has no credential
	GetCredential(serverURL string) (*Credential, error)
	SetCredential(serverURL string, cred *Credential) error
	RemoveCredential(serverURL string) error
	ListServers() ([]string, error)

	// Save persists pending changes
	Save() error
}

// ServerKey normalizes a server URL to scheme://host
func ServerKey(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", oops.With("server_url", serverURL).Wrapf(err, "invalid server URL")
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if u.Host == "" {
		return "", oops.With("server_url", serverURL).Errorf("server URL has no host")
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}

// FileStore keeps credentials in a single JSON file readable only by its owner
type FileStore struct {
	mu      sync.RWMutex
	path    string
	servers map[string]*Credential
	dirty   bool
}

type credentialFile struct {
	Servers map[string]*Credential `json:"servers"`
}

// DefaultCredentialPath is <user config dir>/<appName>/credentials.json
func DefaultCredentialPath(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", oops.Wrapf(herr, "locate config directory")
		}
		dir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = "userauth"
	}
	return filepath.Join(dir, appName, "credentials.json"), nil
}

// OpenFileStore loads path if it exists
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, servers: map[string]*Credential{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, oops.With("path", path).Wrapf(err, "read credentials")
	}
	var file credentialFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, oops.With("path", path).Wrapf(err, "parse credentials")
	}
	if file.Servers != nil {
		s.servers = file.Servers
	}
	return s, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) GetCredential(serverURL string) (*Credential, error) {
	key, err := ServerKey(serverURL)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.servers[key], nil
}

func (s *FileStore) SetCredential(serverURL string, cred *Credential) error {
	key, err := ServerKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[key] = cred
	s.dirty = true
	return nil
}

func (s *FileStore) RemoveCredential(serverURL string) error {
	key, err := ServerKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[key]; ok {
		delete(s.servers, key)
		s.dirty = true
	}
	return nil
}

func (s *FileStore) ListServers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.servers))
	for k := range s.servers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Save writes the file through a temp file and rename
func (s *FileStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	errb := oops.With("path", s.path)
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errb.Wrapf(err, "create credentials directory")
	}
	data, err := json.MarshalIndent(credentialFile{Servers: s.servers}, "", "  ")
	if err != nil {
		return errb.Wrapf(err, "encode credentials")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*")
	if err != nil {
		return errb.Wrapf(err, "create temp file")
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return errb.Wrapf(err, "chmod temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errb.Wrapf(err, "write credentials")
	}
	if err := tmp.Close(); err != nil {
		return errb.Wrapf(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errb.Wrapf(err, "replace credentials")
	}
	s.dirty = false
	return nil
}
