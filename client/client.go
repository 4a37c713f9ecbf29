package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/panyam/userauth/httpauth"
)

// Client calls the userauth HTTP routes and remembers the session
type Client struct {
	mu        sync.Mutex
	serverURL string
	store     CredentialStore
	base      http.RoundTripper
	http      *http.Client
	now       func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithTransport sets the transport requests go through
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.base = rt }
}

// WithTimeout bounds every request
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New returns a client for serverURL storing sessions in store
func New(serverURL string, store CredentialStore, opts ...Option) (*Client, error) {
	key, err := ServerKey(serverURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		serverURL: key,
		store:     store,
		base:      http.DefaultTransport,
		http:      &http.Client{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http.Transport = &bearerTransport{client: c}
	return c, nil
}

func (c *Client) ServerURL() string { return c.serverURL }

// HTTPClient sends the stored session token with every request
func (c *Client) HTTPClient() *http.Client { return c.http }

// Credential returns the stored session, or nil once it has expired
func (c *Client) Credential() (*Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return nil, err
	}
	if cred.IsExpired(c.now()) {
		return nil, nil
	}
	return cred, nil
}

func (c *Client) IsLoggedIn() bool {
	cred, err := c.Credential()
	return err == nil && cred != nil
}

type sessionResponse struct {
	UserID    string `json:"user_id"`
	Provider  string `json:"provider"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// Login posts credentials to /auth/login and stores the session
func (c *Client) Login(ctx context.Context, identifier, password string) (*Credential, error) {
	var resp sessionResponse
	if _, err := c.post(ctx, "/auth/login", map[string]string{"username": identifier, "password": password}, &resp); err != nil {
		return nil, err
	}
	return c.remember(resp, identifier)
}

// SignupRequest mirrors the /auth/signup form
type SignupRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	Password  string `json:"password"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Signup registers an account. It returns a nil credential when the server
// requires email confirmation before the first login.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*Credential, error) {
	var raw json.RawMessage
	status, err := c.post(ctx, "/auth/signup", req, &raw)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return nil, nil
	}
	var resp sessionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, oops.Wrapf(err, "decode session")
	}
	return c.remember(resp, req.Username)
}

// Logout ends the session on the server and forgets it locally. A session
// the server no longer accepts is still forgotten.
func (c *Client) Logout(ctx context.Context) error {
	if _, err := c.post(ctx, "/auth/logout", struct{}{}, nil); err != nil {
		var authErr *httpauth.AuthError
		if !errors.As(err, &authErr) || authErr.Status != http.StatusUnauthorized {
			return err
		}
	}
	return c.forget()
}

// ChangePassword requires a stored session
func (c *Client) ChangePassword(ctx context.Context, newPassword string) error {
	_, err := c.post(ctx, "/auth/change-password", map[string]string{"password": newPassword}, nil)
	return err
}

// ForgotPassword asks the server to mail a reset link to the account
// named by identifier
func (c *Client) ForgotPassword(ctx context.Context, identifier string) error {
	_, err := c.post(ctx, "/auth/forgot-password", map[string]string{"username": identifier}, nil)
	return err
}

// ResendValidation asks the server for a fresh confirmation link
func (c *Client) ResendValidation(ctx context.Context, identifier string) error {
	_, err := c.post(ctx, "/auth/resend-validation", map[string]string{"username": identifier}, nil)
	return err
}

// ResetPassword sets a new password with the token from a reset link
func (c *Client) ResetPassword(ctx context.Context, token, password string) error {
	_, err := c.post(ctx, "/users/reset-password/"+token, map[string]string{"password": password}, nil)
	return err
}

func (c *Client) remember(resp sessionResponse, username string) (*Credential, error) {
	expires, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	if err != nil {
		return nil, oops.With("expires_at", resp.ExpiresAt).Wrapf(err, "decode session expiry")
	}
	cred := &Credential{
		Token:     resp.Token,
		UserID:    resp.UserID,
		Provider:  resp.Provider,
		Username:  username,
		ExpiresAt: expires,
		CreatedAt: c.now(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, err
	}
	return cred, c.store.Save()
}

func (c *Client) forget() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// post sends body as JSON. Error responses come back as *httpauth.AuthError.
func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	errb := oops.With("path", path)
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, errb.Wrapf(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, errb.Wrapf(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, errb.Wrapf(err, "send request")
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, errb.Wrapf(err, "read response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		authErr := &httpauth.AuthError{}
		if jerr := json.Unmarshal(data, authErr); jerr != nil || authErr.Message == "" {
			authErr.Message = http.StatusText(resp.StatusCode)
		}
		authErr.Status = resp.StatusCode
		return resp.StatusCode, errb.With("status", resp.StatusCode).Wrap(authErr)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, errb.Wrapf(err, "decode response")
		}
	}
	return resp.StatusCode, nil
}

// bearerTransport adds the stored session token
type bearerTransport struct {
	client *Client
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cred, err := t.client.Credential()
	if err != nil {
		return nil, err
	}
	if cred != nil {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	return t.client.base.RoundTrip(req)
}
