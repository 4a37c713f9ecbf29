package social

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	ua "github.com/panyam/userauth"
)

const stateCookieName = "oauthstate"

// Flow runs the redirect and callback halves of a social login against a
// Service. OnSession receives the authenticated session; OnError receives
// exchange and login failures.
type Flow struct {
	Service   *ua.Service
	Providers map[string]Provider
	OnSession func(w http.ResponseWriter, r *http.Request, sess *ua.Session)
	OnError   func(w http.ResponseWriter, r *http.Request, err error)
	Logger    *slog.Logger
}

func (f *Flow) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

func generateStateCookie(w http.ResponseWriter) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.URLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

// Redirect sends the browser to the provider's consent page
func (f *Flow) Redirect(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := f.Providers[name]
		if !ok {
			http.Error(w, "unknown provider", http.StatusNotFound)
			return
		}
		state, err := generateStateCookie(w)
		if err != nil {
			http.Error(w, "state generation failed", http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, p.AuthCodeURL(state), http.StatusFound)
	}
}

// Callback checks the state cookie, exchanges the code and logs the user in
func (f *Flow) Callback(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := f.Providers[name]
		if !ok {
			http.Error(w, "unknown provider", http.StatusNotFound)
			return
		}
		cookie, _ := r.Cookie(stateCookieName)
		if cookie == nil || r.FormValue("state") != cookie.Value {
			http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/", MaxAge: -1})
			http.Error(w, "invalid oauth state", http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/", MaxAge: -1})

		ident, err := p.Exchange(r.Context(), r.FormValue("code"))
		if err != nil {
			f.fail(w, r, name, err)
			return
		}
		sess, err := f.Service.SocialLogin(r.Context(), ident.Provider, ident.ExternalID, ident.Profile)
		if err != nil {
			f.fail(w, r, name, err)
			return
		}
		if f.OnSession != nil {
			f.OnSession(w, r, sess)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (f *Flow) fail(w http.ResponseWriter, r *http.Request, provider string, err error) {
	f.logger().Info("social login failed", "provider", provider, "code", ua.ErrorCode(err), "err", err)
	if f.OnError != nil {
		f.OnError(w, r, err)
		return
	}
	http.Error(w, "login failed", http.StatusUnauthorized)
}
