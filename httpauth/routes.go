package httpauth

import (
	"net/http"
	"sort"

	"github.com/panyam/userauth/social"
)

// Routes mounts the auth endpoints on a ServeMux:
//
//	POST /auth/login                  LocalAuth.ServeHTTP
//	POST /auth/signup                 LocalAuth.HandleSignup
//	POST /auth/logout                 LocalAuth.HandleLogout (session required)
//	POST /auth/change-password        LocalAuth.HandleChangePassword (session required)
//	POST /auth/forgot-password        LocalAuth.HandleForgotPassword
//	POST /auth/resend-validation      LocalAuth.HandleResendValidation
//	GET  /users/validate-email/{token}
//	POST /users/reset-password/{token}
//	GET  /auth/{provider}             social redirect, one per provider
//	GET  /auth/{provider}/callback
//
// The email link paths match the links built by the Service.
type Routes struct {
	Local      *LocalAuth
	Middleware *Middleware
	Social     *social.Flow
}

// Register adds every route to mux
func (rt *Routes) Register(mux *http.ServeMux) {
	l, m := rt.Local, rt.Middleware
	mux.Handle("POST /auth/login", l)
	mux.HandleFunc("POST /auth/signup", l.HandleSignup)
	mux.Handle("POST /auth/logout", m.EnsureUser(http.HandlerFunc(l.HandleLogout)))
	mux.Handle("POST /auth/change-password", m.EnsureUser(http.HandlerFunc(l.HandleChangePassword)))
	mux.HandleFunc("POST /auth/forgot-password", l.HandleForgotPassword)
	mux.HandleFunc("POST /auth/resend-validation", l.HandleResendValidation)
	mux.HandleFunc("GET /users/validate-email/{token}", l.HandleVerifyEmail)
	mux.HandleFunc("POST /users/reset-password/{token}", l.HandleResetPassword)

	if rt.Social == nil {
		return
	}
	if rt.Social.OnSession == nil {
		rt.Social.OnSession = l.WriteSession
	}
	names := make([]string, 0, len(rt.Social.Providers))
	for name := range rt.Social.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mux.HandleFunc("GET /auth/"+name, rt.Social.Redirect(name))
		mux.HandleFunc("GET /auth/"+name+"/callback", rt.Social.Callback(name))
	}
}

// Handler returns a ServeMux with the routes registered
func (rt *Routes) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.Register(mux)
	return mux
}
