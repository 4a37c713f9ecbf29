// Package httpauth exposes a Service over plain net/http: JSON (or form)
// endpoints for login, signup, logout, password reset and email
// confirmation, a session middleware, and the social login redirects.
package httpauth
