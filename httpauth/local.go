package httpauth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	ua "github.com/panyam/userauth"
)

// DefaultSessionCookie carries the session token for browser clients
const DefaultSessionCookie = "userauth_session"

// LocalAuth serves username/password endpoints on top of a Service
type LocalAuth struct {
	Service *ua.Service

	// Field names accepted for login. Email addresses are accepted in the
	// username field.
	UsernameField string
	PasswordField string

	// CookieName is the session cookie set on login. Empty disables cookies.
	CookieName   string
	CookieSecure bool

	// OnSession replaces the default JSON response after a successful
	// login or signup
	OnSession func(w http.ResponseWriter, r *http.Request, sess *ua.Session)

	OnLoginError  ErrorHandler
	OnSignupError ErrorHandler

	Logger *slog.Logger
}

func (a *LocalAuth) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *LocalAuth) usernameField() string {
	if a.UsernameField != "" {
		return a.UsernameField
	}
	return "username"
}

func (a *LocalAuth) passwordField() string {
	if a.PasswordField != "" {
		return a.PasswordField
	}
	return "password"
}

// ServeHTTP handles login requests
func (a *LocalAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uf, pf := a.usernameField(), a.passwordField()
	fields, authErr := readFields(r, uf, pf)
	if authErr == nil {
		authErr = required(fields, uf, pf)
	}
	if authErr != nil {
		writeError(w, r, authErr, a.OnLoginError)
		return
	}

	sess, err := a.Service.Login(r.Context(), fields[uf], fields[pf])
	if err != nil {
		authErr := FromError(err)
		if authErr.Status == http.StatusUnauthorized {
			authErr.Field = pf
		}
		writeError(w, r, authErr, a.OnLoginError)
		return
	}
	a.WriteSession(w, r, sess)
}

// HandleSignup registers a local account. With email confirmation required
// the account is created inactive and no session is issued.
func (a *LocalAuth) HandleSignup(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "username", "email", "password", "first_name", "last_name")
	if authErr == nil {
		authErr = required(fields, "username", "password")
	}
	if authErr != nil {
		writeError(w, r, authErr, a.OnSignupError)
		return
	}

	ctx := r.Context()
	user, err := a.Service.Register(ctx, ua.RegisterRequest{
		Username:  fields["username"],
		Email:     fields["email"],
		Password:  fields["password"],
		FirstName: fields["first_name"],
		LastName:  fields["last_name"],
	})
	if err != nil {
		writeError(w, r, FromError(err), a.OnSignupError)
		return
	}

	if !user.IsActive {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"message": "User created. Please check your email to verify your account.",
			"user_id": user.ID,
		})
		return
	}
	sess, err := a.Service.Login(ctx, fields["username"], fields["password"])
	if err != nil {
		writeError(w, r, FromError(err), a.OnSignupError)
		return
	}
	a.WriteSession(w, r, sess)
}

// WriteSession sets the session cookie and answers with the session token,
// or hands the session to OnSession
func (a *LocalAuth) WriteSession(w http.ResponseWriter, r *http.Request, sess *ua.Session) {
	if a.CookieName != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     a.CookieName,
			Value:    sess.Token,
			Path:     "/",
			Expires:  sess.ExpiresAt,
			HttpOnly: true,
			Secure:   a.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	if a.OnSession != nil {
		a.OnSession(w, r, sess)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    sess.UserID,
		"provider":   sess.Provider,
		"token":      sess.Token,
		"expires_at": sess.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// HandleLogout ends the session put in the request context by Middleware
func (a *LocalAuth) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		writeError(w, r, &AuthError{Code: ua.CodeInvalidCredentials, Message: "not authenticated", Status: http.StatusUnauthorized}, nil)
		return
	}
	if err := a.Service.Logout(r.Context(), sess); err != nil {
		writeError(w, r, FromError(err), nil)
		return
	}
	if a.CookieName != "" {
		http.SetCookie(w, &http.Cookie{Name: a.CookieName, Value: "", Path: "/", MaxAge: -1, Expires: time.Unix(0, 0)})
	}
	if to := r.URL.Query().Get("to"); to != "" && isLocalPath(to) {
		http.Redirect(w, r, to, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleChangePassword sets a new password for the logged in user
func (a *LocalAuth) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, r, &AuthError{Code: ua.CodeInvalidCredentials, Message: "not authenticated", Status: http.StatusUnauthorized}, nil)
		return
	}
	fields, authErr := readFields(r, "password")
	if authErr == nil {
		authErr = required(fields, "password")
	}
	if authErr != nil {
		writeError(w, r, authErr, nil)
		return
	}
	if err := a.Service.ChangePassword(r.Context(), userID, fields["password"]); err != nil {
		writeError(w, r, FromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password changed"})
}

// HandleVerifyEmail consumes the token from the confirmation link
func (a *LocalAuth) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeError(w, r, NewAuthError("MISSING_FIELD", "token is required", "token"), nil)
		return
	}
	user, err := a.Service.ConfirmEmail(r.Context(), token)
	if err != nil {
		writeError(w, r, FromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Email verified successfully",
		"user_id": user.ID,
	})
}

// HandleResendValidation mails a fresh confirmation link. Like
// HandleForgotPassword it answers the same for unknown, verified and
// inactive accounts.
func (a *LocalAuth) HandleResendValidation(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "username")
	if authErr == nil {
		authErr = required(fields, "username")
	}
	if authErr != nil {
		writeError(w, r, authErr, nil)
		return
	}
	if _, err := a.Service.ResendValidation(r.Context(), fields["username"]); err != nil {
		switch {
		case errors.Is(err, ua.ErrNotFound),
			errors.Is(err, ua.ErrValidation),
			errors.Is(err, ua.ErrAccountInactive):
			a.logger().InfoContext(r.Context(), "verification resend skipped", "error", err)
		default:
			a.logger().ErrorContext(r.Context(), "verification resend failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If that account needs verification, a link has been sent",
	})
}

// HandleForgotPassword mails a reset link. The answer is the same whether
// or not the account exists.
func (a *LocalAuth) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "username")
	if authErr == nil {
		authErr = required(fields, "username")
	}
	if authErr != nil {
		writeError(w, r, authErr, nil)
		return
	}
	if _, err := a.Service.RequestPasswordReset(r.Context(), fields["username"]); err != nil {
		a.logger().ErrorContext(r.Context(), "password reset request failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If that account exists, a reset link has been sent",
	})
}

// HandleResetPassword consumes a reset token and stores the new password
func (a *LocalAuth) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	fields, authErr := readFields(r, "token", "password")
	if authErr != nil {
		writeError(w, r, authErr, nil)
		return
	}
	if t := r.PathValue("token"); t != "" {
		fields["token"] = t
	}
	if authErr := required(fields, "token", "password"); authErr != nil {
		writeError(w, r, authErr, nil)
		return
	}
	if err := a.Service.ResetPassword(r.Context(), fields["token"], fields["password"]); err != nil {
		writeError(w, r, FromError(err), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Password reset successfully"})
}

func isLocalPath(p string) bool {
	return len(p) > 0 && p[0] == '/' && (len(p) == 1 || (p[1] != '/' && p[1] != '\\'))
}
