package httpauth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/samber/oops"

	ua "github.com/panyam/userauth"
)

// AuthError is the JSON body written for failed auth requests
type AuthError struct {
	Message string `json:"error"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
}

func (e *AuthError) Error() string { return e.Message }

// NewAuthError builds an AuthError answered with 400
func NewAuthError(code, message, field string) *AuthError {
	return &AuthError{Code: code, Message: message, Field: field, Status: http.StatusBadRequest}
}

// ErrorHandler may take over the response for an AuthError. Returning false
// falls back to the JSON response.
type ErrorHandler func(err *AuthError, w http.ResponseWriter, r *http.Request) bool

// FromError maps service errors to a status code and client message.
// Unknown errors become a generic 500 so internals do not leak.
func FromError(err error) *AuthError {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	out := &AuthError{Code: ua.ErrorCode(err)}
	switch {
	case errors.Is(err, ua.ErrValidation):
		out.Status, out.Message = http.StatusBadRequest, err.Error()
		if o, ok := oops.AsOops(err); ok {
			out.Field, _ = o.Context()["field"].(string)
		}
	case errors.Is(err, ua.ErrDuplicateUsername):
		out.Status, out.Message, out.Field = http.StatusConflict, ua.ErrDuplicateUsername.Error(), "username"
	case errors.Is(err, ua.ErrDuplicateEmail):
		out.Status, out.Message, out.Field = http.StatusConflict, ua.ErrDuplicateEmail.Error(), "email"
	case errors.Is(err, ua.ErrInvalidCredentials):
		out.Status, out.Message = http.StatusUnauthorized, ua.ErrInvalidCredentials.Error()
	case errors.Is(err, ua.ErrAccountInactive):
		out.Status, out.Message = http.StatusForbidden, ua.ErrAccountInactive.Error()
	case errors.Is(err, ua.ErrTokenExpired), errors.Is(err, ua.ErrTokenConsumed):
		out.Status, out.Message, out.Field = http.StatusGone, err.Error(), "token"
	case errors.Is(err, ua.ErrAlreadyLinked), errors.Is(err, ua.ErrProviderAlreadyLinked):
		out.Status, out.Message = http.StatusConflict, err.Error()
	case errors.Is(err, ua.ErrNotFound):
		out.Status, out.Message = http.StatusNotFound, ua.ErrNotFound.Error()
	default:
		out.Status, out.Message = http.StatusInternalServerError, "internal error"
		if out.Code == "" {
			out.Code = "INTERNAL"
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, err *AuthError, handler ErrorHandler) {
	if handler != nil && handler(err, w, r) {
		return
	}
	status := err.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, err)
}
