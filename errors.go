package userauth

import (
	"errors"

	"github.com/samber/oops"
)

// Sentinel errors returned by stores and the service. Callers should match
// them with errors.Is; concrete errors carry an oops code and context.
var (
	ErrNotFound              = errors.New("not found")
	ErrDuplicateUsername     = errors.New("username already taken")
	ErrDuplicateEmail        = errors.New("email already registered")
	ErrInvalidCredentials    = errors.New("invalid username or password")
	ErrAccountInactive       = errors.New("account is inactive")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenConsumed         = errors.New("token already used")
	ErrAlreadyLinked         = errors.New("social identity linked to another user")
	ErrProviderAlreadyLinked = errors.New("provider already linked to this user")
	ErrValidation            = errors.New("validation failed")
)

// Error codes attached to wrapped sentinels.
const (
	CodeNotFound              = "NOT_FOUND"
	CodeDuplicateUsername     = "DUPLICATE_USERNAME"
	CodeDuplicateEmail        = "DUPLICATE_EMAIL"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodeAccountInactive       = "ACCOUNT_INACTIVE"
	CodeTokenExpired          = "TOKEN_EXPIRED"
	CodeTokenConsumed         = "TOKEN_CONSUMED"
	CodeAlreadyLinked         = "ALREADY_LINKED"
	CodeProviderAlreadyLinked = "PROVIDER_ALREADY_LINKED"
	CodeValidation            = "VALIDATION_FAILED"
)

// validationError wraps ErrValidation with a field and a human readable reason.
func validationError(field, format string, args ...any) error {
	return oops.Code(CodeValidation).
		With("field", field).
		Wrapf(ErrValidation, format, args...)
}

// ErrorCode returns the oops code carried by err, or "" when there is none.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}
