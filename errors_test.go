package userauth_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	ua "github.com/panyam/userauth"
)

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "", ua.ErrorCode(nil))
	assert.Equal(t, "", ua.ErrorCode(errors.New("plain")))
	assert.Equal(t, ua.CodeValidation, ua.ErrorCode(ua.ValidatePassword("a", 8)))

	wrapped := fmt.Errorf("outer: %w", oops.Code(ua.CodeNotFound).Wrap(ua.ErrNotFound))
	assert.Equal(t, ua.CodeNotFound, ua.ErrorCode(wrapped))
	assert.ErrorIs(t, wrapped, ua.ErrNotFound)
}

func TestValidationErrorCarriesField(t *testing.T) {
	err := ua.ValidateEmail("nope")
	assert.ErrorIs(t, err, ua.ErrValidation)
	oopsErr, ok := oops.AsOops(err)
	if assert.True(t, ok) {
		assert.Equal(t, "email", oopsErr.Context()["field"])
	}
}
