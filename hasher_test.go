package userauth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ua "github.com/panyam/userauth"
)

// cheap argon2 parameters keep the suite fast
func fastArgon() *ua.Argon2idHasher { return ua.NewArgon2idHasher(1, 1024, 1) }

func TestBcryptHasher(t *testing.T) {
	h := ua.NewBcryptHasher(4)

	digest, err := h.Hash("correct-horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$2"))
	assert.NotContains(t, digest, "correct-horse")

	ok, err := h.Verify("correct-horse", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong-horse", digest)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.False(t, h.NeedsRehash(digest))
	assert.True(t, ua.NewBcryptHasher(5).NeedsRehash(digest))

	_, err = h.Verify("x", "not-a-digest")
	assert.Error(t, err)

	_, err = h.Hash("")
	assert.ErrorIs(t, err, ua.ErrValidation)

	_, err = h.Hash(strings.Repeat("a", ua.MaxPasswordLength))
	assert.NoError(t, err)
	_, err = h.Hash(strings.Repeat("a", ua.MaxPasswordLength+8))
	assert.ErrorIs(t, err, ua.ErrValidation)
	assert.Equal(t, ua.ExitValidation, ua.ExitCode(err))
}

func TestArgon2idHasher(t *testing.T) {
	h := fastArgon()

	digest, err := h.Hash("correct-horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=1024,t=1,p=1$"), digest)

	ok, err := h.Verify("correct-horse", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", digest)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := h.Hash("correct-horse")
	require.NoError(t, err)
	assert.NotEqual(t, digest, again, "salts must differ")

	assert.False(t, h.NeedsRehash(digest))
	assert.True(t, ua.NewArgon2idHasher(2, 1024, 1).NeedsRehash(digest))

	for _, bad := range []string{"", "$argon2id$v=19$m=1,t=1$x$y", "$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5", "$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5"} {
		_, err := h.Verify("x", bad)
		assert.Error(t, err, bad)
	}
}

func TestMultiHasher_VerifiesEitherFormat(t *testing.T) {
	bcryptDigest, err := ua.NewBcryptHasher(4).Hash("pw-12345678")
	require.NoError(t, err)
	argonDigest, err := ua.NewArgon2idHasher(1, 1024, 1).Hash("pw-12345678")
	require.NoError(t, err)

	m := ua.NewMultiHasher(fastArgon())
	for _, d := range []string{bcryptDigest, argonDigest} {
		ok, err := m.Verify("pw-12345678", d)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.True(t, m.NeedsRehash(bcryptDigest), "bcrypt digests upgrade to the primary algorithm")
	assert.False(t, m.NeedsRehash(argonDigest))

	_, err = m.Verify("pw", "plaintext")
	assert.Error(t, err)
}

func TestNewHasher(t *testing.T) {
	tests := []struct {
		name     string
		settings ua.HasherSettings
		prefix   string
		wantErr  bool
	}{
		{name: "default is bcrypt", settings: ua.HasherSettings{BcryptCost: 4}, prefix: "$2"},
		{name: "argon2id", settings: ua.HasherSettings{Algorithm: "ARGON2ID", Argon2Time: 1, Argon2MemoryKiB: 1024, Argon2Threads: 1}, prefix: "$argon2id$"},
		{name: "unknown algorithm", settings: ua.HasherSettings{Algorithm: "md5"}, wantErr: true},
		{name: "bcrypt cost too high", settings: ua.HasherSettings{BcryptCost: 99}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ua.NewHasher(tt.settings)
			if tt.wantErr {
				assert.ErrorIs(t, err, ua.ErrValidation)
				return
			}
			require.NoError(t, err)
			digest, err := h.Hash("pw-12345678")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(digest, tt.prefix), digest)
		})
	}
}
