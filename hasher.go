package userauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hashing algorithms accepted by NewHasher
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

const (
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

// PasswordHasher produces and checks one-way password digests.
//
// Verify returns (false, nil) on mismatch and an error only when the digest
// itself cannot be parsed.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) (bool, error)

	// NeedsRehash reports whether digest was produced with a different
	// algorithm or weaker parameters than the hasher currently uses
	NeedsRehash(digest string) bool
}

// BcryptHasher hashes passwords with bcrypt at a fixed cost
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a bcrypt hasher. A zero cost selects bcrypt.DefaultCost
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", validationError("password", "password cannot be empty")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.Cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", validationError("password", "password must be at most %d bytes", MaxPasswordLength)
	}
	if err != nil {
		return "", oops.Code("HASH_FAILED").With("algorithm", AlgorithmBcrypt).Wrap(err)
	}
	return string(out), nil
}

func (h *BcryptHasher) Verify(plaintext, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, oops.Code("INVALID_HASH").With("algorithm", AlgorithmBcrypt).Wrap(err)
}

func (h *BcryptHasher) NeedsRehash(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost != h.Cost
}

// Argon2idHasher hashes passwords with argon2id and encodes them in PHC format:
//
//	$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
type Argon2idHasher struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// NewArgon2idHasher returns an argon2id hasher; zero values pick OWASP defaults
func NewArgon2idHasher(time, memoryKiB uint32, threads uint8) *Argon2idHasher {
	if time == 0 {
		time = 1
	}
	if memoryKiB == 0 {
		memoryKiB = 64 * 1024
	}
	if threads == 0 {
		threads = 4
	}
	return &Argon2idHasher{Time: time, MemoryKiB: memoryKiB, Threads: threads}
}

func (h *Argon2idHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", validationError("password", "password cannot be empty")
	}
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("HASH_FAILED").With("algorithm", AlgorithmArgon2id).Wrap(err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, h.Time, h.MemoryKiB, h.Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.MemoryKiB, h.Time, h.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

type argon2Params struct {
	memory, time uint32
	threads      uint8
	salt, key    []byte
}

func parseArgon2id(digest string) (*argon2Params, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != AlgorithmArgon2id {
		return nil, oops.Code("INVALID_HASH").Errorf("not an argon2id digest")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, oops.Code("INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return nil, oops.Code("INVALID_HASH").Errorf("unsupported argon2 version %d", version)
	}
	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return nil, oops.Code("INVALID_HASH").Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return nil, oops.Code("INVALID_HASH").Errorf("invalid thread count %d", threads)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, oops.Code("INVALID_HASH").Wrap(err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, oops.Code("INVALID_HASH").Wrap(err)
	}
	if len(key) == 0 || len(key) > 1<<10 {
		return nil, oops.Code("INVALID_HASH").Errorf("invalid key length %d", len(key))
	}
	return &argon2Params{memory: memory, time: time, threads: uint8(threads), salt: salt, key: key}, nil
}

func (h *Argon2idHasher) Verify(plaintext, digest string) (bool, error) {
	p, err := parseArgon2id(digest)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(plaintext), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

func (h *Argon2idHasher) NeedsRehash(digest string) bool {
	p, err := parseArgon2id(digest)
	if err != nil {
		return true
	}
	return p.memory != h.MemoryKiB || p.time != h.Time || p.threads != h.Threads
}

// MultiHasher hashes with Primary and verifies digests from any supported
// algorithm, so switching algorithms upgrades users on their next login.
type MultiHasher struct {
	Primary PasswordHasher
	bcrypt  *BcryptHasher
	argon   *Argon2idHasher
}

// NewMultiHasher wraps primary with fallbacks for bcrypt and argon2id digests
func NewMultiHasher(primary PasswordHasher) *MultiHasher {
	return &MultiHasher{
		Primary: primary,
		bcrypt:  NewBcryptHasher(0),
		argon:   NewArgon2idHasher(0, 0, 0),
	}
}

func (h *MultiHasher) Hash(plaintext string) (string, error) {
	return h.Primary.Hash(plaintext)
}

func (h *MultiHasher) Verify(plaintext, digest string) (bool, error) {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		return h.argon.Verify(plaintext, digest)
	case strings.HasPrefix(digest, "$2"):
		return h.bcrypt.Verify(plaintext, digest)
	}
	return false, oops.Code("INVALID_HASH").Errorf("unrecognized digest format")
}

func (h *MultiHasher) NeedsRehash(digest string) bool {
	return h.Primary.NeedsRehash(digest)
}

// NewHasher builds the hasher selected by settings
func NewHasher(settings HasherSettings) (PasswordHasher, error) {
	var primary PasswordHasher
	switch strings.ToLower(settings.Algorithm) {
	case "", AlgorithmBcrypt:
		if settings.BcryptCost != 0 && (settings.BcryptCost < bcrypt.MinCost || settings.BcryptCost > bcrypt.MaxCost) {
			return nil, validationError("hasher.bcrypt_cost", "bcrypt cost %d out of range", settings.BcryptCost)
		}
		primary = NewBcryptHasher(settings.BcryptCost)
	case AlgorithmArgon2id:
		primary = NewArgon2idHasher(settings.Argon2Time, settings.Argon2MemoryKiB, settings.Argon2Threads)
	default:
		return nil, validationError("hasher.algorithm", "unsupported algorithm %q", settings.Algorithm)
	}
	return NewMultiHasher(primary), nil
}
