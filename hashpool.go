package userauth

import (
	"context"
	"runtime"

	"github.com/samber/oops"
	"golang.org/x/sync/semaphore"
)

// HashPool bounds how many hash or verify computations run at once.
type HashPool struct {
	hasher PasswordHasher
	sem    *semaphore.Weighted
}

// NewHashPool wraps hasher with a limit of n concurrent computations.
// n <= 0 uses GOMAXPROCS.
func NewHashPool(hasher PasswordHasher, n int) *HashPool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &HashPool{hasher: hasher, sem: semaphore.NewWeighted(int64(n))}
}

func (p *HashPool) acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return oops.Code("HASH_POOL_CANCELLED").Wrap(err)
	}
	return nil
}

// Hash computes a digest once a slot is free
func (p *HashPool) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := p.acquire(ctx); err != nil {
		return "", err
	}
	defer p.sem.Release(1)
	return p.hasher.Hash(plaintext)
}

// Verify checks plaintext against digest once a slot is free
func (p *HashPool) Verify(ctx context.Context, plaintext, digest string) (bool, error) {
	if err := p.acquire(ctx); err != nil {
		return false, err
	}
	defer p.sem.Release(1)
	return p.hasher.Verify(plaintext, digest)
}

func (p *HashPool) NeedsRehash(digest string) bool {
	return p.hasher.NeedsRehash(digest)
}
