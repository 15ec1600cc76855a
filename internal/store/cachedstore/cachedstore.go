// Package cachedstore layers internal/store/cache's Redis acceleration over
// a backing store.Store, overriding only the identifier lookups the
// dispatcher's "resolve to-param" step (spec.md §4.1 step 2) hits on every
// structured-addressing request. Every other method delegates straight
// through to the embedded backing store, mirroring the teacher's thin
// decorator style (infrastructure/middleware wrapping http.Handler) applied
// to a storage interface instead of a handler.
package cachedstore

import (
	"context"

	"github.com/onem2m-cse/cse/internal/store"
	"github.com/onem2m-cse/cse/internal/store/cache"
)

// Store wraps a backing store.Store with a *cache.Cache read-through/
// write-through layer for the srn->ri index. A nil Cache makes New a
// transparent pass-through, so callers can enable Redis purely via config.
type Store struct {
	store.Store
	cache *cache.Cache
}

// New builds a cache-accelerated Store. backing must not be nil; c may be
// nil to disable acceleration.
func New(backing store.Store, c *cache.Cache) *Store {
	return &Store{Store: backing, cache: c}
}

// PutIdentifier writes through to the backing store, then primes the cache
// so the next GetRIBySRN for this entry's srn is a hit.
func (s *Store) PutIdentifier(ctx context.Context, entry store.IdentifierEntry) error {
	if err := s.Store.PutIdentifier(ctx, entry); err != nil {
		return err
	}
	if s.cache != nil && entry.SRN != "" {
		_ = s.cache.PutSRN(ctx, entry.SRN, entry.RI)
	}
	return nil
}

// GetRIBySRN checks the cache before falling back to the backing store,
// populating the cache on a miss.
func (s *Store) GetRIBySRN(ctx context.Context, srn string) (string, error) {
	if s.cache != nil {
		if ri, ok, err := s.cache.GetSRN(ctx, srn); err == nil && ok {
			return ri, nil
		}
	}
	ri, err := s.Store.GetRIBySRN(ctx, srn)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		_ = s.cache.PutSRN(ctx, srn, ri)
	}
	return ri, nil
}

// DeleteIdentifier write-throughs the deletion and invalidates the cached
// srn entry, looking it up first so a stale cache entry doesn't survive a
// delete.
func (s *Store) DeleteIdentifier(ctx context.Context, ri string) error {
	if s.cache != nil {
		if entry, err := s.Store.GetIdentifierByRI(ctx, ri); err == nil {
			_ = s.cache.InvalidateSRN(ctx, entry.SRN)
		}
	}
	return s.Store.DeleteIdentifier(ctx, ri)
}
