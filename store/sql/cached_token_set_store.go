package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-ticketmail/core"
)

const tokenSetCacheKeyPrefix = "go-ticketmail::token_set::v1"

// CachedTokenSetStore serves Latest from a read-through cache and evicts the
// connection entry on every write.
type CachedTokenSetStore struct {
	base  core.TokenSetStore
	cache repositorycache.CacheService
}

func NewCachedTokenSetStore(base core.TokenSetStore, cacheService repositorycache.CacheService) (*CachedTokenSetStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base token set store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: token set cache service is required")
	}
	return &CachedTokenSetStore{base: base, cache: cacheService}, nil
}

// TokenSetCacheKey returns go-ticketmail::token_set::v1::<connection_id>.
func TokenSetCacheKey(connectionID string) (string, error) {
	trimmed := strings.TrimSpace(connectionID)
	if trimmed == "" {
		return "", fmt.Errorf("sqlstore: connection id is required")
	}
	return tokenSetCacheKeyPrefix + "::" + url.PathEscape(trimmed), nil
}

func (s *CachedTokenSetStore) Append(ctx context.Context, in core.SaveTokenSetInput) (core.TokenSet, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TokenSet{}, fmt.Errorf("sqlstore: cached token set store is not configured")
	}
	created, err := s.base.Append(ctx, in)
	if err != nil {
		return core.TokenSet{}, err
	}
	if err := s.evict(ctx, in.ConnectionID); err != nil {
		return core.TokenSet{}, err
	}
	return created, nil
}

func (s *CachedTokenSetStore) Latest(ctx context.Context, connectionID string) (core.TokenSet, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.TokenSet{}, fmt.Errorf("sqlstore: cached token set store is not configured")
	}
	cacheKey, err := TokenSetCacheKey(connectionID)
	if err != nil {
		return core.TokenSet{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.TokenSet, error) {
		return s.base.Latest(ctx, strings.TrimSpace(connectionID))
	})
}

func (s *CachedTokenSetStore) DeleteAll(ctx context.Context, connectionID string) (int, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return 0, fmt.Errorf("sqlstore: cached token set store is not configured")
	}
	removed, err := s.base.DeleteAll(ctx, connectionID)
	if err != nil {
		return 0, err
	}
	if err := s.evict(ctx, connectionID); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *CachedTokenSetStore) evict(ctx context.Context, connectionID string) error {
	cacheKey, err := TokenSetCacheKey(connectionID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}
