package cache

import (
	"context"
	"log/slog"
	"time"
)

const (
	LocationTTL = 30 * time.Minute
	SearchTTL   = 10 * time.Minute
	AITTL       = time.Hour
)

// Producer fetches the value for a cache miss.
type Producer[T any] func(ctx context.Context) (T, error)

// Memoize returns the cached value for (prefix, params) or calls produce and
// caches its result. A failed produce is returned unchanged and nothing is
// written. A ttl <= 0 uses the store default.
func Memoize[T any](ctx context.Context, s *Store, prefix string, params Params, produce Producer[T], ttl time.Duration) (T, error) {
	return memoizeKey(ctx, s, DeriveKey(prefix, params), produce, ttl)
}

func memoizeKey[T any](ctx context.Context, s *Store, key string, produce Producer[T], ttl time.Duration) (T, error) {
	if v, ok := s.Read(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
		slog.Warn("cache entry has unexpected type, refetching", "key", key)
	}

	if !s.singleFlight {
		return produceAndWrite(ctx, s, key, produce, ttl)
	}

	// The shared call outlives any single caller: a caller whose ctx ends
	// stops waiting, the others still get the result.
	ch := s.group.DoChan(key, func() (any, error) {
		return produceAndWrite(context.WithoutCancel(ctx), s, key, produce, ttl)
	})
	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		typed, _ := res.Val.(T)
		return typed, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func produceAndWrite[T any](ctx context.Context, s *Store, key string, produce Producer[T], ttl time.Duration) (T, error) {
	v, err := produce(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	s.Write(key, v, ttl)
	return v, nil
}

func orDefault(ttl, fallback time.Duration) time.Duration {
	if ttl <= 0 {
		return fallback
	}
	return ttl
}

// CacheLocationData memoizes per-location data on a 3-decimal grid so nearby
// points share an entry. Default TTL is 30 minutes.
func CacheLocationData[T any](ctx context.Context, s *Store, lat, lng float64, dataType string, produce Producer[T], ttl time.Duration) (T, error) {
	return Memoize(ctx, s, LocationPrefix(dataType), locationParams(lat, lng), produce, orDefault(ttl, LocationTTL))
}

// CacheSearchResults memoizes free-text search results keyed by the
// lowercased, trimmed query. Default TTL is 10 minutes.
func CacheSearchResults[T any](ctx context.Context, s *Store, query string, produce Producer[T], ttl time.Duration) (T, error) {
	return Memoize(ctx, s, PrefixSearch, searchParams(query), produce, orDefault(ttl, SearchTTL))
}

// CacheAIResponse memoizes generated text keyed by the first 100 characters
// of the prompt, the user mode and the language. Default TTL is one hour.
func CacheAIResponse[T any](ctx context.Context, s *Store, prompt, userMode, lang string, produce Producer[T], ttl time.Duration) (T, error) {
	return Memoize(ctx, s, PrefixAIResponse, aiParams(prompt, userMode, lang), produce, orDefault(ttl, AITTL))
}
