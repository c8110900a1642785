// Package cache implements component E: content-addressed storage for
// completed model calls, keyed by Fingerprint, with a single-flight contract
// so concurrent callers for the same key never issue duplicate upstream
// calls. Grounded on the teacher's internal/pkg/xcache (gocache-backed
// memory/redis/two-level store construction) and internal/pkg/xcache/live
// (golang.org/x/sync/singleflight dedup pattern), generalized from the
// teacher's config-cache use case to spec.md §4.E's request/response cache.
package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	cachelib "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	gocache_store "github.com/eko/gocache/store/go_cache/v4"
	gocache "github.com/patrickmn/go-cache"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/log"
)

// Entry is one cached model call: the downstream request/response plus the
// provider-agnostic output spec.md §4.E names.
type Entry struct {
	RawRequest   string                       `json:"raw_request"`
	RawResponse  string                       `json:"raw_response"`
	Output       []gwtypes.ContentBlockOutput `json:"output"`
	Usage        gwtypes.Usage                `json:"usage"`
	FinishReason gwtypes.FinishReason         `json:"finish_reason"`
	StoredAt     time.Time                    `json:"stored_at"`
}

// Mode selects the cache backend.
type Mode string

const (
	ModeOff      Mode = ""
	ModeMemory   Mode = "memory"
	ModeRedis    Mode = "redis"
	ModeTwoLevel Mode = "two-level"
)

// MemoryConfig configures the in-memory backend.
type MemoryConfig struct {
	Expiration      time.Duration
	CleanupInterval time.Duration
}

// RedisConfig configures the distributed backend.
type RedisConfig struct {
	Addr                  string
	URL                   string
	Username              string
	Password              string
	DB                    int
	TLS                   bool
	TLSInsecureSkipVerify bool
	Expiration            time.Duration
}

// Config selects and configures a Store.
type Config struct {
	Mode   Mode
	Memory MemoryConfig
	Redis  RedisConfig
}

// Store is the component-E cache surface: fingerprint-keyed lookup with a
// read-side age filter, fire-and-forget write, and single-flight build.
type Store struct {
	backend cachelib.CacheInterface[Entry]
	sf      singleflight.Group
}

// New builds a Store from cfg. An empty Mode yields a store whose Lookup
// always misses and whose StartWrite is a no-op — equivalent to caching
// disabled, without requiring callers to nil-check.
func New(cfg Config) (*Store, error) {
	backend, err := buildBackend(cfg)
	if err != nil {
		return nil, err
	}

	return &Store{backend: backend}, nil
}

func buildBackend(cfg Config) (cachelib.CacheInterface[Entry], error) {
	switch cfg.Mode {
	case ModeOff, "":
		return noopBackend{}, nil
	case ModeMemory:
		return newMemoryBackend(cfg.Memory), nil
	case ModeRedis:
		rds, err := newRedisBackend(cfg.Redis)
		if err != nil {
			return nil, err
		}

		return rds, nil
	case ModeTwoLevel:
		rds, err := newRedisBackend(cfg.Redis)
		if err != nil {
			return nil, err
		}

		mem := newMemoryBackend(cfg.Memory)

		return cachelib.NewChain[Entry](mem, rds), nil
	default:
		return nil, fmt.Errorf("cache: unknown mode %q", cfg.Mode)
	}
}

func newMemoryBackend(cfg MemoryConfig) cachelib.SetterCacheInterface[Entry] {
	expiration := defaultIfZero(cfg.Expiration, 5*time.Minute)
	cleanup := defaultIfZero(cfg.CleanupInterval, 10*time.Minute)

	client := gocache.New(expiration, cleanup)
	s := gocache_store.NewGoCache(client, store.WithExpiration(expiration))

	return cachelib.New[Entry](s)
}

func newRedisBackend(cfg RedisConfig) (cachelib.SetterCacheInterface[Entry], error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	expiration := defaultIfZero(cfg.Expiration, 30*time.Minute)
	s := newRedisStore[Entry](client, store.WithExpiration(expiration))

	return cachelib.New[Entry](s), nil
}

func defaultIfZero(d, def time.Duration) time.Duration {
	if d == 0 {
		return def
	}

	return d
}

func redisOptions(cfg RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{}

	switch {
	case cfg.URL != "":
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("cache: parse redis url: %w", err)
		}

		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return nil, fmt.Errorf("cache: unsupported redis scheme %q", u.Scheme)
		}

		opts.Addr = u.Host

		if u.User != nil {
			opts.Username = u.User.Username()
			if pwd, ok := u.User.Password(); ok {
				opts.Password = pwd
			}
		}

		if path := strings.TrimPrefix(u.Path, "/"); path != "" {
			db, err := strconv.Atoi(path)
			if err != nil {
				return nil, fmt.Errorf("cache: invalid redis db in url: %w", err)
			}

			opts.DB = db
		}

		if u.Scheme == "rediss" {
			opts.TLSConfig = &tls.Config{InsecureSkipVerify: cfg.TLSInsecureSkipVerify} //nolint:gosec
		}
	case cfg.Addr != "":
		opts.Addr = cfg.Addr
	default:
		return nil, errors.New("cache: redis addr or url is required")
	}

	if cfg.Username != "" {
		opts.Username = cfg.Username
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}

	if cfg.TLS && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: cfg.TLSInsecureSkipVerify} //nolint:gosec
	}

	return opts, nil
}

// Lookup reads the entry for fingerprint. maxAge, when non-nil, rejects
// entries older than maxAge (spec.md §4.E read filter).
func (s *Store) Lookup(ctx context.Context, fingerprint string, maxAge *time.Duration) (Entry, bool, error) {
	entry, err := s.backend.Get(ctx, fingerprint)
	if err != nil {
		if store.NotFound(err) {
			return Entry{}, false, nil
		}

		return Entry{}, false, err
	}

	if maxAge != nil && time.Since(entry.StoredAt) > *maxAge {
		return Entry{}, false, nil
	}

	return entry, true, nil
}

// StartWrite fires off a cache write for fingerprint without blocking the
// caller; a failed write is logged, never surfaced (spec.md §4.E:
// "fire-and-forget").
func (s *Store) StartWrite(fingerprint string, entry Entry) {
	entry.StoredAt = time.Now()

	go func() {
		if err := s.backend.Set(context.Background(), fingerprint, entry); err != nil {
			log.Warn(context.Background(), "cache write failed", log.String("fingerprint", fingerprint), log.Cause(err))
		}
	}()
}

// BuildFunc produces the entry to cache when fingerprint misses.
type BuildFunc func(ctx context.Context) (Entry, bool, error)

// GetOrBuild implements the single-flight contract: concurrent callers for
// the same fingerprint share one call to build (spec.md §4.E: "at-most-one
// concurrent upstream build per fingerprint when single-flight is
// requested"). maxAge gates both cache reads (the initial probe and the
// re-check inside the singleflight slot); build's own result is never
// re-filtered by age. readEnabled gates every Lookup this call
// makes (both the initial probe and the post-singleflight re-check): a
// write-only request (readEnabled=false) must always build fresh and must
// never be served a previously-cached response (spec.md §4.E/§4.F stage 4),
// even though it still shares the singleflight slot and still writes its
// result through build's own cacheable flag.
func (s *Store) GetOrBuild(ctx context.Context, fingerprint string, maxAge *time.Duration, readEnabled bool, build BuildFunc) (Entry, bool, error) {
	if readEnabled {
		if entry, hit, err := s.Lookup(ctx, fingerprint, maxAge); err == nil && hit {
			return entry, true, nil
		}
	}

	type result struct {
		entry     Entry
		cacheable bool
	}

	v, err, shared := s.sf.Do(fingerprint, func() (any, error) {
		// Re-check after winning the singleflight race: another goroutine may
		// have completed the build and written the entry while we waited.
		if readEnabled {
			if entry, hit, lookupErr := s.Lookup(ctx, fingerprint, maxAge); lookupErr == nil && hit {
				return result{entry: entry, cacheable: false}, nil
			}
		}

		entry, cacheable, buildErr := build(ctx)
		if buildErr != nil {
			return result{}, buildErr
		}

		if cacheable {
			s.StartWrite(fingerprint, entry)
		}

		return result{entry: entry, cacheable: cacheable}, nil
	})
	if err != nil {
		return Entry{}, false, err
	}

	if shared {
		log.Debug(ctx, "cache build deduplicated via singleflight", log.String("fingerprint", fingerprint))
	}

	r := v.(result) //nolint:forcetypeassert // Do's func always returns result.

	return r.entry, false, nil
}

// noopBackend implements cachelib.CacheInterface[Entry] as an always-miss
// cache, used when caching is disabled so callers never need a nil check.
type noopBackend struct{}

func (noopBackend) Get(ctx context.Context, key any) (Entry, error) {
	return Entry{}, store.NotFoundWithCause(errors.New("cache disabled"))
}

func (noopBackend) Set(ctx context.Context, key any, value Entry, options ...store.Option) error {
	return nil
}

func (noopBackend) Delete(ctx context.Context, key any) error { return nil }

func (noopBackend) Invalidate(ctx context.Context, options ...store.InvalidateOption) error {
	return nil
}

func (noopBackend) Clear(ctx context.Context) error { return nil }

func (noopBackend) GetType() string { return "noop" }
