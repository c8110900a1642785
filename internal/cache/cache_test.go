package cache_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/tensorzero/gateway/internal/cache"
	"github.com/tensorzero/gateway/internal/gwtypes"
	"github.com/tensorzero/gateway/internal/provider"
)

func TestFingerprint_Deterministic(t *testing.T) {
	a, err := cache.Fingerprint(provider.TypeOpenAI, "gpt-4o", []byte(`{"b":2,"a":1}`))
	require.NoError(t, err)

	b, err := cache.Fingerprint(provider.TypeOpenAI, "gpt-4o", []byte(`{"a":1,"b":2}`))
	require.NoError(t, err)

	require.Equal(t, a, b, "byte-equal-after-canonicalization bodies must fingerprint equal")
}

func TestFingerprint_DiffersByModel(t *testing.T) {
	a, err := cache.Fingerprint(provider.TypeOpenAI, "gpt-4o", []byte(`{"a":1}`))
	require.NoError(t, err)

	b, err := cache.Fingerprint(provider.TypeOpenAI, "gpt-4o-mini", []byte(`{"a":1}`))
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestFingerprint_StripsAuthFields(t *testing.T) {
	a, err := cache.Fingerprint(provider.TypeOpenAI, "gpt-4o", []byte(`{"a":1,"authorization":"secret-1"}`))
	require.NoError(t, err)

	b, err := cache.Fingerprint(provider.TypeOpenAI, "gpt-4o", []byte(`{"a":1,"authorization":"secret-2"}`))
	require.NoError(t, err)

	require.Equal(t, a, b)
}

func TestStore_MemoryLookupMiss(t *testing.T) {
	s, err := cache.New(cache.Config{Mode: cache.ModeMemory})
	require.NoError(t, err)

	_, hit, err := s.Lookup(context.Background(), "nope", nil)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestStore_MemoryWriteThenLookup(t *testing.T) {
	s, err := cache.New(cache.Config{Mode: cache.ModeMemory})
	require.NoError(t, err)

	entry := cache.Entry{RawResponse: `{"ok":true}`, FinishReason: gwtypes.FinishStop}
	s.StartWrite("fp1", entry)

	require.Eventually(t, func() bool {
		got, hit, err := s.Lookup(context.Background(), "fp1", nil)
		return err == nil && hit && got.RawResponse == entry.RawResponse
	}, time.Second, 10*time.Millisecond)
}

func TestStore_MaxAgeFilter(t *testing.T) {
	s, err := cache.New(cache.Config{Mode: cache.ModeMemory})
	require.NoError(t, err)

	entry := cache.Entry{RawResponse: "stale"}
	s.StartWrite("fp-stale", entry)

	require.Eventually(t, func() bool {
		_, hit, _ := s.Lookup(context.Background(), "fp-stale", nil)
		return hit
	}, time.Second, 10*time.Millisecond)

	// StartWrite stamps StoredAt itself, so age the entry past maxAge.
	time.Sleep(20 * time.Millisecond)

	maxAge := 10 * time.Millisecond

	_, hit, err := s.Lookup(context.Background(), "fp-stale", &maxAge)
	require.NoError(t, err)
	require.False(t, hit, "entry older than max_age_s must not be returned")
}

func TestStore_GetOrBuild_SingleFlightDeduplicatesConcurrentBuilds(t *testing.T) {
	s, err := cache.New(cache.Config{Mode: cache.ModeMemory})
	require.NoError(t, err)

	var calls int64

	build := func(ctx context.Context) (cache.Entry, bool, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(50 * time.Millisecond)

		return cache.Entry{RawResponse: "built"}, true, nil
	}

	const n = 8

	results := make(chan cache.Entry, n)

	for i := 0; i < n; i++ {
		go func() {
			entry, _, err := s.GetOrBuild(context.Background(), "shared-fp", nil, true, build)
			require.NoError(t, err)
			results <- entry
		}()
	}

	for i := 0; i < n; i++ {
		entry := <-results
		require.Equal(t, "built", entry.RawResponse)
	}

	require.Equal(t, int64(1), atomic.LoadInt64(&calls), "concurrent callers for one fingerprint must share a single build")
}

func TestStore_GetOrBuild_BuildErrorPropagates(t *testing.T) {
	s, err := cache.New(cache.Config{Mode: cache.ModeMemory})
	require.NoError(t, err)

	_, _, err = s.GetOrBuild(context.Background(), "fp-err", nil, true, func(ctx context.Context) (cache.Entry, bool, error) {
		return cache.Entry{}, false, assertErr
	})
	require.ErrorIs(t, err, assertErr)
}

func TestStore_GetOrBuild_ReadDisabledNeverServesStoredEntry(t *testing.T) {
	s, err := cache.New(cache.Config{Mode: cache.ModeMemory})
	require.NoError(t, err)

	s.StartWrite("fp-write-only", cache.Entry{RawResponse: "stale"})
	time.Sleep(10 * time.Millisecond) // let the fire-and-forget write land

	var calls int64

	entry, hit, err := s.GetOrBuild(context.Background(), "fp-write-only", nil, false, func(ctx context.Context) (cache.Entry, bool, error) {
		atomic.AddInt64(&calls, 1)
		return cache.Entry{RawResponse: "fresh"}, true, nil
	})
	require.NoError(t, err)
	require.False(t, hit, "write_only must never report a cache hit")
	require.Equal(t, "fresh", entry.RawResponse, "write_only must always build, never return the stored entry")
	require.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestStore_NoopMode(t *testing.T) {
	s, err := cache.New(cache.Config{Mode: cache.ModeOff})
	require.NoError(t, err)

	s.StartWrite("fp", cache.Entry{RawResponse: "x"})

	_, hit, err := s.Lookup(context.Background(), "fp", nil)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestStore_Redis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := cache.New(cache.Config{Mode: cache.ModeRedis, Redis: cache.RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)

	entry := cache.Entry{RawResponse: `{"ok":true}`, Usage: gwtypes.Usage{InputTokens: 3, OutputTokens: 7}}
	s.StartWrite("fp-redis", entry)

	require.Eventually(t, func() bool {
		got, hit, err := s.Lookup(context.Background(), "fp-redis", nil)
		return err == nil && hit && got.Usage == entry.Usage
	}, time.Second, 10*time.Millisecond)
}

var assertErr = errTest("build failed")

type errTest string

func (e errTest) Error() string { return string(e) }
