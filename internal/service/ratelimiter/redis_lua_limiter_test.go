package ratelimiter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/service/ratelimiter"
)

func newLimiter(t *testing.T, buckets map[string]ratelimiter.BucketConfig) *ratelimiter.RedisLuaLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return ratelimiter.NewRedisLuaLimiter(rdb, buckets)
}

func TestAllow_ConsumesBucket(t *testing.T) {
	l := newLimiter(t, map[string]ratelimiter.BucketConfig{
		"tts": {Capacity: 2, RefillRate: 0.001},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "tts", 1)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, retryAfter, err := l.Allow(ctx, "tts", 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestAllow_UnknownKeyPasses(t *testing.T) {
	l := newLimiter(t, nil)
	ok, _, err := l.Allow(context.Background(), "anything", 1)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAllow_FailsOpenOnRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := ratelimiter.NewRedisLuaLimiter(rdb, map[string]ratelimiter.BucketConfig{
		"ocr": ratelimiter.NewBucketConfigFromPerMinute(60),
	})
	mr.Close()

	ok, _, err := l.Allow(context.Background(), "ocr", 1)
	require.Error(t, err)
	require.True(t, ok)
}

func TestNewBucketConfigFromPerMinute(t *testing.T) {
	cfg := ratelimiter.NewBucketConfigFromPerMinute(120)
	require.EqualValues(t, 120, cfg.Capacity)
	require.InDelta(t, 2.0, cfg.RefillRate, 0.001)
	require.Zero(t, ratelimiter.NewBucketConfigFromPerMinute(0).Capacity)
}

func TestMiddleware_Throttles(t *testing.T) {
	l := newLimiter(t, map[string]ratelimiter.BucketConfig{
		"tts": {Capacity: 1, RefillRate: 0.001},
	})

	r := chi.NewRouter()
	r.With(ratelimiter.Middleware(l)).Post("/v1/jobs/{flavor}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/tts", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/tts", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// other flavors have their own budget
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/asr", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_NilLimiterPasses(t *testing.T) {
	r := chi.NewRouter()
	r.With(ratelimiter.Middleware(nil)).Post("/v1/jobs/{flavor}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs/tts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
