package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docbatch/backend/internal/job"
	"github.com/docbatch/backend/internal/logging"
)

func TestRateLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	rl := NewRateLimiter(client, 1, time.Minute, logging.Discard())

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(false)
	e.POST("/generate", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, rl.Middleware())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

// counterClient keeps counters in memory. Unused Cmdable methods panic.
type counterClient struct {
	redis.Cmdable

	mu        sync.Mutex
	counts    map[string]int64
	deleted   []string
	expireErr error
}

func newCounterClient() *counterClient {
	return &counterClient{counts: make(map[string]int64)}
}

func (c *counterClient) Incr(ctx context.Context, key string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return redis.NewIntResult(c.counts[key], nil)
}

func (c *counterClient) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(c.expireErr == nil, c.expireErr)
}

func (c *counterClient) TTL(ctx context.Context, key string) *redis.DurationCmd {
	return redis.NewDurationResult(42*time.Second, nil)
}

func (c *counterClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.counts, k)
		c.deleted = append(c.deleted, k)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func limitedServer(rl *RateLimiter) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(false)
	e.POST("/generate", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, rl.Middleware())
	return e
}

func TestRateLimiter_Window(t *testing.T) {
	client := newCounterClient()
	e := limitedServer(NewRateLimiter(client, 2, time.Minute, logging.Discard()))

	tests := []struct {
		wantStatus    int
		wantRemaining string
	}{
		{http.StatusNoContent, "1"},
		{http.StatusNoContent, "0"},
		{http.StatusTooManyRequests, "0"},
	}
	for i, tt := range tests {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate", nil))
		assert.Equal(t, tt.wantStatus, rec.Code, "request %d", i)
		assert.Equal(t, tt.wantRemaining, rec.Header().Get("X-RateLimit-Remaining"), "request %d", i)
		assert.Equal(t, "42", rec.Header().Get("X-RateLimit-Reset"))
	}
	assert.Empty(t, client.deleted)
}

func TestRateLimiter_ExpireFailureDropsCounter(t *testing.T) {
	client := newCounterClient()
	client.expireErr = errors.New("READONLY")
	e := limitedServer(NewRateLimiter(client, 1, time.Minute, logging.Discard()))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	assert.Len(t, client.deleted, 3)
	assert.Empty(t, client.counts, "no counter is left without a ttl")
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		debug      bool
		wantStatus int
		wantCode   string
		wantDetail bool
	}{
		{"api error", NewNotFoundError("job", "x"), false, http.StatusNotFound, "NOT_FOUND", false},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), false, http.StatusMethodNotAllowed, "HTTP_ERROR", false},
		{"domain error", job.ErrNotFound, false, http.StatusNotFound, "NOT_FOUND", false},
		{"rate limited", NewTooManyRequestsError(30), false, http.StatusTooManyRequests, "RATE_LIMITED", false},
		{"unknown hidden", errors.New("disk on fire"), false, http.StatusInternalServerError, "UNKNOWN_ERROR", false},
		{"unknown in debug", errors.New("disk on fire"), true, http.StatusInternalServerError, "UNKNOWN_ERROR", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			ErrorHandler(tt.debug)(tt.err, c)

			require.Equal(t, tt.wantStatus, rec.Code)
			apiErr := decodeError(t, rec)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.wantDetail, apiErr.Details != "")
		})
	}
}
