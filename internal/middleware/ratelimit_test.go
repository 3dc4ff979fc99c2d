package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterCache struct {
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newCounterCache() *counterCache {
	return &counterCache{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (c *counterCache) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.counts[key]++
	c.ttls[key] = ttl
	return c.counts[key], nil
}

func (c *counterCache) SetLastSeen(context.Context, string, time.Time, time.Duration) error {
	return nil
}

func (c *counterCache) GetLastSeen(context.Context, string) (time.Time, error) {
	return time.Time{}, nil
}

func (c *counterCache) SubscribeExpired(context.Context) (*redis.PubSub, error) { return nil, nil }

func (c *counterCache) AcquireLock(context.Context, string, time.Duration) (string, error) {
	return "", nil
}

func (c *counterCache) ExtendLock(context.Context, string, string, time.Duration) error {
	return nil
}

func (c *counterCache) ReleaseLock(context.Context, string, string) error { return nil }
func (c *counterCache) Ping(context.Context) error                        { return nil }
func (c *counterCache) Close() error                                      { return nil }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts/bulk", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitBulk(t *testing.T) {
	c := newCounterCache()
	h := RateLimitBulk(c, 2)(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:5001").Code)

	rec := doRequest(h, "10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// other clients have their own counter
	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.2:5000").Code)

	require.Contains(t, c.ttls, "bulk:10.0.0.1")
	assert.Equal(t, time.Minute, c.ttls["bulk:10.0.0.1"])
}

func TestRateLimitBulkFailsOpen(t *testing.T) {
	c := newCounterCache()
	c.err = errors.New("connection refused")
	h := RateLimitBulk(c, 1)(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:5000").Code)
	}
}

func TestRateLimitBulkDisabled(t *testing.T) {
	c := newCounterCache()
	h := RateLimitBulk(c, 0)(okHandler())

	assert.Equal(t, http.StatusOK, doRequest(h, "10.0.0.1:5000").Code)
	assert.Empty(t, c.counts)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:80", "198.51.100.2"},
		{"remote addr", nil, "192.0.2.9:4242", "192.0.2.9"},
		{"remote without port", nil, "192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
