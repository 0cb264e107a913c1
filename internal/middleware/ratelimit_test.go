package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(handler http.HandlerFunc, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	defer rl.Stop()

	served := 0
	handler := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		served++
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 3; i++ {
		rec := doRequest(handler, "10.0.0.1:51234")
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := doRequest(handler, "10.0.0.1:51234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
	assert.Equal(t, 3, served)
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Stop()

	handler := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:51234").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(handler, "10.0.0.1:51235").Code)

	// A different host has its own bucket; the port does not matter.
	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.2:51234").Code)
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	defer rl.Stop()

	handler := rl.Middleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	require.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:51234").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(handler, "10.0.0.1:51234").Code)

	// Backdate the last refill a minute so the bucket earns its tokens
	// back without the test sleeping.
	rl.mu.Lock()
	rl.clients["10.0.0.1"].lastRefill = time.Now().Add(-time.Minute)
	rl.mu.Unlock()

	assert.Equal(t, http.StatusOK, doRequest(handler, "10.0.0.1:51234").Code)
}

func TestNewRateLimiterDefaultsBurst(t *testing.T) {
	rl := NewRateLimiter(10, 0)
	defer rl.Stop()
	assert.Equal(t, 10, rl.burst)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	req.RemoteAddr = "192.168.1.7:40122"
	assert.Equal(t, "192.168.1.7", clientKey(req))

	req.RemoteAddr = "@"
	assert.Equal(t, "@", clientKey(req))
}
