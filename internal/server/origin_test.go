package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func originRequest(t *testing.T, origin string) *http.Request {
	t.Helper()
	r, err := http.NewRequest(http.MethodGet, "/ws/events", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestCheckOriginDefaults(t *testing.T) {
	up := newUpgrader(nil)

	// The locally served dashboard ports work without configuration.
	for _, origin := range defaultDevOrigins {
		assert.True(t, up.CheckOrigin(originRequest(t, origin)), origin)
	}

	assert.False(t, up.CheckOrigin(originRequest(t, "http://localhost:8080")))
	assert.False(t, up.CheckOrigin(originRequest(t, "https://dashboard.example.com")))
}

func TestCheckOriginConfiguredList(t *testing.T) {
	up := newUpgrader([]string{"https://ops.example.com"})

	assert.True(t, up.CheckOrigin(originRequest(t, "https://ops.example.com")))
	// Matching is case-insensitive per RFC 6454 host rules.
	assert.True(t, up.CheckOrigin(originRequest(t, "https://Ops.Example.Com")))
	// Configuring a list replaces the dev defaults rather than extending them.
	assert.False(t, up.CheckOrigin(originRequest(t, "http://localhost:3000")))
	assert.False(t, up.CheckOrigin(originRequest(t, "https://other.example.com")))
}

func TestCheckOriginWildcard(t *testing.T) {
	up := newUpgrader([]string{"*"})

	assert.True(t, up.CheckOrigin(originRequest(t, "https://anything.example.com")))
	assert.True(t, up.CheckOrigin(originRequest(t, "http://localhost:3000")))
}

func TestCheckOriginAbsentHeaderAllowed(t *testing.T) {
	// CLI clients and same-host tooling send no Origin header.
	up := newUpgrader(nil)
	assert.True(t, up.CheckOrigin(originRequest(t, "")))
}
