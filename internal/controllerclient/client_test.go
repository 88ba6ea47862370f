package controllerclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, _ := json.Marshal(v)
	w.Write(data)
}

// TestEnsureFresh_RefreshesWhenWithinBuffer covers P10: the client proactively
// refreshes when the access token is absent or within 60s of expiry.
func TestEnsureFresh_RefreshesWhenWithinBuffer(t *testing.T) {
	var refreshCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token", "/auth/refresh":
			atomic.AddInt32(&refreshCount, 1)
			writeJSON(w, map[string]interface{}{"access_token": "tok", "refresh_token": "rtok", "expires_in": 3600})
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "id", "secret", nil)
	require.NoError(t, c.ensureFresh(context.Background()))
	assert.Equal(t, int32(1), refreshCount)

	// Still fresh: second call must not refresh again.
	require.NoError(t, c.ensureFresh(context.Background()))
	assert.Equal(t, int32(1), refreshCount)

	// Force near-expiry: must refresh again.
	c.tokenMu.Lock()
	c.token.ExpiresAt = time.Now().Add(30 * time.Second)
	c.tokenMu.Unlock()
	require.NoError(t, c.ensureFresh(context.Background()))
	assert.Equal(t, int32(2), refreshCount)
}

// TestDoJSON_RetriesOnceOn401 covers scenario 6: a 401 triggers exactly one
// forced refresh-and-retry, not an infinite loop.
func TestDoJSON_RetriesOnceOn401(t *testing.T) {
	var tokenCalls, policyCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token":
			atomic.AddInt32(&tokenCalls, 1)
			writeJSON(w, map[string]interface{}{"access_token": "tok", "expires_in": 3600})
		case "/policies":
			n := atomic.AddInt32(&policyCalls, 1)
			if n == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(w, []Policy{{ID: "p1", Name: "test"}})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "id", "secret", nil)
	policies, err := c.ListPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "p1", policies[0].ID)
	assert.Equal(t, int32(2), policyCalls)
	assert.GreaterOrEqual(t, tokenCalls, int32(1))
}

func TestFindHoneypot_ReturnsFirstHoneypotNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token":
			writeJSON(w, map[string]interface{}{"access_token": "tok", "expires_in": 3600})
		case "/topology":
			writeJSON(w, Topology{Nodes: []TopologyNode{
				{ID: "n1", Type: "plc"}, {ID: "n2", Type: "honeypot", IP: "10.0.0.9"},
			}})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "id", "secret", nil)
	ip, ok, err := c.FindHoneypot(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9", ip)
}
