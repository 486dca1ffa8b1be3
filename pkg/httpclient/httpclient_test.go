package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"integrations/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.HTTPClient {
	return config.HTTPClient{
		ConnectTimeout:      time.Second,
		TLSHandshakeTimeout: time.Second,
		IdleConnTimeout:     time.Second,
		MaxIdleConns:        2,
		KeepAlives:          true,
		UserAgent:           "test-agent",
	}
}

func TestClientSetsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-UA", r.UserAgent())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(testConfig())
	defer c.CloseIdle()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "test-agent", resp.Header.Get("X-UA"))
}

func TestClientDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://example.invalid/", http.StatusFound)
	}))
	defer srv.Close()

	c := NewClient(testConfig())
	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	resp, err := c.Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestDenyPrivateNetworks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.DenyPrivateNetworks = true
	c := NewClient(cfg)

	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	_, err := c.Do(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access to private IP")
}

func TestIsPrivate(t *testing.T) {
	for _, s := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.10", "169.254.1.1", "::1", "0.0.0.0"} {
		assert.True(t, isPrivate(net.ParseIP(s)), s)
	}
	for _, s := range []string{"8.8.8.8", "2001:4860:4860::8888"} {
		assert.False(t, isPrivate(net.ParseIP(s)), s)
	}
}
