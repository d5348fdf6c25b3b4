package ipaddr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"netmon/pkg/logx"
)

func newTestResolver(t *testing.T, cfg Config) *Resolver {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return NewResolver(cfg, logx.Nop())
}

func TestLookupHTTP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(" 203.0.113.7\n"))
	}))
	t.Cleanup(srv.Close)

	r := newTestResolver(t, Config{URL: srv.URL})
	addr, err := r.Lookup(context.Background())
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", addr)
}

func TestLookupHTTPRejectsNonIP(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>rate limited</html>"))
	}))
	t.Cleanup(srv.Close)

	r := newTestResolver(t, Config{URL: srv.URL})
	_, err := r.Lookup(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "not an ip address")
}

func TestLookupHTTPBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	r := newTestResolver(t, Config{URL: srv.URL})
	_, err := r.Lookup(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")
}

func TestLookupNoSourcesConfigured(t *testing.T) {
	t.Parallel()

	r := newTestResolver(t, Config{})
	_, err := r.Lookup(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no http source configured")
	require.Contains(t, err.Error(), "no stun servers configured")
}

func TestStunQueryEmptyServer(t *testing.T) {
	t.Parallel()

	_, err := stunQuery(context.Background(), "  ", time.Second)
	require.Error(t, err)
}

func TestLookupIPv6(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("2001:db8::1"))
	}))
	t.Cleanup(srv.Close)

	r := newTestResolver(t, Config{URL: srv.URL})
	addr, err := r.Lookup(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2001:db8::1", addr)
}
