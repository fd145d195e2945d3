package httpx_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestParseRateLimitFromEnv(t *testing.T) {
	t.Run("uses defaults when unset", func(t *testing.T) {
		cfg := httpx.ParseRateLimitFromEnv("UNSET_PREFIX", httpx.DefaultClientLimit)
		require.Equal(t, httpx.DefaultClientLimit, cfg)
	})

	t.Run("applies overrides", func(t *testing.T) {
		t.Setenv("RATELIMIT_TESTCLIENT_REQUESTS", "10")
		t.Setenv("RATELIMIT_TESTCLIENT_WINDOW_SEC", "30")
		t.Setenv("RATELIMIT_TESTCLIENT_BURST", "2")

		cfg := httpx.ParseRateLimitFromEnv("TESTCLIENT", httpx.DefaultClientLimit)
		require.Equal(t, 10, cfg.RequestsPerWindow)
		require.Equal(t, 30*time.Second, cfg.Window)
		require.Equal(t, 2, cfg.Burst)
	})

	t.Run("ignores invalid values", func(t *testing.T) {
		t.Setenv("RATELIMIT_BAD_REQUESTS", "-1")
		t.Setenv("RATELIMIT_BAD_BURST", "abc")
		os.Unsetenv("RATELIMIT_BAD_WINDOW_SEC")

		cfg := httpx.ParseRateLimitFromEnv("BAD", httpx.DefaultClientLimit)
		require.Equal(t, httpx.DefaultClientLimit, cfg)
	})
}

func TestNewRateLimitTransportDisabled(t *testing.T) {
	t.Parallel()

	base := http.DefaultTransport
	rt := httpx.NewRateLimitTransport(base, httpx.RateLimitConfig{}, nil)
	require.Equal(t, base, rt)
}

func TestRateLimitTransport(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rt := httpx.NewRateLimitTransport(nil, httpx.RateLimitConfig{
		RequestsPerWindow: 1,
		Window:            time.Hour,
		Burst:             1,
	}, httpx.HostKeyExtractor)
	client := &http.Client{Transport: rt}

	t.Run("first request passes", func(t *testing.T) {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("second request waits until context ends", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		require.Error(t, err)
		require.Contains(t, err.Error(), "rate limit wait")
	})
}
