package bmsclient_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/bmsclient"
	"github.com/aussiebroadwan/bmsclient/pkg/slogx"
	"github.com/stretchr/testify/require"
)

type backend struct {
	*httptest.Server
	token      string
	challenges atomic.Int32
	lastGUID   atomic.Value
	lastReqID  atomic.Value
}

// newBackend serves /orders and /echo behind a bearer token for realm
// "orders". Any other token or none gets a 401 challenge.
func newBackend(t *testing.T, token string) *backend {
	t.Helper()
	b := &backend{token: token}

	mux := http.NewServeMux()
	guard := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			b.lastGUID.Store(r.Header.Get(bmsclient.AppGUIDHeader))
			b.lastReqID.Store(r.Header.Get(slogx.RequestIDHeader))
			if r.Header.Get("Authorization") != "Bearer "+b.token {
				b.challenges.Add(1)
				w.Header().Set("WWW-Authenticate", `Bearer realm="orders", scope="orders:read"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "auth_required"})
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /orders", guard(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	mux.HandleFunc("POST /echo", guard(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(w, r.Body)
	}))
	mux.HandleFunc("GET /query", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.URL.RawQuery)
	})
	mux.HandleFunc("GET /other", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="unknown"`)
		w.WriteHeader(http.StatusUnauthorized)
	})

	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

func initialized(t *testing.T, srv *backend) *bmsclient.Client {
	t.Helper()
	c := newTestClient(t)
	require.NoError(t, c.Initialize(quietApp(), srv.URL, "app-guid"))
	return c
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestTransportAnswersChallenge(t *testing.T) {
	t.Parallel()
	srv := newBackend(t, "good")
	c := initialized(t, srv)

	var challenges, successes atomic.Int32
	var seen bmsclient.Challenge
	require.NoError(t, c.RegisterAuthenticationListener("orders", &bmsclient.ListenerFuncs{
		OnChallenge: func(_ context.Context, s *bmsclient.ChallengeSession) {
			challenges.Add(1)
			seen = s.Challenge()
			go s.Submit(bmsclient.BearerCredentials("good"))
		},
		OnSuccess: func(_ context.Context, info map[string]any) {
			successes.Add(1)
			require.Equal(t, http.StatusOK, info["status_code"])
		},
	}))

	resp, err := c.HTTPClient().Get("/orders")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", readAll(t, resp))

	require.EqualValues(t, 1, challenges.Load())
	require.EqualValues(t, 1, successes.Load())
	require.Equal(t, "orders", seen.Realm)
	require.Equal(t, http.StatusUnauthorized, seen.StatusCode)
	require.Equal(t, "orders:read", seen.Params["scope"])
	require.Equal(t, "auth_required", seen.Body["error"])
	require.Equal(t, "app-guid", srv.lastGUID.Load())
	require.NotEmpty(t, srv.lastReqID.Load())

	t.Run("cached credentials are sent up front", func(t *testing.T) {
		resp, err := c.HTTPClient().Get("/orders")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		readAll(t, resp)

		require.EqualValues(t, 1, srv.challenges.Load())
		require.EqualValues(t, 1, challenges.Load())
	})
}

func TestTransportListenerLoggerCarriesRequestID(t *testing.T) {
	t.Parallel()
	srv := newBackend(t, "good")

	var buf bytes.Buffer
	app := quietApp()
	app.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	c := newTestClient(t)
	require.NoError(t, c.Initialize(app, srv.URL, ""))

	require.NoError(t, c.RegisterAuthenticationListener("orders", &bmsclient.ListenerFuncs{
		OnChallenge: func(ctx context.Context, s *bmsclient.ChallengeSession) {
			slogx.FromContext(ctx).Warn("answering challenge")
			s.Submit(bmsclient.BearerCredentials("good"))
		},
	}))

	req, err := http.NewRequest(http.MethodGet, "/orders", nil)
	require.NoError(t, err)
	req.Header.Set(slogx.RequestIDHeader, "req-42")

	resp, err := c.HTTPClient().Do(req)
	require.NoError(t, err)
	require.Equal(t, "ok", readAll(t, resp))
	require.Equal(t, "req-42", srv.lastReqID.Load())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "answering challenge", rec["msg"])
	require.Equal(t, "req-42", rec["req_id"])
}

func TestTransportReplaysBody(t *testing.T) {
	t.Parallel()
	srv := newBackend(t, "good")
	c := initialized(t, srv)
	require.NoError(t, c.RegisterAuthenticationListener("orders", &bmsclient.ListenerFuncs{
		OnChallenge: func(_ context.Context, s *bmsclient.ChallengeSession) {
			s.Submit(bmsclient.BearerCredentials("good"))
		},
	}))

	// A reader without GetBody must still be replayable.
	body := io.MultiReader(strings.NewReader(`{"item":`), strings.NewReader(`"beer"}`))
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/echo", body)
	require.NoError(t, err)

	resp, err := c.HTTPClient().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, `{"item":"beer"}`, readAll(t, resp))
}

func TestTransportUnregisteredRealm(t *testing.T) {
	t.Parallel()
	srv := newBackend(t, "good")
	c := initialized(t, srv)

	resp, err := c.HTTPClient().Get("/other")
	require.NoError(t, err)
	readAll(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTransportCancelledChallenge(t *testing.T) {
	t.Parallel()
	srv := newBackend(t, "good")
	c := initialized(t, srv)
	require.NoError(t, c.RegisterAuthenticationListener("orders", cancelAll()))

	_, err := c.HTTPClient().Get("/orders")
	require.ErrorIs(t, err, bmsclient.ErrChallengeResolutionFailed)
	require.ErrorIs(t, err, bmsclient.ErrChallengeCancelled)
}

func TestTransportRejectedReplay(t *testing.T) {
	t.Parallel()
	srv := newBackend(t, "good")
	c := initialized(t, srv)

	var failures atomic.Int32
	require.NoError(t, c.RegisterAuthenticationListener("orders", &bmsclient.ListenerFuncs{
		OnChallenge: func(_ context.Context, s *bmsclient.ChallengeSession) {
			s.Submit(bmsclient.BearerCredentials("wrong"))
		},
		OnFailure: func(context.Context, map[string]any) { failures.Add(1) },
	}))

	resp, err := c.HTTPClient().Get("/orders")
	require.NoError(t, err)
	readAll(t, resp)

	// One replay only; the second 401 is handed back.
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.EqualValues(t, 2, srv.challenges.Load())
	require.EqualValues(t, 1, failures.Load())

	_, ok := c.AuthorizationManager().CachedCredentials(context.Background(), "orders")
	require.False(t, ok)
}

func TestTransportDefaultTimeout(t *testing.T) {
	t.Parallel()
	srv := newBackend(t, "good")
	c := initialized(t, srv)
	c.SetDefaultTimeout(50 * time.Millisecond)

	l, sessions := capture()
	require.NoError(t, c.RegisterAuthenticationListener("orders", l))

	_, err := c.HTTPClient().Get("/orders")
	require.ErrorIs(t, err, bmsclient.ErrChallengeResolutionFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, bmsclient.OutcomeFailed, recv(t, sessions).Outcome())
}

func TestTransportKeepsRouteQuery(t *testing.T) {
	t.Parallel()
	srv := newBackend(t, "good")
	c := newTestClient(t)
	require.NoError(t, c.Initialize(quietApp(), srv.URL+"?tenant=acme", ""))
	require.Equal(t, srv.URL+"?tenant=acme", c.BackendRoute())

	resp, err := c.HTTPClient().Get("/query")
	require.NoError(t, err)
	require.Equal(t, "tenant=acme", readAll(t, resp))

	resp, err = c.HTTPClient().Get("/query?page=2")
	require.NoError(t, err)
	require.Equal(t, "tenant=acme&page=2", readAll(t, resp))
}

func TestTransportRelativeWithoutRoute(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)

	_, err := c.HTTPClient().Get("/orders")
	require.ErrorIs(t, err, bmsclient.ErrMalformedAddress)
}
