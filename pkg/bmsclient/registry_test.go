package bmsclient_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aussiebroadwan/bmsclient/pkg/bmsclient"
	"github.com/aussiebroadwan/bmsclient/pkg/httpx"
	"github.com/aussiebroadwan/bmsclient/pkg/slogx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, opts ...bmsclient.Option) *bmsclient.Client {
	t.Helper()

	opts = append([]bmsclient.Option{
		bmsclient.WithLogger(slogx.Discard()),
		bmsclient.WithRateLimit(httpx.RateLimitConfig{}),
	}, opts...)
	c := bmsclient.New(opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func cancelAll() *bmsclient.ListenerFuncs {
	return &bmsclient.ListenerFuncs{}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("register and lookup", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t)
		l := cancelAll()

		require.NoError(t, c.RegisterAuthenticationListener("orders", l))

		h, ok := c.ChallengeHandler("orders")
		require.True(t, ok)
		require.Equal(t, "orders", h.Realm())
		require.Same(t, l, h.Listener())
		require.Equal(t, bmsclient.StateIdle, h.State())

		_, ok = c.ChallengeHandler("billing")
		require.False(t, ok)
	})

	t.Run("re-register replaces handler", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t)
		first, second := cancelAll(), cancelAll()

		require.NoError(t, c.RegisterAuthenticationListener("orders", first))
		h1, _ := c.ChallengeHandler("orders")
		require.NoError(t, c.RegisterAuthenticationListener("orders", second))
		h2, _ := c.ChallengeHandler("orders")

		require.NotSame(t, h1, h2)
		require.Same(t, second, h2.Listener())
		require.Equal(t, []string{"orders"}, c.Realms())
	})

	t.Run("invalid arguments leave registry unchanged", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t)
		require.NoError(t, c.RegisterAuthenticationListener("orders", cancelAll()))

		err := c.RegisterAuthenticationListener("", cancelAll())
		require.ErrorIs(t, err, bmsclient.ErrInvalidArgument)

		err = c.RegisterAuthenticationListener("billing", nil)
		require.ErrorIs(t, err, bmsclient.ErrInvalidArgument)

		require.Equal(t, []string{"orders"}, c.Realms())
	})

	t.Run("nil listener behind an interface", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t)
		require.NoError(t, c.RegisterAuthenticationListener("orders", cancelAll()))
		before, ok := c.ChallengeHandler("orders")
		require.True(t, ok)

		var funcs *bmsclient.ListenerFuncs
		err := c.RegisterAuthenticationListener("orders", funcs)
		require.ErrorIs(t, err, bmsclient.ErrInvalidArgument)
		err = c.RegisterAuthenticationListener("billing", funcs)
		require.ErrorIs(t, err, bmsclient.ErrInvalidArgument)

		after, ok := c.ChallengeHandler("orders")
		require.True(t, ok)
		require.Same(t, before, after)
		require.Equal(t, []string{"orders"}, c.Realms())
	})

	t.Run("unregister", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t)
		require.NoError(t, c.RegisterAuthenticationListener("orders", cancelAll()))

		c.UnregisterAuthenticationListener("missing")
		c.UnregisterAuthenticationListener("")
		require.Equal(t, []string{"orders"}, c.Realms())

		c.UnregisterAuthenticationListener("orders")
		_, ok := c.ChallengeHandler("orders")
		require.False(t, ok)
		require.Empty(t, c.Realms())
	})

	t.Run("realms sorted", func(t *testing.T) {
		t.Parallel()
		c := newTestClient(t)
		for _, r := range []string{"c", "a", "b"} {
			require.NoError(t, c.RegisterAuthenticationListener(r, cancelAll()))
		}
		require.Equal(t, []string{"a", "b", "c"}, c.Realms())
	})
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(2)
		realm := fmt.Sprintf("realm-%d", i%4)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = c.RegisterAuthenticationListener(realm, cancelAll())
				c.UnregisterAuthenticationListener(realm)
			}
		}()
		go func() {
			defer wg.Done()
			for range 100 {
				if h, ok := c.ChallengeHandler(realm); ok {
					assert.Equal(t, realm, h.Realm())
				}
			}
		}()
	}
	wg.Wait()
}

func TestUnregisterDoesNotCancelInFlight(t *testing.T) {
	t.Parallel()
	c := newTestClient(t)

	sessions := make(chan *bmsclient.ChallengeSession, 1)
	require.NoError(t, c.RegisterAuthenticationListener("orders", &bmsclient.ListenerFuncs{
		OnChallenge: func(_ context.Context, s *bmsclient.ChallengeSession) { sessions <- s },
	}))
	h, _ := c.ChallengeHandler("orders")

	type result struct {
		creds bmsclient.Credentials
		err   error
	}
	done := make(chan result, 1)
	go func() {
		creds, err := h.HandleChallenge(context.Background(), "req-1", bmsclient.Challenge{})
		done <- result{creds, err}
	}()

	s := <-sessions
	c.UnregisterAuthenticationListener("orders")
	require.Equal(t, bmsclient.OutcomePending, s.Outcome())

	require.True(t, s.Submit(bmsclient.BearerCredentials("tok")))
	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "tok", res.creds.Token)
}
