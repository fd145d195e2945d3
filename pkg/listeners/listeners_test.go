package listeners_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/bmsclient"
	"github.com/aussiebroadwan/bmsclient/pkg/httpx"
	"github.com/aussiebroadwan/bmsclient/pkg/listeners"
	"github.com/aussiebroadwan/bmsclient/pkg/slogx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func handlerFor(t *testing.T, l bmsclient.AuthenticationListener) *bmsclient.ChallengeHandler {
	t.Helper()
	c := bmsclient.New(
		bmsclient.WithLogger(slogx.Discard()),
		bmsclient.WithRateLimit(httpx.RateLimitConfig{}),
	)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.RegisterAuthenticationListener("orders", l))
	h, ok := c.ChallengeHandler("orders")
	require.True(t, ok)
	return h
}

func TestStatic(t *testing.T) {
	t.Parallel()
	h := handlerFor(t, listeners.NewStatic(bmsclient.BearerCredentials("tok"), slogx.Discard()))

	creds, err := h.HandleChallenge(context.Background(), "req-1", bmsclient.Challenge{})
	require.NoError(t, err)
	require.Equal(t, "tok", creds.Token)
}

func TestFunc(t *testing.T) {
	t.Parallel()

	t.Run("submit", func(t *testing.T) {
		t.Parallel()
		h := handlerFor(t, listeners.NewFunc(func(_ context.Context, ch bmsclient.Challenge) (bmsclient.Credentials, error) {
			return bmsclient.BearerCredentials("for-" + ch.Params["scope"]), nil
		}))

		creds, err := h.HandleChallenge(context.Background(), "req-1", bmsclient.Challenge{Params: map[string]string{"scope": "read"}})
		require.NoError(t, err)
		require.Equal(t, "for-read", creds.Token)
	})

	t.Run("declined cancels", func(t *testing.T) {
		t.Parallel()
		h := handlerFor(t, listeners.NewFunc(func(context.Context, bmsclient.Challenge) (bmsclient.Credentials, error) {
			return bmsclient.Credentials{}, listeners.ErrDeclined
		}))

		_, err := h.HandleChallenge(context.Background(), "req-1", bmsclient.Challenge{})
		var ce *bmsclient.ChallengeError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, bmsclient.OutcomeCancelled, ce.Outcome)
	})

	t.Run("error fails", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("prompt closed")
		h := handlerFor(t, listeners.NewFunc(func(context.Context, bmsclient.Challenge) (bmsclient.Credentials, error) {
			return bmsclient.Credentials{}, boom
		}))

		_, err := h.HandleChallenge(context.Background(), "req-1", bmsclient.Challenge{})
		require.ErrorIs(t, err, boom)

		var ce *bmsclient.ChallengeError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, bmsclient.OutcomeFailed, ce.Outcome)
	})
}

func TestTOTP(t *testing.T) {
	t.Parallel()

	key, err := listeners.GenerateSecret("bmsclient", "device-1")
	require.NoError(t, err)

	now := time.Date(2026, 1, 2, 3, 4, 10, 0, time.UTC)
	l, err := listeners.NewTOTP(listeners.TOTPConfig{
		Secret: key.Secret(),
		Logger: slogx.Discard(),
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)

	h := handlerFor(t, l)
	creds, err := h.HandleChallenge(context.Background(), "req-1", bmsclient.Challenge{})
	require.NoError(t, err)

	require.Equal(t, listeners.DefaultOTPScheme, creds.Scheme)
	require.Len(t, creds.Token, 6)
	require.Equal(t, time.Date(2026, 1, 2, 3, 4, 30, 0, time.UTC), creds.ExpiresAt.UTC())

	valid, err := totp.ValidateCustom(creds.Token, key.Secret(), now, totp.ValidateOpts{
		Period: 30,
		Digits: 6,
	})
	require.NoError(t, err)
	require.True(t, valid)
}

func TestNewTOTPRejectsBadSecret(t *testing.T) {
	t.Parallel()

	_, err := listeners.NewTOTP(listeners.TOTPConfig{})
	require.ErrorIs(t, err, listeners.ErrMissingSecret)

	_, err = listeners.NewTOTP(listeners.TOTPConfig{Secret: "not base32 !!"})
	require.Error(t, err)
}
