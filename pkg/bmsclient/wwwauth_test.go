package bmsclient_test

import (
	"testing"

	"github.com/aussiebroadwan/bmsclient/pkg/bmsclient"
	"github.com/stretchr/testify/require"
)

func TestParseWWWAuthenticate(t *testing.T) {
	t.Parallel()

	t.Run("bearer with quoted params", func(t *testing.T) {
		t.Parallel()
		chs := bmsclient.ParseWWWAuthenticate([]string{
			`Bearer realm="orders", error="invalid_token", error_description="The token \"abc\" expired"`,
		})
		require.Len(t, chs, 1)
		require.Equal(t, "Bearer", chs[0].Scheme)
		require.Equal(t, "orders", chs[0].Realm)
		require.Equal(t, "invalid_token", chs[0].Params["error"])
		require.Equal(t, `The token "abc" expired`, chs[0].Params["error_description"])
	})

	t.Run("unquoted values and upper case names", func(t *testing.T) {
		t.Parallel()
		chs := bmsclient.ParseWWWAuthenticate([]string{`OTP Realm=orders,digits=6`})
		require.Len(t, chs, 1)
		require.Equal(t, "orders", chs[0].Realm)
		require.Equal(t, "orders", chs[0].Params["realm"])
		require.Equal(t, "6", chs[0].Params["digits"])
	})

	t.Run("quoted comma does not split", func(t *testing.T) {
		t.Parallel()
		chs := bmsclient.ParseWWWAuthenticate([]string{`Bearer realm="a,b", scope="read write"`})
		require.Len(t, chs, 1)
		require.Equal(t, "a,b", chs[0].Realm)
		require.Equal(t, "read write", chs[0].Params["scope"])
	})

	t.Run("multiple challenges in one header", func(t *testing.T) {
		t.Parallel()
		chs := bmsclient.ParseWWWAuthenticate([]string{`Basic realm="legacy", Bearer realm="orders", scope="read"`})
		require.Len(t, chs, 2)
		require.Equal(t, "Basic", chs[0].Scheme)
		require.Equal(t, "legacy", chs[0].Realm)
		require.Equal(t, "Bearer", chs[1].Scheme)
		require.Equal(t, "orders", chs[1].Realm)
		require.Equal(t, "read", chs[1].Params["scope"])
	})

	t.Run("multiple header values", func(t *testing.T) {
		t.Parallel()
		chs := bmsclient.ParseWWWAuthenticate([]string{`Negotiate`, `Bearer realm="orders"`})
		require.Len(t, chs, 2)
		require.Equal(t, "Negotiate", chs[0].Scheme)
		require.Empty(t, chs[0].Realm)
		require.Equal(t, "orders", chs[1].Realm)
	})

	t.Run("token68 is skipped", func(t *testing.T) {
		t.Parallel()
		chs := bmsclient.ParseWWWAuthenticate([]string{`Negotiate dXNlcjpwYXNz==, Bearer realm="orders"`})
		require.Len(t, chs, 2)
		require.Empty(t, chs[0].Params)
		require.Equal(t, "orders", chs[1].Realm)
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		require.Empty(t, bmsclient.ParseWWWAuthenticate(nil))
		require.Empty(t, bmsclient.ParseWWWAuthenticate([]string{"  "}))
	})
}
