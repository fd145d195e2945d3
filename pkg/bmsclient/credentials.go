package bmsclient

import (
	"maps"
	"net/http"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/jwtx"
	"github.com/aussiebroadwan/bmsclient/pkg/store"
)

// DefaultScheme is used when Credentials.Scheme is empty.
const DefaultScheme = "Bearer"

// Credentials answer an authentication challenge. They are applied to the
// replayed request and cached per realm for later requests.
type Credentials struct {
	// Scheme prefixes Token in the Authorization header (default Bearer).
	Scheme string

	// Token is sent as "Authorization: <Scheme> <Token>" when non-empty.
	Token string

	// Header holds additional headers to set on the request.
	Header map[string]string

	// ExpiresAt bounds how long the credentials are reused. When zero and
	// Token is a JWT, its exp claim is used instead.
	ExpiresAt time.Time
}

// BearerCredentials is shorthand for a bearer token.
func BearerCredentials(token string) Credentials {
	return Credentials{Scheme: DefaultScheme, Token: token}
}

// IsZero reports whether the credentials carry nothing to apply.
func (c Credentials) IsZero() bool {
	return c.Token == "" && len(c.Header) == 0
}

// Apply sets the credentials on r.
func (c Credentials) Apply(r *http.Request) {
	if c.Token != "" {
		scheme := c.Scheme
		if scheme == "" {
			scheme = DefaultScheme
		}
		r.Header.Set("Authorization", scheme+" "+c.Token)
	}

	for k, v := range c.Header {
		r.Header.Set(k, v)
	}
}

// Expiry returns ExpiresAt, falling back to the JWT exp claim of Token.
func (c Credentials) Expiry() time.Time {
	if !c.ExpiresAt.IsZero() {
		return c.ExpiresAt
	}
	if exp, ok := jwtx.ExpiresAt(c.Token); ok {
		return exp
	}
	return time.Time{}
}

func (c Credentials) toStored(realm string) store.Credential {
	return store.Credential{
		Realm:     realm,
		Scheme:    c.Scheme,
		Token:     c.Token,
		Header:    maps.Clone(c.Header),
		ExpiresAt: c.Expiry(),
	}
}

func credentialsFromStored(sc store.Credential) Credentials {
	return Credentials{
		Scheme:    sc.Scheme,
		Token:     sc.Token,
		Header:    sc.Header,
		ExpiresAt: sc.ExpiresAt,
	}
}
