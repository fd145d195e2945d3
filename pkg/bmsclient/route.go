package bmsclient

import (
	"fmt"
	"net/url"
	"strings"
)

// SubzoneParam is the backend route query parameter naming the regional
// subzone. The name is part of the backend contract and must not change.
const SubzoneParam = "subzone"

const (
	HTTPScheme  = "http"
	HTTPSScheme = "https"
)

// Route is the result of resolving a configured backend address.
type Route struct {
	// Canonical is the configured address, with its query string removed
	// when that query carries a subzone.
	Canonical string

	// Subzone is the value of the subzone query parameter, if any.
	Subzone string

	// RewriteDomain is the domain outgoing traffic is rewritten to.
	RewriteDomain string
}

// RewriteDomainFunc derives the rewrite domain from a canonical route and an
// optional subzone. It must be pure; "" means no rewrite domain.
type RewriteDomainFunc func(route, subzone string) string

// SubzoneRewriteDomain is the default RewriteDomainFunc: the route's host,
// prefixed with "<subzone>." when a subzone is present.
//
// It is a placeholder and not the backend's own derivation, which is not
// published. Deployments that rely on the rewrite domain should supply the
// real rule with WithRewriteDomainFunc.
func SubzoneRewriteDomain(route, subzone string) string {
	if route == "" {
		return ""
	}

	u, err := url.Parse(route)
	if err != nil || u.Hostname() == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	if subzone == "" {
		return host
	}
	return strings.ToLower(subzone) + "." + host
}

// ResolveRoute splits raw into its canonical route and subzone and derives the
// rewrite domain. An empty raw yields the zero Route. A nil rewrite uses
// SubzoneRewriteDomain.
func ResolveRoute(raw string, rewrite RewriteDomainFunc) (Route, error) {
	if raw == "" {
		return Route{}, nil
	}
	if rewrite == nil {
		rewrite = SubzoneRewriteDomain
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	if u.Scheme != HTTPScheme && u.Scheme != HTTPSScheme {
		return Route{}, fmt.Errorf("%w: unsupported scheme %q in %q", ErrMalformedAddress, u.Scheme, raw)
	}
	if u.Host == "" {
		return Route{}, fmt.Errorf("%w: missing host in %q", ErrMalformedAddress, raw)
	}

	route := Route{Canonical: raw}

	// Only a subzone parameter strips the query. Everything from the query
	// separator on is then dropped, along with any fragment that follows it.
	if q := u.Query(); q.Has(SubzoneParam) {
		route.Subzone = q.Get(SubzoneParam)
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			route.Canonical = raw[:i]
		}
	}

	route.RewriteDomain = rewrite(route.Canonical, route.Subzone)
	return route, nil
}
