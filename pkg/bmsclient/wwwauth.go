package bmsclient

import (
	"net/http"
	"strings"
)

const wwwAuthenticateHeader = "WWW-Authenticate"

// ParseWWWAuthenticate parses WWW-Authenticate header values into challenges.
// A header may carry several challenges separated by commas; auth-param names
// are lower-cased and quoted values unescaped. Token68 credentials are
// skipped. Challenge.Realm is the realm auth-param.
func ParseWWWAuthenticate(values []string) []Challenge {
	var out []Challenge
	for _, v := range values {
		out = append(out, parseChallenges(v)...)
	}
	return out
}

// challengesFrom returns the challenges of a 401 or 403 response.
func challengesFrom(resp *http.Response) []Challenge {
	if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
		return nil
	}

	chs := ParseWWWAuthenticate(resp.Header.Values(wwwAuthenticateHeader))
	for i := range chs {
		chs[i].StatusCode = resp.StatusCode
	}
	return chs
}

func parseChallenges(header string) []Challenge {
	var (
		out        []Challenge
		afterComma = true
		p          = &headerScanner{s: header}
	)

	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		if p.peek() == ',' {
			p.i++
			afterComma = true
			continue
		}

		tok := p.token()
		if tok == "" {
			// Stray separator such as a lone '=' or quote; drop it.
			p.i++
			continue
		}

		p.skipSpace()
		if !p.eof() && p.peek() == '=' {
			p.i++
			if !afterComma && len(out) > 0 && len(out[len(out)-1].Params) == 0 &&
				(p.eof() || p.peek() == '=' || p.peek() == ',') {
				// token68 with base64 padding, e.g. "Basic dXNlcg==".
				p.skipToken68Padding()
				continue
			}
			p.skipSpace()
			val := p.value()
			if n := len(out); n > 0 {
				out[n-1].Params[strings.ToLower(tok)] = val
				if strings.EqualFold(tok, "realm") {
					out[n-1].Realm = val
				}
			}
			afterComma = false
			continue
		}

		if !afterComma && len(out) > 0 && len(out[len(out)-1].Params) == 0 {
			// token68 following the scheme.
			p.skipToken68Padding()
			continue
		}

		out = append(out, Challenge{Scheme: tok, Params: map[string]string{}})
		afterComma = false
	}

	return out
}

type headerScanner struct {
	s string
	i int
}

func (p *headerScanner) eof() bool  { return p.i >= len(p.s) }
func (p *headerScanner) peek() byte { return p.s[p.i] }

func (p *headerScanner) skipSpace() {
	for !p.eof() && (p.peek() == ' ' || p.peek() == '\t') {
		p.i++
	}
}

func (p *headerScanner) skipToken68Padding() {
	for !p.eof() && p.peek() == '=' {
		p.i++
	}
}

func (p *headerScanner) token() string {
	start := p.i
	for !p.eof() {
		switch p.peek() {
		case ' ', '\t', ',', '=', '"':
			return p.s[start:p.i]
		}
		p.i++
	}
	return p.s[start:p.i]
}

func (p *headerScanner) value() string {
	if p.eof() {
		return ""
	}
	if p.peek() != '"' {
		return p.token()
	}

	p.i++
	var b strings.Builder
	for !p.eof() {
		c := p.peek()
		p.i++
		switch c {
		case '\\':
			if !p.eof() {
				b.WriteByte(p.peek())
				p.i++
			}
		case '"':
			return b.String()
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
