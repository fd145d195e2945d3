package bmsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/aussiebroadwan/bmsclient/pkg/idx"
	"github.com/aussiebroadwan/bmsclient/pkg/slogx"
)

// AppGUIDHeader carries the backend GUID on every request.
const AppGUIDHeader = "X-BMS-App-GUID"

// maxChallengeBody bounds how much of a challenge response body is decoded.
const maxChallengeBody = 1 << 20

// Transport is an http.RoundTripper that routes requests to the client's
// backend and answers authentication challenges through the registered
// listeners. A challenged request is replayed once with the submitted
// credentials.
type Transport struct {
	client *Client
	next   http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	cfg := t.client.Config()
	authz := t.client.AuthorizationManager()
	logger := t.client.log.get()

	ctx := req.Context()
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok && cfg.DefaultTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.DefaultTimeout)
	}

	orig := req
	req, err := t.prepare(ctx, req, cfg)
	if err != nil {
		if orig.Body != nil {
			_ = orig.Body.Close()
		}
		cancel()
		return nil, err
	}
	reqID := req.Header.Get(slogx.RequestIDHeader)

	// Listeners and the limiter log through the request-scoped logger.
	ctx = slogx.WithRequestID(slogx.WithContext(ctx, logger), reqID)
	req = req.WithContext(ctx)
	logger = slogx.FromContext(ctx)

	next := slogx.NewTransport(t.next, logger)

	host := req.URL.Host
	cachedRealm, _ := t.client.hostRealms.Load(host)
	usedCached := ""
	if realm, ok := cachedRealm.(string); ok && req.Header.Get("Authorization") == "" {
		if creds, ok := authz.CachedCredentials(ctx, realm); ok {
			creds.Apply(req)
			usedCached = realm
		}
	}

	resp, err := next.RoundTrip(req)
	if err != nil {
		cancel()
		return nil, err
	}

	ch, handler, ok := t.challengeFor(resp)
	if !ok {
		return withCancel(resp, cancel), nil
	}
	t.client.hostRealms.Store(host, ch.Realm)

	ch.Body = decodeChallengeBody(resp)
	_ = resp.Body.Close()

	if usedCached == ch.Realm {
		if err := authz.Clear(ctx, ch.Realm); err != nil {
			logger.Warn("failed to clear rejected credentials", "realm", ch.Realm, "error", err)
		}
	}

	creds, err := handler.HandleChallenge(ctx, reqID, ch)
	if err != nil {
		cancel()
		return nil, err
	}

	if err := authz.SaveCredentials(ctx, ch.Realm, creds); err != nil {
		logger.Warn("failed to cache credentials", "realm", ch.Realm, "error", err)
	}

	replay := req.Clone(ctx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		replay.Body = body
	}
	replay.Header.Del("Authorization")
	creds.Apply(replay)

	info := map[string]any{
		"realm":      ch.Realm,
		"request_id": reqID,
		"url":        replay.URL.String(),
	}

	resp, err = next.RoundTrip(replay)
	if err != nil {
		info["error"] = err.Error()
		handler.NotifyFailure(ctx, info)
		cancel()
		return nil, err
	}

	info["status_code"] = resp.StatusCode
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if err := authz.Clear(ctx, ch.Realm); err != nil {
			logger.Warn("failed to clear rejected credentials", "realm", ch.Realm, "error", err)
		}
		handler.NotifyFailure(ctx, info)
	} else {
		handler.NotifySuccess(ctx, info)
	}

	return withCancel(resp, cancel), nil
}

// prepare returns a copy of req bound to ctx with an absolute URL, a request
// id, the app GUID header and a replayable body.
func (t *Transport) prepare(ctx context.Context, req *http.Request, cfg ClientConfig) (*http.Request, error) {
	out := req.Clone(ctx)

	if !out.URL.IsAbs() || out.URL.Host == "" {
		if cfg.BackendRoute == "" {
			return nil, fmt.Errorf("%w: relative request %q without a backend route", ErrMalformedAddress, out.URL.String())
		}
		base, err := url.Parse(cfg.BackendRoute)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
		}
		u := base.JoinPath(out.URL.Path)
		switch {
		case base.RawQuery == "":
			u.RawQuery = out.URL.RawQuery
		case out.URL.RawQuery != "":
			u.RawQuery = base.RawQuery + "&" + out.URL.RawQuery
		}
		u.ForceQuery = false
		u.Fragment = ""
		out.URL = u
		out.Host = ""
	}

	if out.Header.Get(slogx.RequestIDHeader) == "" {
		out.Header.Set(slogx.RequestIDHeader, idx.New().String())
	}
	if cfg.BackendGUID != "" {
		out.Header.Set(AppGUIDHeader, cfg.BackendGUID)
	}

	if out.Body != nil && out.Body != http.NoBody && out.GetBody == nil {
		buf, err := io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
		out.Body = io.NopCloser(bytes.NewReader(buf))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		}
		out.ContentLength = int64(len(buf))
	}

	return out, nil
}

// challengeFor returns the first challenge of resp whose realm is registered.
func (t *Transport) challengeFor(resp *http.Response) (Challenge, *ChallengeHandler, bool) {
	for _, ch := range challengesFrom(resp) {
		if ch.Realm == "" {
			continue
		}
		if h, ok := t.client.registry.Lookup(ch.Realm); ok {
			return ch, h, true
		}
	}
	return Challenge{}, nil, false
}

func decodeChallengeBody(resp *http.Response) map[string]any {
	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return nil
	}

	var body map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxChallengeBody)).Decode(&body); err != nil {
		return nil
	}
	return body
}

// cancelBody releases the request's timeout once the caller is done with the
// response.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func withCancel(resp *http.Response, cancel context.CancelFunc) *http.Response {
	if resp.Body == nil {
		cancel()
		return resp
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp
}
