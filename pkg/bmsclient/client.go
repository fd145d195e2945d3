package bmsclient

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/httpx"
	"github.com/prometheus/client_golang/prometheus"
)

// Client is the entry point of the SDK. It holds the backend configuration,
// the realm registry and cached credentials, and hands out an http.Client
// whose requests are routed to the backend and have their authentication
// challenges answered.
//
// All methods are safe for concurrent use.
type Client struct {
	rewrite  RewriteDomainFunc
	registry *RealmRegistry
	log      *logRef
	metrics  *Metrics

	mu    sync.RWMutex
	cfg   ClientConfig
	authz *AuthorizationManager

	// hostRealms remembers which realm last challenged each host so its
	// credentials can be sent up front.
	hostRealms sync.Map

	transport *Transport
}

type options struct {
	rewrite   RewriteDomainFunc
	registry  prometheus.Registerer
	base      http.RoundTripper
	rateLimit httpx.RateLimitConfig
	logger    *slog.Logger
}

// Option configures a Client built by New.
type Option func(*options)

// WithRewriteDomainFunc replaces SubzoneRewriteDomain.
func WithRewriteDomainFunc(f RewriteDomainFunc) Option {
	return func(o *options) { o.rewrite = f }
}

// WithMetricsRegisterer registers the challenge metrics with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithBaseTransport sets the round tripper requests are finally sent on
// (default http.DefaultTransport).
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// WithRateLimit limits outbound requests per host. The zero config disables
// limiting.
func WithRateLimit(cfg httpx.RateLimitConfig) Option {
	return func(o *options) { o.rateLimit = cfg }
}

// WithLogger sets the logger used until Initialize supplies one.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns an uninitialized client: no backend route, no realms, and
// DefaultTimeout.
func New(opts ...Option) *Client {
	o := options{
		rewrite:   SubzoneRewriteDomain,
		rateLimit: httpx.ParseRateLimitFromEnv("CLIENT", httpx.DefaultClientLimit),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rewrite == nil {
		o.rewrite = SubzoneRewriteDomain
	}

	log := newLogRef(o.logger)
	metrics := NewMetrics(o.registry)

	c := &Client{
		rewrite:  o.rewrite,
		registry: newRealmRegistry(log, metrics),
		log:      log,
		metrics:  metrics,
		cfg:      ClientConfig{DefaultTimeout: DefaultTimeout},
		authz:    NewAuthorizationManager(AppContext{}, log.get()),
	}
	c.transport = &Transport{
		client: c,
		next:   httpx.NewRateLimitTransport(o.base, o.rateLimit, httpx.HostKeyExtractor),
	}
	return c
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// Default returns the process-wide client, creating it on first use.
func Default() *Client {
	defaultOnce.Do(func() {
		defaultClient = New()
	})
	return defaultClient
}

// Initialize configures the backend route and GUID and rebuilds the
// authorization manager from app. A malformed route returns
// ErrMalformedAddress and leaves the client unchanged.
func (c *Client) Initialize(app AppContext, backendRoute, backendGUID string) error {
	route, err := ResolveRoute(backendRoute, c.rewrite)
	if err != nil {
		return err
	}

	logger := app.logger()
	authz := NewAuthorizationManager(app, logger)

	c.mu.Lock()
	prev := c.authz
	c.cfg.BackendRoute = route.Canonical
	c.cfg.BackendGUID = backendGUID
	c.cfg.RewriteDomain = route.RewriteDomain
	c.cfg.Subzone = route.Subzone
	c.authz = authz
	c.mu.Unlock()

	c.log.set(logger)
	c.hostRealms.Clear()

	if prev != nil {
		if err := prev.Close(); err != nil {
			logger.Warn("failed to close previous credential store", "error", err)
		}
	}

	logger.Info("client initialized",
		"backend_route", route.Canonical,
		"subzone", route.Subzone,
		"rewrite_domain", route.RewriteDomain,
	)
	return nil
}

// Config returns a snapshot of the current configuration.
func (c *Client) Config() ClientConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *Client) BackendRoute() string  { return c.Config().BackendRoute }
func (c *Client) BackendGUID() string   { return c.Config().BackendGUID }
func (c *Client) RewriteDomain() string { return c.Config().RewriteDomain }

// DefaultTimeout is applied to requests whose context has no deadline.
func (c *Client) DefaultTimeout() time.Duration { return c.Config().DefaultTimeout }

// SetDefaultTimeout sets the request timeout. Values <= 0 disable it.
func (c *Client) SetDefaultTimeout(d time.Duration) {
	c.mu.Lock()
	c.cfg.DefaultTimeout = d
	c.mu.Unlock()
}

// RegisterAuthenticationListener binds listener to realm, replacing any
// previous listener.
func (c *Client) RegisterAuthenticationListener(realm string, listener AuthenticationListener) error {
	return c.registry.Register(realm, listener)
}

// UnregisterAuthenticationListener removes realm. Challenges already in flight
// still complete.
func (c *Client) UnregisterAuthenticationListener(realm string) {
	c.registry.Unregister(realm)
}

// ChallengeHandler returns the handler for realm.
func (c *Client) ChallengeHandler(realm string) (*ChallengeHandler, bool) {
	return c.registry.Lookup(realm)
}

// Realms returns the registered realms in sorted order.
func (c *Client) Realms() []string { return c.registry.Realms() }

func (c *Client) AuthorizationManager() *AuthorizationManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authz
}

func (c *Client) Logger() *slog.Logger { return c.log.get() }

func (c *Client) Transport() *Transport { return c.transport }

// HTTPClient returns an http.Client sending through Transport. Timeouts come
// from DefaultTimeout or the request context.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c.transport}
}

// Close releases the credential store if the client created it.
func (c *Client) Close() error {
	return c.AuthorizationManager().Close()
}
