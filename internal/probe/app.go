package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aussiebroadwan/bmsclient/pkg/bmsclient"
	"github.com/aussiebroadwan/bmsclient/pkg/httpx"
	"github.com/aussiebroadwan/bmsclient/pkg/listeners"
	"github.com/aussiebroadwan/bmsclient/pkg/slogx"
	"github.com/aussiebroadwan/bmsclient/pkg/store"
	"github.com/aussiebroadwan/bmsclient/pkg/store/drivers/redis"
	"github.com/aussiebroadwan/bmsclient/pkg/store/drivers/sqlite"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application sends probe requests through a configured client.
type Application struct {
	cfg    Config
	logger *slog.Logger
	out    io.Writer

	store       store.CredentialStore
	housekeeper *store.Housekeeper
	client      *bmsclient.Client
}

// New wires the credential store, client and listener. Responses are written
// to out.
func New(ctx context.Context, cfg Config, out io.Writer) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg: cfg,
		out: out,
		logger: slogx.New(slogx.Config{
			Service: "bmsprobe",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initStore(ctx); err != nil {
		return nil, err
	}
	app.housekeeper = store.NewHousekeeper(app.store, app.logger, cfg.HousekeepingInterval)

	if err := app.initClient(); err != nil {
		_ = app.store.Close()
		return nil, err
	}

	return app, nil
}

// Client returns the configured client.
func (app *Application) Client() *bmsclient.Client { return app.client }

// Run sends the configured requests and blocks until they complete or ctx
// ends.
func (app *Application) Run(ctx context.Context) error {
	app.housekeeper.Start()
	defer app.housekeeper.Stop()

	app.logger.Info("probe starting",
		"backend_route", app.client.BackendRoute(),
		"rewrite_domain", app.client.RewriteDomain(),
		"realms", app.client.Realms(),
		"version", BuildVersion,
	)

	httpClient := app.client.HTTPClient()
	for i := range app.cfg.Repeat {
		if err := app.send(ctx, httpClient); err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
	}

	return nil
}

// Close releases the client and the credential store.
func (app *Application) Close() error {
	if err := app.client.Close(); err != nil {
		app.logger.Error("error closing client", "error", err)
	}
	return app.store.Close()
}

func (app *Application) send(ctx context.Context, c *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, app.cfg.Method, app.cfg.Path, nil)
	if err != nil {
		return err
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := fmt.Fprintf(app.out, "%s %s -> %d\n", app.cfg.Method, app.cfg.Path, resp.StatusCode); err != nil {
		return err
	}
	if _, err := io.Copy(app.out, resp.Body); err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	_, err = fmt.Fprintln(app.out)
	return err
}

func (app *Application) initStore(ctx context.Context) error {
	switch app.cfg.CredentialStore {
	case StoreSQLite:
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
		s, err := sqlite.Open(dsn)
		if err != nil {
			return fmt.Errorf("failed to open sqlite credential store: %w", err)
		}
		app.store = s
		app.logger.Info("credential store migrations applied", "file", app.cfg.DatabaseFile)
	case StoreRedis:
		s, err := redis.Open(ctx, app.cfg.RedisURL, app.cfg.RedisPrefix)
		if err != nil {
			return fmt.Errorf("failed to open redis credential store: %w", err)
		}
		app.store = s
	default:
		app.store = store.NewMemoryStore()
	}
	return nil
}

func (app *Application) initClient() error {
	app.client = bmsclient.New(
		bmsclient.WithLogger(app.logger),
		bmsclient.WithRateLimit(httpx.ParseRateLimitFromEnv("CLIENT", httpx.DefaultClientLimit)),
	)

	appCtx := bmsclient.AppContext{
		Name:    "bmsprobe",
		Version: BuildVersion,
		Env:     app.cfg.Env,
		Logger:  app.logger,
		Store:   app.store,
	}
	if err := app.client.Initialize(appCtx, app.cfg.BackendRoute, app.cfg.BackendGUID); err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}
	app.client.SetDefaultTimeout(app.cfg.DefaultTimeout)

	listener, err := app.listener()
	if err != nil {
		return err
	}
	if listener == nil {
		return nil
	}
	return app.client.RegisterAuthenticationListener(app.cfg.Realm, listener)
}

func (app *Application) listener() (bmsclient.AuthenticationListener, error) {
	switch {
	case app.cfg.TOTPSecret != "":
		l, err := listeners.NewTOTP(listeners.TOTPConfig{
			Secret: app.cfg.TOTPSecret,
			Scheme: app.cfg.TOTPScheme,
			Logger: app.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build totp listener: %w", err)
		}
		return l, nil
	case app.cfg.Token != "":
		return listeners.NewStatic(bmsclient.BearerCredentials(app.cfg.Token), app.logger), nil
	default:
		return nil, nil
	}
}
