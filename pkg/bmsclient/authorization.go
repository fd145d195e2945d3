package bmsclient

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/jwtx"
	"github.com/aussiebroadwan/bmsclient/pkg/store"
)

// AuthorizationManager caches the credentials obtained for each realm so later
// requests can present them without another challenge.
type AuthorizationManager struct {
	app       AppContext
	store     store.CredentialStore
	ownsStore bool
	logger    *slog.Logger

	// leeway is subtracted from expiries so credentials about to lapse are
	// not sent.
	leeway time.Duration
	now    func() time.Time
}

// NewAuthorizationManager builds a manager over app.Store, or an in-memory
// store when app.Store is nil.
func NewAuthorizationManager(app AppContext, logger *slog.Logger) *AuthorizationManager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &AuthorizationManager{
		app:    app,
		store:  app.Store,
		logger: logger,
		leeway: jwtx.DefaultLeeway,
		now:    time.Now,
	}
	if m.store == nil {
		m.store = store.NewMemoryStore()
		m.ownsStore = true
	}
	return m
}

// AppContext returns the application context the manager was built from.
func (m *AuthorizationManager) AppContext() AppContext { return m.app }

// Store returns the backing credential store.
func (m *AuthorizationManager) Store() store.CredentialStore { return m.store }

// SaveCredentials caches creds for realm. Empty credentials are ignored.
func (m *AuthorizationManager) SaveCredentials(ctx context.Context, realm string, creds Credentials) error {
	if creds.IsZero() {
		return nil
	}

	sc := creds.toStored(realm)
	sc.CreatedAt = m.now()
	if err := m.store.Put(ctx, sc); err != nil {
		return fmt.Errorf("save credentials for realm %q: %w", realm, err)
	}

	m.logger.Debug("credentials cached",
		"realm", realm,
		"scheme", sc.Scheme,
		"token_fp", fingerprint(sc.Token),
		"expires_at", sc.ExpiresAt,
	)
	return nil
}

// CachedCredentials returns the unexpired credentials for realm. Expired ones
// are evicted.
func (m *AuthorizationManager) CachedCredentials(ctx context.Context, realm string) (Credentials, bool) {
	sc, err := m.store.Get(ctx, realm)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("credential lookup failed", "realm", realm, "error", err)
		}
		return Credentials{}, false
	}

	if sc.Expired(m.now().Add(m.leeway)) {
		if err := m.store.Delete(ctx, realm); err != nil {
			m.logger.Warn("failed to evict expired credentials", "realm", realm, "error", err)
		}
		return Credentials{}, false
	}

	creds := credentialsFromStored(sc)
	if jwtx.LooksLikeJWT(creds.Token) {
		if claims, err := jwtx.ParseUnverified(creds.Token); err == nil {
			// Kept in the store; a token issued ahead of time becomes usable later.
			if err := claims.ValidateExpiryWithLeeway(m.now(), m.leeway); errors.Is(err, jwtx.ErrNotYetValid) {
				m.logger.Debug("cached credentials not yet valid", "realm", realm, "not_before", claims.NotBefore.Time)
				return Credentials{}, false
			}
		}
	}

	return creds, true
}

// Clear drops the cached credentials for realm.
func (m *AuthorizationManager) Clear(ctx context.Context, realm string) error {
	if err := m.store.Delete(ctx, realm); err != nil {
		return fmt.Errorf("clear credentials for realm %q: %w", realm, err)
	}
	return nil
}

// ClearAll drops every cached credential.
func (m *AuthorizationManager) ClearAll(ctx context.Context) error {
	if err := m.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close closes the store if the manager created it.
func (m *AuthorizationManager) Close() error {
	if !m.ownsStore {
		return nil
	}
	return m.store.Close()
}

// fingerprint identifies a token in logs without revealing it.
func fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
