package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrInvalidRealm = errors.New("store: realm must not be empty")
)

// Credential is the persisted form of credentials obtained for a realm.
type Credential struct {
	Realm  string
	Scheme string
	Token  string

	// Header holds extra headers to send alongside Authorization.
	Header map[string]string

	// ExpiresAt is zero when the credential has no known expiry.
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the credential has a known expiry at or before now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// CredentialStore persists realm credentials between challenge cycles.
// Drivers (memory, sqlite, redis) implement this; all methods must be safe for
// concurrent use.
type CredentialStore interface {
	// Put inserts or replaces the credential for c.Realm.
	Put(ctx context.Context, c Credential) error

	// Get returns the credential for realm or ErrNotFound. Expired entries
	// may still be returned; callers check Expired.
	Get(ctx context.Context, realm string) (Credential, error)

	// Delete removes the credential for realm. Missing realms are not an error.
	Delete(ctx context.Context, realm string) error

	// DeleteAll removes every credential.
	DeleteAll(ctx context.Context) error

	// DeleteExpired removes credentials that expired before now and returns
	// how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Close releases any underlying resources.
	Close() error
}
