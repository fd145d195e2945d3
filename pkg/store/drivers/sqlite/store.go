// Package sqlite is the persistent credential store driver, for clients
// that should keep realm credentials across restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/store"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	dsn string
}

var _ store.CredentialStore = (*Store)(nil)

// Open opens the database at dsn and applies migrations.
func Open(dsn string) (*Store, error) {
	s, err := NewStore(dsn)
	if err != nil {
		return nil, err
	}

	if err := s.ApplyMigrations(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to apply credential store migrations: %w", err)
	}

	return s, nil
}

// NewStore opens the database without touching the schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// A single writer avoids SQLITE_BUSY between concurrent challenge cycles.
	db.SetMaxOpenConns(1)

	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Put(ctx context.Context, c store.Credential) error {
	if c.Realm == "" {
		return store.ErrInvalidRealm
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	header, err := marshalHeader(c.Header)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (realm, scheme, token, header_json, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(realm) DO UPDATE SET
			scheme = excluded.scheme,
			token = excluded.token,
			header_json = excluded.header_json,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at`,
		c.Realm, c.Scheme, c.Token, header, toMillis(c.ExpiresAt), toMillis(c.CreatedAt),
	)
	return err
}

func (s *Store) Get(ctx context.Context, realm string) (store.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT realm, scheme, token, header_json, expires_at, created_at
		FROM credentials WHERE realm = ?`, realm)

	var (
		c                    store.Credential
		header               string
		expiresAt, createdAt int64
	)
	if err := row.Scan(&c.Realm, &c.Scheme, &c.Token, &header, &expiresAt, &createdAt); err != nil {
		return store.Credential{}, mapNotFound(err)
	}

	if err := json.Unmarshal([]byte(header), &c.Header); err != nil {
		return store.Credential{}, fmt.Errorf("decode credential header: %w", err)
	}
	if len(c.Header) == 0 {
		c.Header = nil
	}
	c.ExpiresAt = fromMillis(expiresAt)
	c.CreatedAt = fromMillis(createdAt)

	return c, nil
}

func (s *Store) Delete(ctx context.Context, realm string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE realm = ?`, realm)
	return err
}

func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials`)
	return err
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE expires_at > 0 AND expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func marshalHeader(h map[string]string) (string, error) {
	if len(h) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode credential header: %w", err)
	}
	return string(b), nil
}

// toMillis stores the zero time as 0 so "no expiry" survives a round trip.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
