// Package redis is a credential store driver for fleets of clients that share
// realm credentials (for example headless agents behind one service account).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/store"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces credential keys.
const DefaultPrefix = "bmsclient:credential:"

type Store struct {
	client *redis.Client
	prefix string
}

var _ store.CredentialStore = (*Store)(nil)

type record struct {
	Realm     string            `json:"realm"`
	Scheme    string            `json:"scheme"`
	Token     string            `json:"token"`
	Header    map[string]string `json:"header,omitempty"`
	ExpiresAt int64             `json:"expires_at,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// Open connects to redisURL (redis://...) and verifies the connection.
func Open(ctx context.Context, redisURL, prefix string) (*Store, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return New(client, prefix), nil
}

// New wraps an existing client. An empty prefix uses DefaultPrefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(realm string) string { return s.prefix + realm }

// Put stores the credential with a TTL matching its expiry, so redis does
// the expiry work itself.
func (s *Store) Put(ctx context.Context, c store.Credential) error {
	if c.Realm == "" {
		return store.ErrInvalidRealm
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var ttl time.Duration
	if !c.ExpiresAt.IsZero() {
		ttl = time.Until(c.ExpiresAt)
		if ttl <= 0 {
			return s.Delete(ctx, c.Realm)
		}
	}

	rec := record{
		Realm:     c.Realm,
		Scheme:    c.Scheme,
		Token:     c.Token,
		Header:    c.Header,
		CreatedAt: c.CreatedAt.UnixMilli(),
	}
	if !c.ExpiresAt.IsZero() {
		rec.ExpiresAt = c.ExpiresAt.UnixMilli()
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	return s.client.Set(ctx, s.key(c.Realm), b, ttl).Err()
}

func (s *Store) Get(ctx context.Context, realm string) (store.Credential, error) {
	b, err := s.client.Get(ctx, s.key(realm)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.Credential{}, store.ErrNotFound
		}
		return store.Credential{}, err
	}

	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return store.Credential{}, fmt.Errorf("decode credential: %w", err)
	}

	c := store.Credential{
		Realm:     rec.Realm,
		Scheme:    rec.Scheme,
		Token:     rec.Token,
		Header:    rec.Header,
		CreatedAt: time.UnixMilli(rec.CreatedAt).UTC(),
	}
	if rec.ExpiresAt > 0 {
		c.ExpiresAt = time.UnixMilli(rec.ExpiresAt).UTC()
	}
	return c, nil
}

func (s *Store) Delete(ctx context.Context, realm string) error {
	return s.client.Del(ctx, s.key(realm)).Err()
}

func (s *Store) DeleteAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// DeleteExpired is a no-op; keys carry their own TTL.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}
