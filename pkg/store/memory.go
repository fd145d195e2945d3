package store

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryStore keeps credentials in process memory. It is the default store
// and is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Credential)}
}

func (s *MemoryStore) Put(ctx context.Context, c Credential) error {
	if c.Realm == "" {
		return ErrInvalidRealm
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Header = maps.Clone(c.Header)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[c.Realm] = c
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, realm string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[realm]
	if !ok {
		return Credential{}, ErrNotFound
	}
	c.Header = maps.Clone(c.Header)
	return c, nil
}

func (s *MemoryStore) Delete(ctx context.Context, realm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, realm)
	return nil
}

func (s *MemoryStore) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]Credential)
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for realm, c := range s.data {
		if c.Expired(now) {
			delete(s.data, realm)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }
