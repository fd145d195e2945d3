package bmsclient

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// RealmRegistry maps realms to their challenge handlers. Lookups read an
// immutable snapshot and never block; writers are serialized and publish a new
// snapshot.
type RealmRegistry struct {
	log     *logRef
	metrics *Metrics

	mu       sync.Mutex
	handlers atomic.Pointer[map[string]*ChallengeHandler]
}

func newRealmRegistry(log *logRef, metrics *Metrics) *RealmRegistry {
	r := &RealmRegistry{log: log, metrics: metrics}
	empty := map[string]*ChallengeHandler{}
	r.handlers.Store(&empty)
	return r
}

// Register binds listener to realm, replacing any previous handler. A challenge
// already running keeps the handler it started on.
func (r *RealmRegistry) Register(realm string, listener AuthenticationListener) error {
	if realm == "" {
		return fmt.Errorf("%w: realm must not be empty", ErrInvalidArgument)
	}
	if isNilListener(listener) {
		return fmt.Errorf("%w: listener must not be nil for realm %q", ErrInvalidArgument, realm)
	}

	h := newChallengeHandler(realm, listener, r.log, r.metrics)

	r.mu.Lock()
	next := maps.Clone(*r.handlers.Load())
	_, replaced := next[realm]
	next[realm] = h
	r.handlers.Store(&next)
	r.mu.Unlock()

	r.log.get().Debug("authentication listener registered", "realm", realm, "replaced", replaced)
	return nil
}

// isNilListener also catches a nil pointer, map or func wrapped in the
// interface, which would otherwise panic on the first challenge.
func isNilListener(l AuthenticationListener) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Unregister removes realm. Unknown or empty realms are ignored; sessions in
// flight are left to finish on their own.
func (r *RealmRegistry) Unregister(realm string) {
	if realm == "" {
		return
	}

	r.mu.Lock()
	cur := *r.handlers.Load()
	if _, ok := cur[realm]; !ok {
		r.mu.Unlock()
		return
	}
	next := maps.Clone(cur)
	delete(next, realm)
	r.handlers.Store(&next)
	r.mu.Unlock()

	r.log.get().Debug("authentication listener unregistered", "realm", realm)
}

// Lookup returns the handler registered for realm.
func (r *RealmRegistry) Lookup(realm string) (*ChallengeHandler, bool) {
	h, ok := (*r.handlers.Load())[realm]
	return h, ok
}

// Realms returns the registered realms in sorted order.
func (r *RealmRegistry) Realms() []string {
	return slices.Sorted(maps.Keys(*r.handlers.Load()))
}
