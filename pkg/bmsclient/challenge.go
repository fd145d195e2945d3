package bmsclient

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/idx"
	"golang.org/x/sync/semaphore"
)

// State is the coordination state of a handler or session.
type State int

const (
	StateIdle State = iota
	StateAwaitingListener
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingListener:
		return "awaiting_listener"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Outcome is how a challenge cycle ended.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSuccess
	OutcomeCancelled
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Challenge is what the backend asked for.
type Challenge struct {
	Realm  string
	Scheme string

	// Params are the auth-params of the WWW-Authenticate challenge, keyed by
	// lower-cased name.
	Params map[string]string

	StatusCode int

	// Body is the decoded JSON body of the challenge response, if it had one.
	Body map[string]any
}

// ChallengeSession is one challenge cycle. It is the handle a listener uses to
// answer: exactly one of Submit, Cancel or the request's context ending takes
// effect, every later call is a no-op.
type ChallengeSession struct {
	id        idx.ID
	handler   *ChallengeHandler
	requestID string
	challenge Challenge
	started   time.Time

	mu      sync.Mutex
	outcome Outcome
	creds   Credentials
	err     error
	stop    func() bool
	done    chan struct{}
}

func (s *ChallengeSession) ID() idx.ID           { return s.id }
func (s *ChallengeSession) Realm() string        { return s.handler.realm }
func (s *ChallengeSession) RequestID() string    { return s.requestID }
func (s *ChallengeSession) Challenge() Challenge { return s.challenge }

// Done is closed once the session is resolved.
func (s *ChallengeSession) Done() <-chan struct{} { return s.done }

// State reports StateAwaitingListener until resolution, then StateResolved.
func (s *ChallengeSession) State() State {
	if s.Outcome() == OutcomePending {
		return StateAwaitingListener
	}
	return StateResolved
}

func (s *ChallengeSession) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Submit answers the challenge with creds. It reports whether this call
// resolved the session.
func (s *ChallengeSession) Submit(creds Credentials) bool {
	return s.resolve(OutcomeSuccess, creds, nil)
}

// Cancel abandons the challenge; the paused request fails with a
// *ChallengeError. It reports whether this call resolved the session.
func (s *ChallengeSession) Cancel() bool {
	return s.resolve(OutcomeCancelled, Credentials{}, ErrChallengeCancelled)
}

// Fail resolves the session as failed with cause err.
func (s *ChallengeSession) Fail(err error) bool {
	return s.resolve(OutcomeFailed, Credentials{}, err)
}

// Result returns the credentials of a successful session, or the
// *ChallengeError of a cancelled or failed one. It must only be called after
// Done is closed.
func (s *ChallengeSession) Result() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome == OutcomeSuccess {
		return s.creds, nil
	}
	return Credentials{}, &ChallengeError{Realm: s.handler.realm, Outcome: s.outcome, Err: s.err}
}

// Wait blocks until the session is resolved. If ctx ends first the session is
// failed with the context error.
func (s *ChallengeSession) Wait(ctx context.Context) (Credentials, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		s.Fail(ctx.Err())
		<-s.done
	}
	return s.Result()
}

func (s *ChallengeSession) resolve(outcome Outcome, creds Credentials, err error) bool {
	s.mu.Lock()
	if s.outcome != OutcomePending {
		s.mu.Unlock()
		return false
	}
	s.outcome = outcome
	s.creds = Credentials{
		Scheme:    creds.Scheme,
		Token:     creds.Token,
		Header:    maps.Clone(creds.Header),
		ExpiresAt: creds.ExpiresAt,
	}
	s.err = err
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.handler.finish(s, outcome, err)
	close(s.done)
	return true
}

// ChallengeHandler coordinates challenge cycles for one realm. At most one
// cycle per handler waits on the listener at a time; further challenges queue
// in arrival order and each gets its own listener invocation.
type ChallengeHandler struct {
	realm    string
	listener AuthenticationListener
	log      *logRef
	metrics  *Metrics

	// slot admits one cycle at a time. Waiters are served FIFO and honour
	// their context.
	slot *semaphore.Weighted

	mu     sync.Mutex
	active *ChallengeSession
}

func newChallengeHandler(realm string, listener AuthenticationListener, log *logRef, metrics *Metrics) *ChallengeHandler {
	return &ChallengeHandler{
		realm:    realm,
		listener: listener,
		log:      log,
		metrics:  metrics,
		slot:     semaphore.NewWeighted(1),
	}
}

func (h *ChallengeHandler) Realm() string                    { return h.realm }
func (h *ChallengeHandler) Listener() AuthenticationListener { return h.listener }

// State reports whether a cycle is waiting on the listener.
func (h *ChallengeHandler) State() State {
	if h.Active() != nil {
		return StateAwaitingListener
	}
	return StateIdle
}

// Active returns the session currently waiting on the listener, or nil.
func (h *ChallengeHandler) Active() *ChallengeSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// HandleChallenge pauses the calling request until the challenge is answered.
// It returns the submitted credentials, or a *ChallengeError when the cycle is
// cancelled, or ctx ends while queued or waiting.
func (h *ChallengeHandler) HandleChallenge(ctx context.Context, requestID string, ch Challenge) (Credentials, error) {
	s, err := h.Begin(ctx, requestID, ch)
	if err != nil {
		return Credentials{}, err
	}
	return s.Wait(ctx)
}

// Begin starts a challenge cycle once the realm is free and invokes the
// listener, unless ctx ended first and the session is already failed. The returned session fails on its own when ctx ends, so an
// unanswered cycle never holds the realm longer than the request lives.
func (h *ChallengeHandler) Begin(ctx context.Context, requestID string, ch Challenge) (*ChallengeSession, error) {
	if err := h.slot.Acquire(ctx, 1); err != nil {
		h.metrics.queueTimeout(h.realm)
		h.log.get().Warn("authentication challenge abandoned while queued",
			"realm", h.realm,
			"request_id", requestID,
			"error", err,
		)
		return nil, &ChallengeError{Realm: h.realm, Outcome: OutcomeFailed, Err: err}
	}

	if ch.Realm == "" {
		ch.Realm = h.realm
	}

	s := &ChallengeSession{
		id:        idx.New(),
		handler:   h,
		requestID: requestID,
		challenge: ch,
		started:   time.Now(),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.active = s
	h.mu.Unlock()
	h.metrics.begin(h.realm)

	stop := context.AfterFunc(ctx, func() { s.Fail(ctx.Err()) })
	s.mu.Lock()
	if s.outcome == OutcomePending {
		s.stop = stop
		stop = nil
	}
	s.mu.Unlock()
	if stop != nil {
		stop()
	}

	// ctx may have ended before the AfterFunc was armed or while it ran.
	if err := ctx.Err(); err != nil {
		s.Fail(err)
	}
	if s.Outcome() != OutcomePending {
		h.log.get().Warn("authentication challenge expired before the listener was called",
			"realm", h.realm,
			"session_id", s.id.String(),
			"request_id", requestID,
			"outcome", s.Outcome().String(),
		)
		return s, nil
	}

	h.log.get().Info("authentication challenge received",
		"realm", h.realm,
		"session_id", s.id.String(),
		"request_id", requestID,
		"status", ch.StatusCode,
	)

	h.listener.OnAuthenticationChallengeReceived(ctx, s)
	return s, nil
}

// Submit answers the cycle identified by id. It is a no-op returning false
// when that session is not the active one, so a late answer never lands on a
// cycle queued behind it.
func (h *ChallengeHandler) Submit(id idx.ID, creds Credentials) bool {
	s := h.activeSession(id)
	if s == nil {
		return false
	}
	return s.Submit(creds)
}

// Cancel cancels the cycle identified by id. It is a no-op returning false when
// that session is not the active one.
func (h *ChallengeHandler) Cancel(id idx.ID) bool {
	s := h.activeSession(id)
	if s == nil {
		return false
	}
	return s.Cancel()
}

func (h *ChallengeHandler) activeSession(id idx.ID) *ChallengeSession {
	s := h.Active()
	if s == nil || id.IsZero() || s.id != id {
		return nil
	}
	return s
}

// NotifySuccess forwards a post-replay success to the listener.
func (h *ChallengeHandler) NotifySuccess(ctx context.Context, info map[string]any) {
	h.listener.OnAuthenticationSuccess(ctx, info)
}

// NotifyFailure forwards a post-replay failure to the listener.
func (h *ChallengeHandler) NotifyFailure(ctx context.Context, info map[string]any) {
	h.listener.OnAuthenticationFailure(ctx, info)
}

// finish runs exactly once per session, after it is resolved.
func (h *ChallengeHandler) finish(s *ChallengeSession, outcome Outcome, err error) {
	h.mu.Lock()
	if h.active == s {
		h.active = nil
	}
	h.mu.Unlock()

	elapsed := time.Since(s.started)
	h.metrics.resolve(h.realm, outcome, elapsed)
	h.slot.Release(1)

	attrs := []any{
		"realm", h.realm,
		"session_id", s.id.String(),
		"request_id", s.requestID,
		"outcome", outcome.String(),
		"duration_ms", elapsed.Milliseconds(),
	}
	if err != nil && outcome != OutcomeCancelled {
		h.log.get().Warn("authentication challenge resolved", append(attrs, "error", err)...)
		return
	}
	h.log.get().Info("authentication challenge resolved", attrs...)
}

// logRef lets handlers follow logger replacement by Initialize.
type logRef struct {
	mu     sync.RWMutex
	logger *slog.Logger
}

func newLogRef(l *slog.Logger) *logRef {
	if l == nil {
		l = slog.Default()
	}
	return &logRef{logger: l}
}

func (r *logRef) get() *slog.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}

func (r *logRef) set(l *slog.Logger) {
	if l == nil {
		return
	}
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}
