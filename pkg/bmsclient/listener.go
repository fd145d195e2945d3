package bmsclient

import "context"

// AuthenticationListener is implemented by application code to answer
// authentication challenges for a realm.
//
// OnAuthenticationChallengeReceived is called once per challenge cycle. The
// listener must eventually call Submit or Cancel on the session, from any
// goroutine; it may do so before returning. The request that triggered the
// challenge stays paused until then, bounded by its context. Contexts coming
// from the client's transport carry a logger tagged with the request id, which
// slogx.FromContext returns.
type AuthenticationListener interface {
	OnAuthenticationChallengeReceived(ctx context.Context, session *ChallengeSession)

	// OnAuthenticationSuccess is called when a request replayed with the
	// submitted credentials was accepted by the backend.
	OnAuthenticationSuccess(ctx context.Context, info map[string]any)

	// OnAuthenticationFailure is called when a replayed request was rejected
	// again.
	OnAuthenticationFailure(ctx context.Context, info map[string]any)
}

// ListenerFuncs adapts plain functions to AuthenticationListener. Nil fields
// are skipped; a nil OnChallenge cancels every challenge.
type ListenerFuncs struct {
	OnChallenge func(ctx context.Context, session *ChallengeSession)
	OnSuccess   func(ctx context.Context, info map[string]any)
	OnFailure   func(ctx context.Context, info map[string]any)
}

func (f *ListenerFuncs) OnAuthenticationChallengeReceived(ctx context.Context, session *ChallengeSession) {
	if f.OnChallenge == nil {
		session.Cancel()
		return
	}
	f.OnChallenge(ctx, session)
}

func (f *ListenerFuncs) OnAuthenticationSuccess(ctx context.Context, info map[string]any) {
	if f.OnSuccess != nil {
		f.OnSuccess(ctx, info)
	}
}

func (f *ListenerFuncs) OnAuthenticationFailure(ctx context.Context, info map[string]any) {
	if f.OnFailure != nil {
		f.OnFailure(ctx, info)
	}
}
