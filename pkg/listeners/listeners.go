// Package listeners provides ready-made authentication listeners for common
// challenge answers.
package listeners

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aussiebroadwan/bmsclient/pkg/bmsclient"
)

// ErrDeclined makes a Func listener cancel the challenge instead of failing
// it.
var ErrDeclined = errors.New("listeners: challenge declined")

// Static answers every challenge with the same credentials.
type Static struct {
	Credentials bmsclient.Credentials
	Logger      *slog.Logger
}

func NewStatic(creds bmsclient.Credentials, logger *slog.Logger) *Static {
	if logger == nil {
		logger = slog.Default()
	}
	return &Static{Credentials: creds, Logger: logger}
}

func (l *Static) OnAuthenticationChallengeReceived(_ context.Context, s *bmsclient.ChallengeSession) {
	s.Submit(l.Credentials)
}

func (l *Static) OnAuthenticationSuccess(_ context.Context, info map[string]any) {
	l.Logger.Debug("static credentials accepted", "realm", info["realm"])
}

func (l *Static) OnAuthenticationFailure(_ context.Context, info map[string]any) {
	l.Logger.Warn("static credentials rejected", "realm", info["realm"], "status", info["status_code"])
}

// AnswerFunc produces credentials for a challenge. Returning ErrDeclined
// cancels the challenge; any other error fails it.
type AnswerFunc func(ctx context.Context, ch bmsclient.Challenge) (bmsclient.Credentials, error)

// Func runs an AnswerFunc on its own goroutine for each challenge, so slow
// answers (user prompts, remote calls) never block the request path.
type Func struct {
	Answer    AnswerFunc
	OnSuccess func(ctx context.Context, info map[string]any)
	OnFailure func(ctx context.Context, info map[string]any)
}

func NewFunc(answer AnswerFunc) *Func {
	return &Func{Answer: answer}
}

func (l *Func) OnAuthenticationChallengeReceived(ctx context.Context, s *bmsclient.ChallengeSession) {
	go func() {
		creds, err := l.Answer(ctx, s.Challenge())
		switch {
		case errors.Is(err, ErrDeclined):
			s.Cancel()
		case err != nil:
			s.Fail(err)
		default:
			s.Submit(creds)
		}
	}()
}

func (l *Func) OnAuthenticationSuccess(ctx context.Context, info map[string]any) {
	if l.OnSuccess != nil {
		l.OnSuccess(ctx, info)
	}
}

func (l *Func) OnAuthenticationFailure(ctx context.Context, info map[string]any) {
	if l.OnFailure != nil {
		l.OnFailure(ctx, info)
	}
}
