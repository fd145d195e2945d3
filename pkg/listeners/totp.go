package listeners

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/bmsclient/pkg/bmsclient"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// DefaultOTPScheme is the Authorization scheme TOTP codes are sent with.
const DefaultOTPScheme = "OTP"

var ErrMissingSecret = errors.New("listeners: totp secret is required")

type TOTPConfig struct {
	// Secret is the base32 shared secret.
	Secret string

	Scheme    string        // default "OTP"
	Period    uint          // seconds, default 30
	Digits    otp.Digits    // default 6
	Algorithm otp.Algorithm // default SHA1

	Logger *slog.Logger
	Now    func() time.Time
}

// TOTP answers challenges with a time-based one-time password derived from a
// shared secret. Codes are cached only until their period ends.
type TOTP struct {
	cfg  TOTPConfig
	opts totp.ValidateOpts
}

// NewTOTP checks the secret by generating a code and returns the listener.
func NewTOTP(cfg TOTPConfig) (*TOTP, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.Scheme == "" {
		cfg.Scheme = DefaultOTPScheme
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Digits == 0 {
		cfg.Digits = otp.DigitsSix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &TOTP{
		cfg: cfg,
		opts: totp.ValidateOpts{
			Period:    cfg.Period,
			Digits:    cfg.Digits,
			Algorithm: cfg.Algorithm,
		},
	}
	if _, err := l.Code(cfg.Now()); err != nil {
		return nil, err
	}
	return l, nil
}

// GenerateSecret creates a new TOTP key for account, for enrolling a device.
func GenerateSecret(issuer, account string) (*otp.Key, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key, nil
}

// Code returns the code valid at t.
func (l *TOTP) Code(t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(l.cfg.Secret, t, l.opts)
	if err != nil {
		return "", fmt.Errorf("generate totp code: %w", err)
	}
	return code, nil
}

// Credentials returns the code valid at t, expiring at the end of its period.
func (l *TOTP) Credentials(t time.Time) (bmsclient.Credentials, error) {
	code, err := l.Code(t)
	if err != nil {
		return bmsclient.Credentials{}, err
	}

	period := int64(l.cfg.Period)
	end := (t.Unix()/period + 1) * period
	return bmsclient.Credentials{
		Scheme:    l.cfg.Scheme,
		Token:     code,
		ExpiresAt: time.Unix(end, 0),
	}, nil
}

func (l *TOTP) OnAuthenticationChallengeReceived(_ context.Context, s *bmsclient.ChallengeSession) {
	creds, err := l.Credentials(l.cfg.Now())
	if err != nil {
		l.cfg.Logger.Error("totp answer failed", "realm", s.Realm(), "error", err)
		s.Fail(err)
		return
	}
	s.Submit(creds)
}

func (l *TOTP) OnAuthenticationSuccess(_ context.Context, info map[string]any) {
	l.cfg.Logger.Debug("totp accepted", "realm", info["realm"])
}

func (l *TOTP) OnAuthenticationFailure(_ context.Context, info map[string]any) {
	l.cfg.Logger.Warn("totp rejected", "realm", info["realm"], "status", info["status_code"])
}
