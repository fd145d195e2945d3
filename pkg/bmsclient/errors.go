package bmsclient

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedAddress is returned when a backend route is not an absolute
	// http(s) URL, or a relative request is sent before a route is configured.
	ErrMalformedAddress = errors.New("bmsclient: malformed backend address")

	// ErrInvalidArgument is returned by realm registration for an empty realm
	// or a nil listener.
	ErrInvalidArgument = errors.New("bmsclient: invalid argument")

	// ErrChallengeResolutionFailed is the failure of a request whose
	// authentication challenge was cancelled or could not be answered in time.
	ErrChallengeResolutionFailed = errors.New("bmsclient: challenge resolution failed")

	// ErrChallengeCancelled is the cause recorded when the listener cancels.
	ErrChallengeCancelled = errors.New("bmsclient: challenge cancelled by listener")
)

// ChallengeError describes a challenge cycle that did not produce credentials.
// It matches ErrChallengeResolutionFailed with errors.Is, and also the
// underlying cause (ErrChallengeCancelled, context.DeadlineExceeded, ...).
type ChallengeError struct {
	Realm   string
	Outcome Outcome
	Err     error
}

func (e *ChallengeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: realm %q: %s", ErrChallengeResolutionFailed, e.Realm, e.Outcome)
	}
	return fmt.Sprintf("%s: realm %q: %s: %v", ErrChallengeResolutionFailed, e.Realm, e.Outcome, e.Err)
}

func (e *ChallengeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrChallengeResolutionFailed}
	}
	return []error{ErrChallengeResolutionFailed, e.Err}
}
