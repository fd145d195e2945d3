// Package idx generates the ULID identifiers used for challenge sessions and
// outgoing request ids.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type ID string

// Zero is the absent ID.
const Zero ID = ""

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

var (
	sourceOnce sync.Once
	source     *monotonicSource
)

// monotonicSource hands out ULIDs from a single monotonic entropy reader.
// ulid.MonotonicEntropy is not safe for concurrent use, so every draw is
// serialized.
type monotonicSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func (s *monotonicSource) at(t time.Time) ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return ID(ulid.MustNew(ulid.Timestamp(t), s.entropy).String())
}

func initSource() {
	source = &monotonicSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a new lexicographically sortable ID stamped with the current
// UTC time.
func New() ID {
	return NewAt(time.Now().UTC())
}

// NewAt generates an ID stamped with t, mainly for tests.
func NewAt(t time.Time) ID {
	sourceOnce.Do(initSource)
	return source.at(t)
}

// Parse validates s as a ULID and returns it as an ID.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}

	if _, err := ulid.ParseStrict(s); err != nil {
		return Zero, ErrInvalid
	}

	return ID(s), nil
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id == Zero }

func (id ID) String() string { return string(id) }

// Time extracts the embedded timestamp. Zero or invalid IDs yield the zero time.
func (id ID) Time() time.Time {
	if id.IsZero() {
		return time.Time{}
	}

	u, err := ulid.ParseStrict(id.String())
	if err != nil {
		return time.Time{}
	}

	return ulid.Time(u.Time())
}
