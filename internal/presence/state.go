package presence

import (
	"fmt"
	"time"

	"github.com/protomem/attendance-tracker/internal/model"
)

type Status int

const (
	Absent Status = iota
	Present
	PendingLogout
)

func (s Status) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case PendingLogout:
		return "pending_logout"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, status := range []Status{Absent, Present, PendingLogout} {
		if status.String() == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("presence: unknown status %q", text)
}

// State is the tracker's per-user view. The zero value is Absent.
type State struct {
	Status Status `json:"status"`

	// Open session backing Present and PendingLogout.
	Session  model.ID  `json:"sessionId,omitempty"`
	LoginAt  time.Time `json:"loginAt"`
	LastSeen time.Time `json:"lastSeen"`

	// Consecutive cycles without a sighting.
	Misses int `json:"misses"`
}

// LoggedIn reports whether the user has an open session.
func (s State) LoggedIn() bool {
	return s.Status != Absent
}

type action int

const (
	actionNone action = iota
	actionLogin
	actionLogout
)

// step applies one successful scan to a user's state. The caller owns the
// durable side effect named by the returned action; for actionLogout the
// session and logout time come from the previous state.
func step(s State, seen bool, now time.Time, debounce time.Duration) (State, action) {
	switch s.Status {
	case Absent:
		if !seen {
			return s, actionNone
		}
		return State{Status: Present, LoginAt: now, LastSeen: now}, actionLogin

	case Present:
		if seen {
			s.LastSeen = latest(s.LastSeen, now)
			s.Misses = 0
			return s, actionNone
		}
		s.Status = PendingLogout
		s.Misses = 1
		return s, actionNone

	case PendingLogout:
		if seen {
			s.Status = Present
			s.LastSeen = latest(s.LastSeen, now)
			s.Misses = 0
			return s, actionNone
		}
		s.Misses++
		if now.Sub(s.LastSeen) >= debounce {
			return State{}, actionLogout
		}
		return s, actionNone

	default:
		panic(fmt.Sprintf("presence: unknown status %d", s.Status))
	}
}

// latest keeps LastSeen monotonic when the wall clock steps backwards.
func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
