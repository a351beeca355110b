// Package presence turns successive scan results into login and logout
// decisions for every registered user.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/protomem/attendance-tracker/internal/database"
	"github.com/protomem/attendance-tracker/internal/directory"
	"github.com/protomem/attendance-tracker/internal/model"
	"golang.org/x/exp/slices"
)

type Directory interface {
	Users() []model.User
	Resolve(addr model.HardwareAddr) (model.ID, bool)
}

type SessionStore interface {
	Current(ctx context.Context) (map[model.ID]model.Session, error)
	Apply(ctx context.Context, changes []model.SessionChange) (map[model.ID]model.ID, error)
}

var (
	_ Directory    = (*directory.Directory)(nil)
	_ SessionStore = (*database.SessionDAO)(nil)
)

// Observation is the outcome of one scan. A non-nil Err freezes every decision
// for the cycle; a nil Seen with a nil Err is an empty but valid scan.
type Observation struct {
	At   time.Time
	Seen mapset.Set[model.HardwareAddr]
	Err  error
}

type Report struct {
	At      time.Time `json:"at"`
	Skipped bool      `json:"skipped"`

	Devices    int `json:"devices"`
	Recognized int `json:"recognized"`
	Unknown    int `json:"unknown"`
	Pending    int `json:"pending"`

	LoggedIn  []model.ID `json:"loggedIn"`
	LoggedOut []model.ID `json:"loggedOut"`
}

// Tracker owns every user's State. Reconcile, LogoutAll and Restore are the
// only writers and are serialized; readers see whole cycles only.
type Tracker struct {
	logger   *slog.Logger
	dir      Directory
	store    SessionStore
	debounce time.Duration

	cycleMu sync.Mutex

	mu     sync.RWMutex
	states map[model.ID]State // Absent users are not stored
}

func New(logger *slog.Logger, dir Directory, store SessionStore, debounce time.Duration) *Tracker {
	return &Tracker{
		logger:   logger.With("module", "presence"),
		dir:      dir,
		store:    store,
		debounce: debounce,
		states:   make(map[model.ID]State),
	}
}

// Restore rebuilds state from the sessions left open by a previous run. Each
// one is treated as Present, last seen at its login time.
func (t *Tracker) Restore(ctx context.Context) error {
	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	current, err := t.store.Current(ctx)
	if err != nil {
		return fmt.Errorf("presence: restore: %w", err)
	}

	states := make(map[model.ID]State, len(current))
	for user, session := range current {
		states[user] = State{
			Status:   Present,
			Session:  session.ID,
			LoginAt:  session.LoginAt.Time,
			LastSeen: session.LoginAt.Time,
		}
	}

	t.commit(states)

	t.logger.Info("restored open sessions", "countSessions", len(states))

	return nil
}

// Reconcile runs one cycle of the state machine. Durable writes for the whole
// cycle happen in one batch; if it fails nothing is committed and the next
// cycle starts again from the last good state.
func (t *Tracker) Reconcile(ctx context.Context, obs Observation) (Report, error) {
	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	report := Report{At: obs.At}

	if obs.Err != nil {
		report.Skipped = true
		t.logger.Warn("scan failed, presence unchanged", "error", obs.Err)
		return report, nil
	}

	seen := make(map[model.ID]struct{})
	if obs.Seen != nil {
		report.Devices = obs.Seen.Cardinality()
		obs.Seen.Each(func(addr model.HardwareAddr) bool {
			if id, ok := t.dir.Resolve(addr); ok {
				seen[id] = struct{}{}
			} else {
				report.Unknown++
			}
			return false
		})
	}
	report.Recognized = len(seen)

	current := t.Snapshot()
	next := make(map[model.ID]State, len(current))

	var changes []model.SessionChange
	for _, id := range t.candidates(current) {
		prev := current[id]
		_, isSeen := seen[id]

		state, act := step(prev, isSeen, obs.At, t.debounce)
		switch act {
		case actionLogin:
			changes = append(changes, model.SessionChange{
				Kind: model.SessionOpened,
				User: id,
				At:   model.NewTimestamp(obs.At),
			})
			report.LoggedIn = append(report.LoggedIn, id)
		case actionLogout:
			changes = append(changes, model.SessionChange{
				Kind:    model.SessionClosed,
				User:    id,
				Session: prev.Session,
				At:      model.NewTimestamp(logoutTime(prev, prev.LastSeen)),
			})
			report.LoggedOut = append(report.LoggedOut, id)
		}

		if state.Status == PendingLogout {
			report.Pending++
		}
		if state.LoggedIn() {
			next[id] = state
		}
	}

	if len(changes) > 0 {
		opened, err := t.store.Apply(ctx, changes)
		if err != nil {
			return report, fmt.Errorf("presence: persist cycle: %w", err)
		}
		for id, session := range opened {
			state := next[id]
			state.Session = session
			next[id] = state
		}
	}

	t.commit(next)

	for _, id := range report.LoggedIn {
		t.logger.Info("logged in", "user", id, "session", next[id].Session)
	}
	for _, id := range report.LoggedOut {
		t.logger.Info("logged out", "user", id, "lastSeen", current[id].LastSeen)
	}

	return report, nil
}

// LogoutAll closes every open session at the user's last sighting (never later
// than at) and moves everyone to Absent.
func (t *Tracker) LogoutAll(ctx context.Context, at time.Time) (int, error) {
	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	current := t.Snapshot()

	ids := make([]model.ID, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	changes := make([]model.SessionChange, 0, len(ids))
	for _, id := range ids {
		state := current[id]

		logout := state.LastSeen
		if logout.After(at) {
			logout = at
		}

		changes = append(changes, model.SessionChange{
			Kind:    model.SessionClosed,
			User:    id,
			Session: state.Session,
			At:      model.NewTimestamp(logoutTime(state, logout)),
		})
	}

	if len(changes) == 0 {
		return 0, nil
	}
	if _, err := t.store.Apply(ctx, changes); err != nil {
		return 0, fmt.Errorf("presence: logout all: %w", err)
	}

	t.commit(make(map[model.ID]State))

	t.logger.Info("logged out everyone", "countUsers", len(changes))

	return len(changes), nil
}

// State returns the user's current state; unknown users are Absent.
func (t *Tracker) State(id model.ID) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.states[id]
}

// Snapshot returns a copy of every non-absent state.
func (t *Tracker) Snapshot() map[model.ID]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[model.ID]State, len(t.states))
	for id, state := range t.states {
		states[id] = state
	}
	return states
}

type Presence struct {
	User model.ID `json:"userId"`
	State
}

// Present lists users with an open session, ordered by user id.
func (t *Tracker) Present() []Presence {
	states := t.Snapshot()

	present := make([]Presence, 0, len(states))
	for id, state := range states {
		present = append(present, Presence{User: id, State: state})
	}
	slices.SortFunc(present, func(a, b Presence) int {
		switch {
		case a.User < b.User:
			return -1
		case a.User > b.User:
			return 1
		default:
			return 0
		}
	})

	return present
}

// logoutTime never lets a session end before it started; the store rejects
// such a close and would fail every following cycle.
func logoutTime(s State, at time.Time) time.Time {
	if at.Before(s.LoginAt) {
		return s.LoginAt
	}
	return at
}

func (t *Tracker) commit(states map[model.ID]State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.states = states
}

// candidates returns, in id order, every registered user plus anyone still
// holding an open session.
func (t *Tracker) candidates(current map[model.ID]State) []model.ID {
	users := t.dir.Users()

	ids := make([]model.ID, 0, len(users)+len(current))
	known := make(map[model.ID]struct{}, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
		known[user.ID] = struct{}{}
	}
	for id := range current {
		if _, ok := known[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	return ids
}
