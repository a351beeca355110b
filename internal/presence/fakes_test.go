package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/protomem/attendance-tracker/internal/model"
)

type fakeDirectory struct {
	users []model.User
}

func newFakeDirectory(macs map[model.ID]string) *fakeDirectory {
	d := &fakeDirectory{}
	for id := model.ID(1); id <= model.ID(len(macs)); id++ {
		user := model.User{ID: id, Name: fmt.Sprintf("user-%d", id)}
		if mac, ok := macs[id]; ok && mac != "" {
			addr := model.MustParseHardwareAddr(mac)
			user.HardwareAddr = &addr
		}
		d.users = append(d.users, user)
	}
	return d
}

func (d *fakeDirectory) Users() []model.User {
	return d.users
}

func (d *fakeDirectory) Resolve(addr model.HardwareAddr) (model.ID, bool) {
	for _, user := range d.users {
		if user.HardwareAddr != nil && *user.HardwareAddr == addr {
			return user.ID, true
		}
	}
	return 0, false
}

var errStoreDown = errors.New("store unavailable")

// fakeSessionStore keeps sessions in memory and applies batches atomically.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[model.ID]model.Session
	nextID   model.ID
	fail     bool
	applied  [][]model.SessionChange
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[model.ID]model.Session)}
}

func (s *fakeSessionStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *fakeSessionStore) Current(context.Context) (map[model.ID]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[model.ID]model.Session)
	for _, session := range s.sessions {
		if session.Open() {
			current[session.User] = session
		}
	}
	return current, nil
}

func (s *fakeSessionStore) Apply(_ context.Context, changes []model.SessionChange) (map[model.ID]model.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return nil, errStoreDown
	}

	staged := make(map[model.ID]model.Session, len(s.sessions))
	for id, session := range s.sessions {
		staged[id] = session
	}
	nextID := s.nextID
	opened := make(map[model.ID]model.ID)

	for _, change := range changes {
		switch change.Kind {
		case model.SessionOpened:
			for _, session := range staged {
				if session.User == change.User && session.Open() {
					return nil, fmt.Errorf("user %d: %w", change.User, model.ErrExists)
				}
			}
			nextID++
			staged[nextID] = model.Session{ID: nextID, User: change.User, LoginAt: change.At}
			opened[change.User] = nextID
		case model.SessionClosed:
			session, ok := staged[change.Session]
			if !ok {
				return nil, model.ErrNotFound
			}
			if !session.Open() || change.At.Before(session.LoginAt.Time) {
				return nil, model.ErrInvalid
			}
			at := change.At
			session.LogoutAt = &at
			staged[change.Session] = session
		}
	}

	s.sessions = staged
	s.nextID = nextID
	s.applied = append(s.applied, changes)

	return opened, nil
}

// mutations counts changes persisted so far.
func (s *fakeSessionStore) mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, batch := range s.applied {
		n += len(batch)
	}
	return n
}

func (s *fakeSessionStore) byUser(user model.ID) []model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sessions []model.Session
	for id := model.ID(1); id <= s.nextID; id++ {
		if session, ok := s.sessions[id]; ok && session.User == user {
			sessions = append(sessions, session)
		}
	}
	return sessions
}

func (s *fakeSessionStore) openSession(user model.ID, at model.Timestamp) model.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.sessions[s.nextID] = model.Session{ID: s.nextID, User: user, LoginAt: at}
	return s.nextID
}
