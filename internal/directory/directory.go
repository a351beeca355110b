// Package directory maps registered hardware addresses to users.
//
// Reads go through an immutable snapshot swapped atomically on every write, so
// the scan path never waits on a registration in flight.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/protomem/attendance-tracker/internal/database"
	"github.com/protomem/attendance-tracker/internal/model"
	"golang.org/x/exp/slices"
)

type UserStore interface {
	All(ctx context.Context) ([]model.User, error)
	Get(ctx context.Context, id model.ID) (model.User, error)
	Insert(ctx context.Context, dto database.InsertUserDTO) (model.ID, error)
	BindHardwareAddr(ctx context.Context, id model.ID, addr model.HardwareAddr, reassign bool) error
}

var _ UserStore = (*database.UserDAO)(nil)

type snapshot struct {
	users  map[model.ID]model.User
	byAddr map[model.HardwareAddr]model.ID
}

func newSnapshot(users []model.User) *snapshot {
	snap := &snapshot{
		users:  make(map[model.ID]model.User, len(users)),
		byAddr: make(map[model.HardwareAddr]model.ID, len(users)),
	}
	for _, user := range users {
		snap.put(user)
	}
	return snap
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		users:  make(map[model.ID]model.User, len(s.users)+1),
		byAddr: make(map[model.HardwareAddr]model.ID, len(s.byAddr)+1),
	}
	for id, user := range s.users {
		next.users[id] = user
	}
	for addr, id := range s.byAddr {
		next.byAddr[addr] = id
	}
	return next
}

func (s *snapshot) put(user model.User) {
	if prev, ok := s.users[user.ID]; ok && prev.HardwareAddr != nil {
		delete(s.byAddr, *prev.HardwareAddr)
	}
	s.users[user.ID] = user
	if user.HardwareAddr != nil {
		s.byAddr[*user.HardwareAddr] = user.ID
	}
}

type Directory struct {
	logger *slog.Logger
	store  UserStore

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

func New(logger *slog.Logger, store UserStore) *Directory {
	d := &Directory{
		logger: logger.With("module", "directory"),
		store:  store,
	}
	d.snap.Store(newSnapshot(nil))
	return d
}

// Load replaces the in-memory index with the users in the store.
func (d *Directory) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	users, err := d.store.All(ctx)
	if err != nil {
		return fmt.Errorf("directory: load: %w", err)
	}

	snap := newSnapshot(nil)
	for _, user := range users {
		if user.HardwareAddr != nil {
			if owner, ok := snap.byAddr[*user.HardwareAddr]; ok {
				d.logger.Warn("duplicate hardware address in store, keeping first owner",
					"addr", *user.HardwareAddr, "owner", owner, "user", user.ID)
				user.HardwareAddr = nil
			}
		}
		snap.put(user)
	}
	d.snap.Store(snap)

	d.logger.Info("loaded users", "countUsers", len(snap.users), "countAddrs", len(snap.byAddr))

	return nil
}

// Resolve returns the user bound to addr. Unknown devices resolve to false.
func (d *Directory) Resolve(addr model.HardwareAddr) (model.ID, bool) {
	id, ok := d.snap.Load().byAddr[addr]
	return id, ok
}

func (d *Directory) Lookup(id model.ID) (model.User, bool) {
	user, ok := d.snap.Load().users[id]
	return user, ok
}

// Users returns all known users ordered by id.
func (d *Directory) Users() []model.User {
	snap := d.snap.Load()

	users := make([]model.User, 0, len(snap.users))
	for _, user := range snap.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b model.User) int {
		return cmpID(a.ID, b.ID)
	})

	return users
}

// Register binds addr to the user. An address owned by another user is a
// conflict unless reassign is set, in which case the last writer wins.
func (d *Directory) Register(ctx context.Context, id model.ID, addr model.HardwareAddr, reassign bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.snap.Load()

	user, ok := snap.users[id]
	if !ok {
		return model.NewError("user", model.ErrNotFound)
	}

	owner, bound := snap.byAddr[addr]
	switch {
	case bound && owner == id:
		return nil
	case bound && !reassign:
		return model.NewError("hardware address", fmt.Errorf("%w: %s is bound to user %d", model.ErrExists, addr, owner))
	}

	if err := d.store.BindHardwareAddr(ctx, id, addr, reassign); err != nil {
		return err
	}

	next := snap.clone()
	if bound {
		prev := next.users[owner]
		prev.HardwareAddr = nil
		next.put(prev)

		d.logger.Info("hardware address reassigned", "addr", addr, "from", owner, "to", id)
	}
	user.HardwareAddr = &addr
	next.put(user)
	d.snap.Store(next)

	d.logger.Info("hardware address registered", "user", id, "addr", addr)

	return nil
}

// Create persists a new user and indexes it.
func (d *Directory) Create(ctx context.Context, name string, role model.Role, addr *model.HardwareAddr) (model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap := d.snap.Load()

	if addr != nil {
		if owner, ok := snap.byAddr[*addr]; ok {
			return model.User{}, model.NewError("hardware address", fmt.Errorf("%w: %s is bound to user %d", model.ErrExists, *addr, owner))
		}
	}

	id, err := d.store.Insert(ctx, database.InsertUserDTO{
		Name:         name,
		Role:         role,
		HardwareAddr: addr,
	})
	if err != nil {
		return model.User{}, err
	}

	user, err := d.store.Get(ctx, id)
	if err != nil {
		return model.User{}, err
	}

	next := snap.clone()
	next.put(user)
	d.snap.Store(next)

	d.logger.Info("user created", "user", user.ID, "name", user.Name, "role", user.Role)

	return user, nil
}

func cmpID(a, b model.ID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
