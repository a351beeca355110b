package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/protomem/attendance-tracker/internal/database"
	"github.com/protomem/attendance-tracker/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserStore struct {
	mu     sync.Mutex
	users  map[model.ID]model.User
	nextID model.ID
	err    error
}

func newFakeUserStore(users ...model.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[model.ID]model.User)}
	for _, user := range users {
		s.users[user.ID] = user
		if user.ID > s.nextID {
			s.nextID = user.ID
		}
	}
	return s
}

func (s *fakeUserStore) All(context.Context) ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	users := make([]model.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	return users, nil
}

func (s *fakeUserStore) Get(_ context.Context, id model.ID) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return model.User{}, model.NewError("user", model.ErrNotFound)
	}
	return user, nil
}

func (s *fakeUserStore) Insert(_ context.Context, dto database.InsertUserDTO) (model.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return 0, s.err
	}
	s.nextID++
	s.users[s.nextID] = model.User{ID: s.nextID, Name: dto.Name, Role: dto.Role, HardwareAddr: dto.HardwareAddr}
	return s.nextID, nil
}

func (s *fakeUserStore) BindHardwareAddr(_ context.Context, id model.ID, addr model.HardwareAddr, reassign bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	for otherID, other := range s.users {
		if otherID != id && other.HardwareAddr != nil && *other.HardwareAddr == addr {
			if !reassign {
				return model.NewError("hardware address", model.ErrExists)
			}
			other.HardwareAddr = nil
			s.users[otherID] = other
		}
	}
	user := s.users[id]
	user.HardwareAddr = &addr
	s.users[id] = user
	return nil
}

func newTestDirectory(t *testing.T, store UserStore) *Directory {
	t.Helper()

	d := New(slog.New(slog.NewTextHandler(io.Discard, nil)), store)
	require.NoError(t, d.Load(context.Background()))
	return d
}

func addrPtr(s string) *model.HardwareAddr {
	addr := model.MustParseHardwareAddr(s)
	return &addr
}

func TestDirectory_LoadAndResolve(t *testing.T) {
	store := newFakeUserStore(
		model.User{ID: 1, Name: "U1", Role: model.RoleStudent, HardwareAddr: addrPtr("AA:BB:CC:DD:EE:01")},
		model.User{ID: 2, Name: "U2", Role: model.RoleMentor},
	)
	d := newTestDirectory(t, store)

	id, ok := d.Resolve(model.MustParseHardwareAddr("aa:bb:cc:dd:ee:01"))
	require.True(t, ok)
	assert.Equal(t, model.ID(1), id)

	_, ok = d.Resolve(model.MustParseHardwareAddr("AA:BB:CC:DD:EE:99"))
	assert.False(t, ok, "unregistered device")

	users := d.Users()
	require.Len(t, users, 2)
	assert.Equal(t, model.ID(1), users[0].ID)
	assert.Equal(t, model.ID(2), users[1].ID)
}

func TestDirectory_LoadError(t *testing.T) {
	store := newFakeUserStore()
	store.err = errors.New("boom")

	d := New(slog.New(slog.NewTextHandler(io.Discard, nil)), store)
	require.Error(t, d.Load(context.Background()))
}

func TestDirectory_RegisterConflict(t *testing.T) {
	ctx := context.Background()
	store := newFakeUserStore(
		model.User{ID: 1, Name: "U1"},
		model.User{ID: 2, Name: "U2"},
	)
	d := newTestDirectory(t, store)
	addr := model.MustParseHardwareAddr("AA:BB:CC:DD:EE:FF")

	require.NoError(t, d.Register(ctx, 1, addr, false))

	err := d.Register(ctx, 2, addr, false)
	require.ErrorIs(t, err, model.ErrExists)

	id, ok := d.Resolve(addr)
	require.True(t, ok)
	assert.Equal(t, model.ID(1), id, "existing binding must be preserved")

	u2, _ := d.Lookup(2)
	assert.Nil(t, u2.HardwareAddr)

	// Registering the same binding again is a no-op.
	require.NoError(t, d.Register(ctx, 1, addr, false))
}

func TestDirectory_RegisterReassign(t *testing.T) {
	ctx := context.Background()
	store := newFakeUserStore(
		model.User{ID: 1, Name: "U1", HardwareAddr: addrPtr("AA:BB:CC:DD:EE:FF")},
		model.User{ID: 2, Name: "U2", HardwareAddr: addrPtr("00:00:00:00:00:02")},
	)
	d := newTestDirectory(t, store)
	addr := model.MustParseHardwareAddr("AA:BB:CC:DD:EE:FF")

	require.NoError(t, d.Register(ctx, 2, addr, true))

	id, ok := d.Resolve(addr)
	require.True(t, ok)
	assert.Equal(t, model.ID(2), id)

	_, ok = d.Resolve(model.MustParseHardwareAddr("00:00:00:00:00:02"))
	assert.False(t, ok, "replaced address is released")

	u1, _ := d.Lookup(1)
	assert.Nil(t, u1.HardwareAddr)

	persisted, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, persisted.HardwareAddr)
}

func TestDirectory_RegisterUnknownUser(t *testing.T) {
	d := newTestDirectory(t, newFakeUserStore())

	err := d.Register(context.Background(), 7, model.MustParseHardwareAddr("AA:BB:CC:DD:EE:FF"), false)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDirectory_RegisterStoreFailureKeepsIndex(t *testing.T) {
	store := newFakeUserStore(model.User{ID: 1, Name: "U1"})
	d := newTestDirectory(t, store)
	store.err = errors.New("disk full")

	addr := model.MustParseHardwareAddr("AA:BB:CC:DD:EE:FF")
	require.Error(t, d.Register(context.Background(), 1, addr, false))

	_, ok := d.Resolve(addr)
	assert.False(t, ok)
}

func TestDirectory_Create(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t, newFakeUserStore(
		model.User{ID: 1, Name: "U1", HardwareAddr: addrPtr("AA:BB:CC:DD:EE:FF")},
	))

	user, err := d.Create(ctx, "U2", model.RoleMentor, addrPtr("00:11:22:33:44:55"))
	require.NoError(t, err)
	assert.Equal(t, "U2", user.Name)

	id, ok := d.Resolve(model.MustParseHardwareAddr("00:11:22:33:44:55"))
	require.True(t, ok)
	assert.Equal(t, user.ID, id)

	_, err = d.Create(ctx, "U3", model.RoleStudent, addrPtr("AA:BB:CC:DD:EE:FF"))
	assert.ErrorIs(t, err, model.ErrExists)
	assert.Len(t, d.Users(), 2)
}

func TestDirectory_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	store := newFakeUserStore(model.User{ID: 1, Name: "U1"})
	d := newTestDirectory(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				d.Resolve("AA:BB:CC:DD:EE:FF")
				d.Users()
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_, err := d.Create(ctx, "user", model.RoleOther, nil)
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Len(t, d.Users(), 21)
}
