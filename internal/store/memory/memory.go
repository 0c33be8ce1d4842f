// Package memory is an in-process credential store with the same uniqueness
// rules as the PostgreSQL schema. It backs tests and the development server.
package memory

import (
	"context"
	"sort"
	"sync"

	"payerbook.org/internal/account"
	"payerbook.org/internal/entity"
)

// Store keeps users, entities and forms in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	nextUserID   int64
	nextEntityID int64
	nextFormID   int64

	usersByEmail map[string]account.User
	entities     map[int64]entity.Entity
	forms        map[int64]entity.Form
}

func New() *Store {
	return &Store{
		usersByEmail: make(map[string]account.User),
		entities:     make(map[int64]entity.Entity),
		forms:        make(map[int64]entity.Form),
	}
}

// Users exposes the account.UserStore view.
func (s *Store) Users() account.UserStore { return userStore{s} }

// Entities exposes the entity.Store view.
func (s *Store) Entities() entity.Store { return entityStore{s} }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// AddForm records a form for a payer. Forms are read-only through the API.
func (s *Store) AddForm(f entity.Form) entity.Form {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFormID++
	f.ID = s.nextFormID
	s.forms[f.ID] = f
	return f
}

type userStore struct{ s *Store }

func (u userStore) FindByEmail(ctx context.Context, email string) (account.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	user, ok := u.s.usersByEmail[email]
	if !ok {
		return account.User{}, account.ErrAccountNotFound
	}
	return user, nil
}

func (u userStore) Create(ctx context.Context, email, passwordHash string) (account.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, exists := u.s.usersByEmail[email]; exists {
		return account.User{}, account.ErrEmailInUse
	}
	u.s.nextUserID++
	user := account.User{ID: u.s.nextUserID, Email: email, PasswordHash: passwordHash}
	u.s.usersByEmail[email] = user
	return user, nil
}

type entityStore struct{ s *Store }

func (e entityStore) ListByUser(ctx context.Context, userID int64) ([]entity.Entity, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	out := make([]entity.Entity, 0)
	for _, item := range e.s.entities {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (e entityStore) Get(ctx context.Context, userID, entityID int64) (entity.Entity, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	item, ok := e.s.entities[entityID]
	if !ok || item.UserID != userID {
		return entity.Entity{}, entity.ErrNotFound
	}
	return item, nil
}

func (e entityStore) FindConflicts(ctx context.Context, userID int64, tin, name string, excludeID int64) ([]entity.Entity, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	return e.s.conflictsLocked(userID, tin, name, excludeID), nil
}

func (e entityStore) Create(ctx context.Context, item entity.Entity) (entity.Entity, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	if err := conflictError(e.s.conflictsLocked(item.UserID, item.TIN, item.Name, 0), item); err != nil {
		return entity.Entity{}, err
	}
	e.s.nextEntityID++
	item.ID = e.s.nextEntityID
	e.s.entities[item.ID] = item
	return item, nil
}

func (e entityStore) Update(ctx context.Context, item entity.Entity) (entity.Entity, error) {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	current, ok := e.s.entities[item.ID]
	if !ok || current.UserID != item.UserID {
		return entity.Entity{}, entity.ErrNotFound
	}
	if err := conflictError(e.s.conflictsLocked(item.UserID, item.TIN, item.Name, item.ID), item); err != nil {
		return entity.Entity{}, err
	}
	e.s.entities[item.ID] = item
	return item, nil
}

func (e entityStore) FormsForEntity(ctx context.Context, userID, entityID int64) ([]entity.Form, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	out := make([]entity.Form, 0)
	for _, f := range e.s.forms {
		if f.PayerID == entityID && f.UserID == userID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) conflictsLocked(userID int64, tin, name string, excludeID int64) []entity.Entity {
	var out []entity.Entity
	for id, item := range s.entities {
		if item.UserID != userID || (excludeID > 0 && id == excludeID) {
			continue
		}
		if item.TIN == tin || item.Name == name {
			out = append(out, item)
		}
	}
	return out
}

// conflictError reports the first constraint a real database would trip.
func conflictError(rows []entity.Entity, item entity.Entity) error {
	for _, row := range rows {
		if row.TIN == item.TIN {
			return entity.ErrConflictTin
		}
	}
	for _, row := range rows {
		if row.Name == item.Name {
			return entity.ErrConflictName
		}
	}
	return nil
}
