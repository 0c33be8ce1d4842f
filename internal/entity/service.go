package entity

import (
	"context"
	"errors"
	"fmt"
)

// Store persists entities and reads forms. Implementations scope every
// lookup by user id and report unique-constraint hits as ErrConflictTin or
// ErrConflictName.
type Store interface {
	ConflictFinder
	ListByUser(ctx context.Context, userID int64) ([]Entity, error)
	Get(ctx context.Context, userID, entityID int64) (Entity, error)
	Create(ctx context.Context, e Entity) (Entity, error)
	Update(ctx context.Context, e Entity) (Entity, error)
	FormsForEntity(ctx context.Context, userID, entityID int64) ([]Form, error)
}

// Service applies validation before touching the store.
type Service struct {
	store     Store
	validator *Validator
}

func NewService(store Store) *Service {
	return &Service{store: store, validator: NewValidator(store)}
}

// Add validates and inserts a new entity owned by userID.
func (s *Service) Add(ctx context.Context, userID int64, in Input) (Entity, error) {
	in = in.normalized()
	if err := s.validator.ValidateAdd(ctx, userID, in); err != nil {
		return Entity{}, err
	}
	created, err := s.store.Create(ctx, in.toEntity(userID))
	if err != nil {
		return Entity{}, translateConflict(err)
	}
	return created, nil
}

// Update validates and fully replaces the entity keyed by (in.ID, userID).
func (s *Service) Update(ctx context.Context, userID int64, in Input) (Entity, error) {
	in = in.normalized()
	if err := s.validator.ValidateUpdate(ctx, userID, in); err != nil {
		return Entity{}, err
	}
	updated, err := s.store.Update(ctx, in.toEntity(userID))
	if err != nil {
		return Entity{}, translateConflict(err)
	}
	return updated, nil
}

// List returns every entity owned by userID.
func (s *Service) List(ctx context.Context, userID int64) ([]Entity, error) {
	items, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	if items == nil {
		items = []Entity{}
	}
	return items, nil
}

// Get returns one entity owned by userID or ErrNotFound.
func (s *Service) Get(ctx context.Context, userID, entityID int64) (Entity, error) {
	if entityID <= 0 {
		return Entity{}, ErrNotFound
	}
	return s.store.Get(ctx, userID, entityID)
}

// Forms returns the forms filed against entityID by userID, possibly none.
func (s *Service) Forms(ctx context.Context, userID, entityID int64) ([]Form, error) {
	if entityID <= 0 {
		return []Form{}, nil
	}
	forms, err := s.store.FormsForEntity(ctx, userID, entityID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	if forms == nil {
		forms = []Form{}
	}
	return forms, nil
}

// translateConflict maps a constraint hit lost to a concurrent writer back to
// the duplicate error the pre-check would have produced.
func translateConflict(err error) error {
	tin := errors.Is(err, ErrConflictTin)
	name := errors.Is(err, ErrConflictName)
	if dup := duplicateError(tin, name); dup != nil {
		return dup
	}
	return err
}
