package pg

import (
	"context"
	"database/sql"
	"errors"

	"payerbook.org/internal/entity"
)

const entityColumns = `entity_id, name, street, city, state, zip, entity_tin, is_individual, user_id`

type entityStore struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (entity.Entity, error) {
	var e entity.Entity
	err := row.Scan(&e.ID, &e.Name, &e.Street, &e.City, &e.State, &e.Zip, &e.TIN, &e.IsIndividual, &e.UserID)
	return e, err
}

func (s entityStore) ListByUser(ctx context.Context, userID int64) ([]entity.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+entityColumns+`
		from entity
		where user_id = $1
		order by entity_id asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []entity.Entity{}
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s entityStore) Get(ctx context.Context, userID, entityID int64) (entity.Entity, error) {
	e, err := scanEntity(s.db.QueryRowContext(ctx, `
		select `+entityColumns+`
		from entity
		where entity_id = $1 and user_id = $2
	`, entityID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Entity{}, entity.ErrNotFound
	}
	if err != nil {
		return entity.Entity{}, err
	}
	return e, nil
}

func (s entityStore) FindConflicts(ctx context.Context, userID int64, tin, name string, excludeID int64) ([]entity.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		select entity_tin, name
		from entity
		where user_id = $1
			and (entity_tin = $2 or name = $3)
			and entity_id <> $4
	`, userID, tin, name, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []entity.Entity
	for rows.Next() {
		var e entity.Entity
		if err := rows.Scan(&e.TIN, &e.Name); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s entityStore) Create(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into entity (name, street, city, state, zip, entity_tin, is_individual, user_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
		returning entity_id
	`, e.Name, e.Street, e.City, e.State, e.Zip, e.TIN, e.IsIndividual, e.UserID).Scan(&e.ID)
	if err != nil {
		return entity.Entity{}, entityWriteError(err)
	}
	return e, nil
}

func (s entityStore) Update(ctx context.Context, e entity.Entity) (entity.Entity, error) {
	res, err := s.db.ExecContext(ctx, `
		update entity
		set name = $1, street = $2, city = $3, state = $4, zip = $5, entity_tin = $6, is_individual = $7
		where entity_id = $8 and user_id = $9
	`, e.Name, e.Street, e.City, e.State, e.Zip, e.TIN, e.IsIndividual, e.ID, e.UserID)
	if err != nil {
		return entity.Entity{}, entityWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return entity.Entity{}, err
	}
	if n == 0 {
		return entity.Entity{}, entity.ErrNotFound
	}
	return e, nil
}

func (s entityStore) FormsForEntity(ctx context.Context, userID, entityID int64) ([]entity.Form, error) {
	rows, err := s.db.QueryContext(ctx, `
		select form_id, name, tin, type, payer_id, user_id
		from form
		where payer_id = $1 and user_id = $2
		order by form_id asc
	`, entityID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := []entity.Form{}
	for rows.Next() {
		var f entity.Form
		if err := rows.Scan(&f.ID, &f.Name, &f.TIN, &f.Type, &f.PayerID, &f.UserID); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}
