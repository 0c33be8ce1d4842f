package pg

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"payerbook.org/internal/entity"
)

const (
	pgErrUniqueViolation = "23505"

	constraintEntityTin  = "entity_user_tin_key"
	constraintEntityName = "entity_user_name_key"
)

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// entityWriteError maps per-user uniqueness violations onto entity conflicts.
func entityWriteError(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok || pgErr.Code != pgErrUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintEntityTin:
		return entity.ErrConflictTin
	case constraintEntityName:
		return entity.ErrConflictName
	}
	return err
}
