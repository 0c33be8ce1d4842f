package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"payerbook.org/internal/account"
	"payerbook.org/internal/entity"
)

type Store struct {
	db *sql.DB
}

var (
	_ account.UserStore = userStore{}
	_ entity.Store      = entityStore{}
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle; used with sqlmock in tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Users() account.UserStore { return userStore{db: s.db} }

func (s *Store) Entities() entity.Store { return entityStore{db: s.db} }

type userStore struct {
	db *sql.DB
}

func (u userStore) FindByEmail(ctx context.Context, email string) (account.User, error) {
	var user account.User
	err := u.db.QueryRowContext(ctx, `
		select user_id, email, password
		from app_user
		where email = $1
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return account.User{}, account.ErrAccountNotFound
	}
	if err != nil {
		return account.User{}, err
	}
	return user, nil
}

func (u userStore) Create(ctx context.Context, email, passwordHash string) (account.User, error) {
	user := account.User{Email: email, PasswordHash: passwordHash}
	err := u.db.QueryRowContext(ctx, `
		insert into app_user (email, password)
		values ($1, $2)
		returning user_id
	`, email, passwordHash).Scan(&user.ID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return account.User{}, account.ErrEmailInUse
		}
		return account.User{}, err
	}
	return user, nil
}
