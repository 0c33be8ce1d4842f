// Package account handles signup and login on top of the credential store
// and the token service.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"payerbook.org/internal/auth"
)

// User is a stored account. PasswordHash never leaves the server.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
}

// UserStore is the credential store. FindByEmail returns ErrAccountNotFound
// when no row matches; Create returns ErrEmailInUse on a unique violation.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, email, passwordHash string) (User, error)
}

// TokenIssuer mints the access/refresh pair for a user.
type TokenIssuer interface {
	IssueTokens(userID int64) (auth.TokenPair, error)
}

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the signup payload.
type SignupRequest struct {
	Email           string `json:"email" validate:"required"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirmPassword" validate:"required"`
}

// Service orchestrates login and signup.
type Service struct {
	users    UserStore
	tokens   TokenIssuer
	hasher   auth.PasswordHasher
	validate *validator.Validate
}

func NewService(users UserStore, tokens TokenIssuer, hasher auth.PasswordHasher) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		validate: validator.New(),
	}
}

// Login checks credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, creds Credentials) (User, auth.TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, normalizeEmail(creds.Email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return User{}, auth.TokenPair{}, ErrAccountNotFound
		}
		return User{}, auth.TokenPair{}, fmt.Errorf("find user: %w", err)
	}
	if !s.hasher.Matches(user.PasswordHash, creds.Password) {
		return User{}, auth.TokenPair{}, ErrIncorrectPassword
	}
	pair, err := s.tokens.IssueTokens(user.ID)
	if err != nil {
		return User{}, auth.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	return user, pair, nil
}

// Signup validates the request, stores a hashed password and issues tokens.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (User, auth.TokenPair, error) {
	req.Email = normalizeEmail(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return User{}, auth.TokenPair{}, ErrAllFieldsRequired
	}
	if err := s.validate.Var(req.Email, "email"); err != nil {
		return User{}, auth.TokenPair{}, ErrInvalidEmail
	}
	if req.Password != req.ConfirmPassword {
		return User{}, auth.TokenPair{}, ErrPasswordMismatch
	}

	_, err := s.users.FindByEmail(ctx, req.Email)
	switch {
	case err == nil:
		return User{}, auth.TokenPair{}, ErrEmailInUse
	case !errors.Is(err, ErrAccountNotFound):
		return User{}, auth.TokenPair{}, fmt.Errorf("find user: %w", err)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return User{}, auth.TokenPair{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, req.Email, hash)
	if err != nil {
		if errors.Is(err, ErrEmailInUse) {
			return User{}, auth.TokenPair{}, ErrEmailInUse
		}
		return User{}, auth.TokenPair{}, fmt.Errorf("create user: %w", err)
	}
	pair, err := s.tokens.IssueTokens(user.ID)
	if err != nil {
		return User{}, auth.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	return user, pair, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
