package auth

import "errors"

var (
	// ErrInvalidToken indicates an access token failed validation.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInvalidRefreshToken indicates a refresh token is malformed, expired,
	// forged or already consumed.
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")
)
