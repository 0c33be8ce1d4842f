package account

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrIncorrectPassword = errors.New("incorrect password")
	ErrAllFieldsRequired = errors.New("all fields must be filled")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrPasswordMismatch  = errors.New("passwords need to match")
	ErrEmailInUse        = errors.New("account already associated with this email")
)
