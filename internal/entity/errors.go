package entity

import "errors"

var (
	ErrAllFieldsRequired   = errors.New("entity: all fields required")
	ErrDuplicateTinAndName = errors.New("entity: duplicate tin and name")
	ErrDuplicateTin        = errors.New("entity: duplicate tin")
	ErrDuplicateName       = errors.New("entity: duplicate name")
	ErrInvalidTinFormat    = errors.New("entity: invalid tin format")
	ErrInvalidState        = errors.New("entity: invalid state")
	ErrInvalidZip          = errors.New("entity: invalid zip")
	ErrNotFound            = errors.New("entity: not found")
)

// Client-facing messages.
const (
	MsgAllFieldsRequired   = "All fields must be filled"
	MsgDuplicateTinAndName = "An entity with this TIN and name already exists."
	MsgDuplicateTin        = "An entity with this TIN already exists."
	MsgDuplicateName       = "An entity with this name already exists."
	MsgInvalidSSN          = "An SSN must be 9 digits and formatted xxx-xx-xxxx"
	MsgInvalidEIN          = "An EIN must be 9 digits and formatted xx-xxxxxxx"
	MsgInvalidState        = "The State abbreviation should be a 2-letter code (Ex: ID, UT, AZ)"
	MsgInvalidZip          = "The ZIP should be a 5-digit number"
	MsgNotFound            = "Entity not found."
)

// ValidationError pairs a sentinel with the message shown to the client.
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, msg string) *ValidationError {
	return &ValidationError{Err: err, Message: msg}
}

// Store-level conflicts reported by Create/Update when a unique constraint fires.
var (
	ErrConflictTin  = errors.New("entity store: tin already used")
	ErrConflictName = errors.New("entity store: name already used")
)
