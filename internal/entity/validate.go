package entity

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	ssnPattern = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)
	einPattern = regexp.MustCompile(`^\d{2}-\d{7}$`)
)

const (
	ssnLength = 11
	einLength = 10

	stateRule = "len=2,alpha"
	zipRule   = "len=5,number"
)

// ConflictFinder returns the caller's entities sharing tin or name, ignoring
// excludeID when it is positive.
type ConflictFinder interface {
	FindConflicts(ctx context.Context, userID int64, tin, name string, excludeID int64) ([]Entity, error)
}

type presence struct {
	Name   string `validate:"required"`
	Street string `validate:"required"`
	City   string `validate:"required"`
	State  string `validate:"required"`
	Zip    string `validate:"required"`
	TIN    string `validate:"required"`
}

// Validator runs the entity rules in order and stops at the first failure:
// presence, uniqueness, TIN shape, state, ZIP.
type Validator struct {
	finder   ConflictFinder
	validate *validator.Validate
}

func NewValidator(finder ConflictFinder) *Validator {
	return &Validator{finder: finder, validate: validator.New()}
}

// ValidateAdd checks a new entity. The input must already be normalized.
func (v *Validator) ValidateAdd(ctx context.Context, userID int64, in Input) error {
	return v.run(ctx, userID, in, 0)
}

// ValidateUpdate checks a replacement for the entity identified by in.ID.
func (v *Validator) ValidateUpdate(ctx context.Context, userID int64, in Input) error {
	if in.ID <= 0 {
		return invalid(ErrAllFieldsRequired, MsgAllFieldsRequired)
	}
	return v.run(ctx, userID, in, in.ID)
}

func (v *Validator) run(ctx context.Context, userID int64, in Input, excludeID int64) error {
	if err := v.checkPresence(in); err != nil {
		return err
	}
	if err := v.checkUnique(ctx, userID, in, excludeID); err != nil {
		return err
	}
	if err := checkTIN(in.TIN, in.IsIndividual); err != nil {
		return err
	}
	if v.validate.Var(in.State, stateRule) != nil {
		return invalid(ErrInvalidState, MsgInvalidState)
	}
	if v.validate.Var(string(in.Zip), zipRule) != nil {
		return invalid(ErrInvalidZip, MsgInvalidZip)
	}
	return nil
}

func (v *Validator) checkPresence(in Input) error {
	p := presence{
		Name:   in.Name,
		Street: in.Street,
		City:   in.City,
		State:  in.State,
		Zip:    string(in.Zip),
		TIN:    in.TIN,
	}
	if err := v.validate.Struct(p); err != nil {
		return invalid(ErrAllFieldsRequired, MsgAllFieldsRequired)
	}
	return nil
}

func (v *Validator) checkUnique(ctx context.Context, userID int64, in Input, excludeID int64) error {
	rows, err := v.finder.FindConflicts(ctx, userID, in.TIN, in.Name, excludeID)
	if err != nil {
		return fmt.Errorf("find conflicting entities: %w", err)
	}
	var tinTaken, nameTaken bool
	for _, row := range rows {
		if row.TIN == in.TIN {
			tinTaken = true
		}
		if row.Name == in.Name {
			nameTaken = true
		}
	}
	return duplicateError(tinTaken, nameTaken)
}

func duplicateError(tinTaken, nameTaken bool) error {
	switch {
	case tinTaken && nameTaken:
		return invalid(ErrDuplicateTinAndName, MsgDuplicateTinAndName)
	case tinTaken:
		return invalid(ErrDuplicateTin, MsgDuplicateTin)
	case nameTaken:
		return invalid(ErrDuplicateName, MsgDuplicateName)
	}
	return nil
}

func checkTIN(tin string, individual bool) error {
	if individual {
		if len(tin) != ssnLength || !ssnPattern.MatchString(tin) {
			return invalid(ErrInvalidTinFormat, MsgInvalidSSN)
		}
		return nil
	}
	if len(tin) != einLength || !einPattern.MatchString(tin) {
		return invalid(ErrInvalidTinFormat, MsgInvalidEIN)
	}
	return nil
}
