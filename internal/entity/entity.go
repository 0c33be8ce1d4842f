// Package entity owns taxpayer entities (payers), their validation rules and
// the read-only forms filed against them.
package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Entity is a payer owned by exactly one user.
type Entity struct {
	ID           int64  `json:"entity_id"`
	Name         string `json:"name"`
	Street       string `json:"street"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          string `json:"zip"`
	TIN          string `json:"entity_tin"`
	IsIndividual bool   `json:"is_individual"`
	UserID       int64  `json:"user_id"`
}

// Form is a tax form filed against a payer entity.
type Form struct {
	ID      int64  `json:"form_id"`
	Name    string `json:"name"`
	TIN     string `json:"tin"`
	Type    string `json:"type"`
	PayerID int64  `json:"payer_id"`
	UserID  int64  `json:"user_id"`
}

// Input is the client payload for add and update.
type Input struct {
	ID           int64  `json:"entity_id"`
	Name         string `json:"name"`
	Street       string `json:"street"`
	City         string `json:"city"`
	State        string `json:"state"`
	Zip          ZIP    `json:"zip"`
	TIN          string `json:"entity_tin"`
	IsIndividual bool   `json:"is_individual"`
}

// ZIP accepts either a JSON string or a JSON number.
type ZIP string

func (z *ZIP) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*z = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*z = ZIP(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("zip: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*z = ZIP(strconv.FormatInt(i, 10))
		return nil
	}
	*z = ZIP(n.String())
	return nil
}

// normalized trims every text field and upper-cases the state code.
func (in Input) normalized() Input {
	in.Name = strings.TrimSpace(in.Name)
	in.Street = strings.TrimSpace(in.Street)
	in.City = strings.TrimSpace(in.City)
	in.State = strings.ToUpper(strings.TrimSpace(in.State))
	in.Zip = ZIP(strings.TrimSpace(string(in.Zip)))
	in.TIN = strings.TrimSpace(in.TIN)
	return in
}

// toEntity binds the input to its owner.
func (in Input) toEntity(userID int64) Entity {
	return Entity{
		ID:           in.ID,
		Name:         in.Name,
		Street:       in.Street,
		City:         in.City,
		State:        in.State,
		Zip:          string(in.Zip),
		TIN:          in.TIN,
		IsIndividual: in.IsIndividual,
		UserID:       userID,
	}
}
