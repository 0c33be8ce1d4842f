package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const (
	msgServerError  = "Server error occurred"
	msgInvalidBody  = "Invalid request body"
	msgBodyTooLarge = "Request body too large"
)

type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, envelope{
		Success:   false,
		Message:   msg,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "Method not allowed")
}

var errEmptyBody = errors.New("request body is required")

// decodeJSON reads exactly one JSON value. Unknown fields are tolerated since
// browser forms echo back whole records.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// writeDecodeError reports a malformed or oversized body.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, msgBodyTooLarge)
		return
	}
	writeError(w, r, http.StatusBadRequest, msgInvalidBody)
}
