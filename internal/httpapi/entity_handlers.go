package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"payerbook.org/internal/audit"
	"payerbook.org/internal/auth"
	"payerbook.org/internal/entity"
)

const (
	msgEntityAdded   = "Entity added successfully"
	msgEntityUpdated = "Entity updated successfully"
)

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, msgInvalidToken)
		return
	}
	items, err := a.entities.List(r.Context(), userID)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, items)
}

func (a *API) handleAddEntity(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, msgInvalidToken)
		return
	}
	var in entity.Input
	if err := decodeJSON(r, &in); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	created, err := a.entities.Add(r.Context(), userID, in)
	if err != nil {
		handleEntityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "entity.added", map[string]any{"entity_id": created.ID})
	writeSuccess(w, http.StatusCreated, msgEntityAdded)
}

func (a *API) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, msgInvalidToken)
		return
	}
	var in entity.Input
	if err := decodeJSON(r, &in); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	updated, err := a.entities.Update(r.Context(), userID, in)
	if err != nil {
		handleEntityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "entity.updated", map[string]any{"entity_id": updated.ID})
	writeSuccess(w, http.StatusCreated, msgEntityUpdated)
}

func (a *API) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, msgInvalidToken)
		return
	}
	entityID, ok := entityIDVar(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, entity.MsgNotFound)
		return
	}
	item, err := a.entities.Get(r.Context(), userID, entityID)
	if err != nil {
		handleEntityError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, item)
}

func (a *API) handleForms(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, msgInvalidToken)
		return
	}
	entityID, ok := entityIDVar(r)
	if !ok {
		writeSuccess(w, http.StatusOK, []entity.Form{})
		return
	}
	forms, err := a.entities.Forms(r.Context(), userID, entityID)
	if err != nil {
		serverError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, forms)
}

func entityIDVar(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["entityId"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func handleEntityError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *entity.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, verr.Message)
	case errors.Is(err, entity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, entity.MsgNotFound)
	default:
		serverError(w, r, err)
	}
}
