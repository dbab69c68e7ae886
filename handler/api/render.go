package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/looncoop/loon/core"
	"github.com/looncoop/loon/store"
)

func renderJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func renderBadRequest(w http.ResponseWriter, msg string) {
	renderJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
}

func renderErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case store.IsErrNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrDuplicateDescriptor),
		errors.Is(err, core.ErrIndexConflict),
		errors.Is(err, core.ErrSyncInProgress),
		errors.Is(err, core.ErrNotSynced),
		errors.Is(err, core.ErrInputSpent):
		status = http.StatusConflict
	case errors.Is(err, core.ErrInsufficientFunds):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrChainUnavailable),
		errors.Is(err, core.ErrChainTimeout):
		status = http.StatusBadGateway
	}

	renderJSON(w, status, map[string]any{"error": err.Error()})
}
