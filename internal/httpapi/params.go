package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"scholar/backend/internal/store"
)

func (h Handler) ListModelParameters(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	params, err := h.params.ListForAccount(r.Context(), account.ID)
	if err != nil {
		log.Printf("model parameters list failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list model parameters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"parameters": params})
}

func (h Handler) GetModelParameters(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	modelID := strings.TrimSpace(chi.URLParam(r, "modelID"))
	if modelID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model id is required")
		return
	}
	params, err := h.params.GetForModel(r.Context(), account.ID, modelID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no parameters stored for model")
		return
	}
	if err != nil {
		log.Printf("model parameters get failed account=%s model=%s err=%v", account.ID, modelID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load model parameters")
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (h Handler) UpsertModelParameters(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	modelID := strings.TrimSpace(chi.URLParam(r, "modelID"))
	if modelID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model id is required")
		return
	}
	var overrides map[string]any
	if err := decodeJSONLoose(r, &overrides); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	params, err := h.params.Upsert(r.Context(), account.ID, modelID, overrides)
	if err != nil {
		log.Printf("model parameters upsert failed account=%s model=%s err=%v", account.ID, modelID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to save model parameters")
		return
	}
	writeJSON(w, http.StatusOK, params)
}

func (h Handler) DeleteModelParameters(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	modelID := strings.TrimSpace(chi.URLParam(r, "modelID"))
	if modelID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model id is required")
		return
	}
	err := h.params.DeleteForModel(r.Context(), account.ID, modelID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "no parameters stored for model")
		return
	}
	if err != nil {
		log.Printf("model parameters delete failed account=%s model=%s err=%v", account.ID, modelID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to delete model parameters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
