package httpapi

import (
	"log"
	"net/http"
)

type settingsEnvelope struct {
	Settings map[string]any `json:"settings"`
}

func (h Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	settings, err := h.settings.Get(r.Context(), account.ID)
	if err != nil {
		log.Printf("settings get failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsEnvelope{Settings: settings})
}

func (h Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	var req settingsEnvelope
	if err := decodeJSONLoose(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Settings == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "settings object is required")
		return
	}
	settings, err := h.settings.Upsert(r.Context(), account.ID, req.Settings)
	if err != nil {
		log.Printf("settings upsert failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsEnvelope{Settings: settings})
}

func (h Handler) ResetSettings(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	settings, err := h.settings.Reset(r.Context(), account.ID)
	if err != nil {
		log.Printf("settings reset failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to reset settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsEnvelope{Settings: settings})
}
