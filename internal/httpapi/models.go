package httpapi

import (
	"log"
	"net/http"

	"scholar/backend/internal/config"
)

// ListAccountModels seeds the catalog defaults on first call, then returns
// the account's model rows.
func (h Handler) ListAccountModels(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	if _, err := h.models.EnsureDefaults(r.Context(), account.ID); err != nil {
		log.Printf("model defaults seed failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to seed models")
		return
	}
	models, err := h.models.ListForAccount(r.Context(), account.ID)
	if err != nil {
		log.Printf("model list failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list models")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

type serverConfigResponse struct {
	RAG    ragConfigResponse                      `json:"rag"`
	Models map[config.ModelKind][]catalogModelOut `json:"models"`
}

type ragConfigResponse struct {
	Provider string `json:"provider"`
}

type catalogModelOut struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider,omitempty"`
	ContextWindow int    `json:"context_window"`
}

// ServerConfig is the public bootstrap endpoint the frontend reads before
// any session exists.
func (h Handler) ServerConfig(w http.ResponseWriter, r *http.Request) {
	byKind := h.catalog.ByKind()
	models := make(map[config.ModelKind][]catalogModelOut, len(byKind))
	for kind, entries := range byKind {
		out := make([]catalogModelOut, 0, len(entries))
		for _, entry := range entries {
			out = append(out, catalogModelOut{
				ID:            entry.ID,
				Name:          entry.Name,
				Provider:      entry.Provider,
				ContextWindow: entry.ContextWindow,
			})
		}
		models[kind] = out
	}
	writeJSON(w, http.StatusOK, serverConfigResponse{
		RAG:    ragConfigResponse{Provider: h.cfg.RAGProvider},
		Models: models,
	})
}

func (h Handler) RAGConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ragConfigResponse{Provider: h.cfg.RAGProvider})
}

type ragResource struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// RAGResources returns the retrievable resources for a query. With no RAG
// provider configured the list is always empty.
func (h Handler) RAGResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]ragResource{"resources": {}})
}
