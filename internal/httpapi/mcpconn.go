package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"scholar/backend/internal/mcp"
	"scholar/backend/internal/store"
)

type mcpConnectionRequest struct {
	QualifiedName string          `json:"qualified_name"`
	Name          string          `json:"name"`
	Config        json.RawMessage `json:"config"`
	EnabledTools  json.RawMessage `json:"enabled_tools"`
}

func (h Handler) ListMCPConnections(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	conns, err := h.mcpConns.ListForAccount(r.Context(), account.ID)
	if err != nil {
		log.Printf("mcp connection list failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list connections")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

func (h Handler) CreateMCPConnection(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	var req mcpConnectionRequest
	if err := decodeJSONLoose(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.QualifiedName) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "qualified_name is required")
		return
	}
	conn, err := h.mcpConns.Create(r.Context(), store.MCPConnection{
		AccountID:     account.ID,
		QualifiedName: req.QualifiedName,
		Name:          req.Name,
		Config:        req.Config,
		EnabledTools:  req.EnabledTools,
	})
	if err != nil {
		log.Printf("mcp connection create failed account=%s err=%v", account.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create connection")
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (h Handler) GetMCPConnection(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	id := chi.URLParam(r, "connectionID")
	conn, err := h.mcpConns.GetForAccount(r.Context(), account.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "connection not found")
		return
	}
	if err != nil {
		log.Printf("mcp connection get failed account=%s id=%s err=%v", account.ID, id, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to load connection")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h Handler) UpdateMCPConnection(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	id := chi.URLParam(r, "connectionID")
	var req mcpConnectionRequest
	if err := decodeJSONLoose(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	conn, err := h.mcpConns.Update(r.Context(), account.ID, id, req.Name, req.Config, req.EnabledTools)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "connection not found")
		return
	}
	if err != nil {
		log.Printf("mcp connection update failed account=%s id=%s err=%v", account.ID, id, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to update connection")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h Handler) DeleteMCPConnection(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	id := chi.URLParam(r, "connectionID")
	err := h.mcpConns.Delete(r.Context(), account.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "connection not found")
		return
	}
	if err != nil {
		log.Printf("mcp connection delete failed account=%s id=%s err=%v", account.ID, id, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to delete connection")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type mcpMetadataRequest struct {
	Name           string            `json:"name"`
	Transport      string            `json:"transport"`
	Command        string            `json:"command"`
	Args           []string          `json:"args"`
	URL            string            `json:"url"`
	Env            map[string]string `json:"env"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

type mcpMetadataResponse struct {
	Name      string            `json:"name"`
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	URL       string            `json:"url,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Tools     []mcp.Tool        `json:"tools"`
	Enabled   bool              `json:"enabled"`
	CreatedAt int64             `json:"createdAt"`
	UpdatedAt int64             `json:"updatedAt"`
}

// MCPServerMetadata probes an MCP server and returns the tools it exposes.
func (h Handler) MCPServerMetadata(w http.ResponseWriter, r *http.Request) {
	account, ok := sessionAccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	var req mcpMetadataRequest
	if err := decodeJSONLoose(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	timeout := time.Duration(h.cfg.MCPTimeoutSeconds) * time.Second
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	tools, err := mcp.ListTools(r.Context(), mcp.ServerSpec{
		Transport: req.Transport,
		Command:   req.Command,
		Args:      req.Args,
		URL:       req.URL,
		Env:       req.Env,
		Timeout:   timeout,
	})
	if errors.Is(err, mcp.ErrUnsupportedTransport) || errors.Is(err, mcp.ErrMissingCommand) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err != nil {
		log.Printf("mcp metadata probe failed account=%s command=%q err=%v", account.ID, req.Command, err)
		writeError(w, http.StatusBadGateway, "mcp_error", "failed to query mcp server")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSpace(req.Command)
	}
	if name == "" {
		name = strings.TrimSpace(req.URL)
	}
	if name == "" {
		name = "unknown"
	}
	if tools == nil {
		tools = []mcp.Tool{}
	}

	now := time.Now().UnixMilli()
	writeJSON(w, http.StatusOK, mcpMetadataResponse{
		Name:      name,
		Transport: req.Transport,
		Command:   req.Command,
		Args:      req.Args,
		URL:       req.URL,
		Env:       req.Env,
		Tools:     tools,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	})
}
