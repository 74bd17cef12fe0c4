package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pairpad/server/execute"
	"github.com/pairpad/server/middleware"
	"github.com/pairpad/server/protocol"
	"github.com/pairpad/server/rpc"
	"github.com/pairpad/server/session"
)

const (
	defaultInitialCode = "/* New session started. */"
	maxBodyBytes       = 2 << 20
)

type SessionHandler struct {
	registry *session.Registry
	backend  execute.Backend
}

func NewSessionHandler(registry *session.Registry, backend execute.Backend) *SessionHandler {
	return &SessionHandler{registry: registry, backend: backend}
}

// Register mounts the session endpoints on mux.
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions/create/{$}", h.HandleCreate)
	mux.HandleFunc("POST /api/sessions", h.HandleCreate)
	mux.HandleFunc("GET /api/sessions/{token}", h.HandleGet)
	mux.HandleFunc("POST /api/sessions/{token}/run", h.HandleRun)
}

type createRequest struct {
	InitialCode *string           `json:"initial_code"`
	InitialAlt  *string           `json:"initialCode"`
	Language    protocol.Language `json:"language"`
}

type createResponse struct {
	Token string `json:"token"`
}

// HandleCreate mints a session seeded with the requested document. The
// legacy /api/sessions/create/ path answers 200, /api/sessions answers 201.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Must be a POST request")
		return
	}

	var req createRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	code := defaultInitialCode
	switch {
	case req.InitialCode != nil:
		code = *req.InitialCode
	case req.InitialAlt != nil:
		code = *req.InitialAlt
	}

	token, err := h.registry.CreateNew(code, req.Language)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownLanguage) {
			writeError(w, http.StatusBadRequest, "Unknown language")
			return
		}
		slog.Error("failed to create session", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Failed to create session")
		return
	}

	slog.Info("session requested", "session", token, "user", caller(r))

	status := http.StatusCreated
	if r.URL.Path != "/api/sessions" {
		status = http.StatusOK
	}
	writeJSON(w, status, createResponse{Token: token})
}

func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	st, err := h.registry.Snapshot(r.Context(), token)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	info := rpc.NewSessionInfo(st, h.registry.Members(token))
	if info.Connections, err = h.registry.Participants(r.Context(), token); err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type runRequest struct {
	Stdin string `json:"stdin"`
}

func (h *SessionHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	token := r.PathValue("token")
	result, err := execute.RunSession(r.Context(), h.backend, h.registry, token, req.Stdin)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	slog.Info("session run", "session", token, "user", caller(r), "stage", result.Stage, "exitStatus", result.ExitStatus)
	writeJSON(w, http.StatusOK, result)
}

// caller names the authenticated user for logs.
func caller(r *http.Request) string {
	if id, ok := middleware.IdentityFrom(r.Context()); ok {
		return id.Username
	}
	return ""
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, execute.ErrBackend):
		slog.Warn("execution backend failed", "error", err)
		writeError(w, http.StatusBadGateway, "Execution backend unavailable")
	default:
		slog.Error("session request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
