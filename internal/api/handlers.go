package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"yellorn/internal/auth"
	"yellorn/internal/protocol"
	"yellorn/internal/universe"
)

// routerHandlers holds the handler dependencies.
type routerHandlers struct {
	engine      EngineInterface
	connections func() int
}

type healthResponse struct {
	Status string `json:"status"`
	universe.HealthInfo
	Connections int `json:"connections"`
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", HealthInfo: h.engine.Health()}
	if !resp.Running {
		resp.Status = "stopped"
	}
	if h.connections != nil {
		resp.Connections = h.connections()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *routerHandlers) handleGetUniverse(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

func (h *routerHandlers) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.GetAllAgents())
}

func (h *routerHandlers) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.engine.GetAgent(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, "Agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type createAgentRequest struct {
	ID       string         `json:"id"`
	Position *protocol.Vec3 `json:"position"`
	Rotation *protocol.Vec3 `json:"rotation"`
	Velocity *protocol.Vec3 `json:"velocity"`
	Health   *float64       `json:"health"`
	Energy   *float64       `json:"energy"`
}

func (h *routerHandlers) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, _ := auth.FromContext(r.Context())
	if req.ID == "" {
		req.ID = id.AgentID
	}
	if !protocol.ValidAgentID(req.ID) {
		writeError(w, "Invalid agent id", http.StatusBadRequest)
		return
	}
	if !mayControl(id, req.ID) {
		writeError(w, "Agents may only create themselves", http.StatusForbidden)
		return
	}
	err := h.engine.CreateAgent(req.ID, universe.AgentInit{
		Position: req.Position,
		Rotation: req.Rotation,
		Velocity: req.Velocity,
		Health:   req.Health,
		Energy:   req.Energy,
	})
	if err != nil {
		writeError(w, registryMessage(err), registryStatus(err))
		return
	}
	a, _ := h.engine.GetAgent(req.ID)
	writeJSON(w, http.StatusCreated, a)
}

func (h *routerHandlers) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if !h.engine.RemoveAgent(chi.URLParam(r, "id")) {
		writeError(w, "Agent not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *routerHandlers) handleApplyForce(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if !h.authorizeAgent(w, r, agentID) {
		return
	}
	var req struct {
		Force *protocol.Vec3 `json:"force"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Force == nil {
		writeError(w, "Force is required", http.StatusBadRequest)
		return
	}
	if !h.engine.ApplyForceToAgent(agentID, *req.Force) {
		writeError(w, "Agent not found", http.StatusNotFound)
		return
	}
	// takes effect at the next tick
	writeJSON(w, http.StatusAccepted, map[string]bool{"success": true})
}

func (h *routerHandlers) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	if !h.authorizeAgent(w, r, agentID) {
		return
	}
	var req struct {
		Position *protocol.Vec3 `json:"position"`
		Rotation *protocol.Vec3 `json:"rotation"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Position == nil {
		writeError(w, "Position is required", http.StatusBadRequest)
		return
	}
	if err := h.engine.MoveAgent(agentID, *req.Position, req.Rotation); err != nil {
		writeError(w, registryMessage(err), registryStatus(err))
		return
	}
	a, _ := h.engine.GetAgent(agentID)
	writeJSON(w, http.StatusOK, a)
}

// registryStatus maps a registry refusal to an HTTP status.
func registryStatus(err error) int {
	switch {
	case errors.Is(err, universe.ErrAgentNotFound):
		return http.StatusNotFound
	case errors.Is(err, universe.ErrAgentExists):
		return http.StatusConflict
	case errors.Is(err, universe.ErrAgentLimit):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func registryMessage(err error) string {
	msg := err.Error()
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// authorizeAgent refuses agent-role callers acting on another agent.
func (h *routerHandlers) authorizeAgent(w http.ResponseWriter, r *http.Request, agentID string) bool {
	id, _ := auth.FromContext(r.Context())
	if !mayControl(id, agentID) {
		writeError(w, "Agents may only control themselves", http.StatusForbidden)
		return false
	}
	return true
}

func mayControl(id auth.Identity, agentID string) bool {
	return id.Role == auth.RoleAdmin || id.AgentID == agentID
}

const maxBodyBytes = 64 * 1024

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes the generic error envelope {"message": ...}.
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"message": message})
}
