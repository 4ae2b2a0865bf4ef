package nodeproto

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sentinelcp/control-plane/internal/httpserver"
)

type registerRequest struct {
	Name         string            `json:"name" validate:"required"`
	Labels       map[string]string `json:"labels"`
	Capabilities []string          `json:"capabilities"`
	Version      string            `json:"version"`
	IP           string            `json:"ip"`
	Hostname     string            `json:"hostname"`
}

type registerResponse struct {
	NodeID         string `json:"node_id"`
	NodeKey        string `json:"node_key"`
	PollIntervalS  int    `json:"poll_interval_s"`
}

// handleRegister implements spec.md §4.7 "register_node".
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	var req registerRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	project, err := h.store.GetProjectBySlug(r.Context(), slug)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "project not found")
		return
	}

	result, err := h.nodes.Register(r.Context(), project.ID, nil, req.Name, req.Labels, req.Capabilities)
	if err != nil {
		httpserver.RespondError(w, http.StatusConflict, "conflict", err.Error())
		return
	}

	httpserver.Respond(w, http.StatusCreated, registerResponse{
		NodeID:        result.Node.ID.String(),
		NodeKey:       result.RawKey,
		PollIntervalS: int(h.pollInterval.Seconds()),
	})
}
