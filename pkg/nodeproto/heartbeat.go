package nodeproto

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/httpserver"
	"github.com/sentinelcp/control-plane/internal/store"
)

type heartbeatRequest struct {
	Health         map[string]string  `json:"health"`
	Metrics        map[string]float64 `json:"metrics"`
	ActiveBundleID *uuid.UUID         `json:"active_bundle_id"`
	StagedBundleID *uuid.UUID         `json:"staged_bundle_id"`
	Version        string             `json:"version"`
	IP             string             `json:"ip"`
	Hostname       string             `json:"hostname"`
	Metadata       map[string]string  `json:"metadata"`
}

type heartbeatResponse struct {
	OK         bool   `json:"ok"`
	LastSeenAt string `json:"last_seen_at"`
}

// handleHeartbeat implements spec.md §4.7 "heartbeat".
func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	nodeID, err := pathNodeID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "invalid node id")
		return
	}

	var req heartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	node, _, err := h.nodes.Heartbeat(r.Context(), nodeID, store.NodeHeartbeat{
		Health:         req.Health,
		Metrics:        req.Metrics,
		ActiveBundleID: req.ActiveBundleID,
		StagedBundleID: req.StagedBundleID,
		Version:        req.Version,
	}, store.HeartbeatNodeFields{
		Version:        req.Version,
		IP:             req.IP,
		Hostname:       req.Hostname,
		ActiveBundleID: req.ActiveBundleID,
		StagedBundleID: req.StagedBundleID,
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "node not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, heartbeatResponse{
		OK:         true,
		LastSeenAt: node.LastSeenAt.Format(time.RFC3339),
	})
}
