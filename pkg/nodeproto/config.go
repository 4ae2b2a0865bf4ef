package nodeproto

import (
	"net/http"

	"github.com/sentinelcp/control-plane/internal/httpserver"
)

type putRuntimeConfigRequest struct {
	ConfigKDL string `json:"config_kdl" validate:"required"`
}

type putRuntimeConfigResponse struct {
	ConfigHash string `json:"config_hash"`
}

// handlePutRuntimeConfig implements spec.md §4.7 "put_runtime_config":
// a node reports the hash of the runtime configuration document it is
// currently running so drift on out-of-band config pushes is visible
// the same way bundle drift is.
func (h *Handler) handlePutRuntimeConfig(w http.ResponseWriter, r *http.Request) {
	nodeID, err := pathNodeID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "invalid node id")
		return
	}

	var req putRuntimeConfigRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	hash := configHash(req.ConfigKDL)
	if err := h.store.UpdateNodeRuntimeConfig(r.Context(), nodeID, hash); err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "node not found")
		return
	}

	httpserver.Respond(w, http.StatusOK, putRuntimeConfigResponse{ConfigHash: hash})
}
