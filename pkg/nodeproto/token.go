package nodeproto

import (
	"net/http"
	"time"

	"github.com/sentinelcp/control-plane/internal/httpserver"
	"github.com/sentinelcp/control-plane/internal/identity"
)

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// handleExchangeToken implements spec.md §4.7 "exchange_token".
func (h *Handler) handleExchangeToken(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	node, err := h.store.GetNode(r.Context(), id.NodeID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "node not found")
		return
	}

	project, err := h.store.GetProject(r.Context(), node.ProjectID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "project not found")
		return
	}

	issuedAt := time.Now().UTC()
	token, err := h.issuer.Issue(r.Context(), node.ID, node.ProjectID, project.OrgID)
	if err != nil {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "no_signing_key", err.Error())
		return
	}

	httpserver.Respond(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: issuedAt.Add(h.tokenTTL).Format(time.RFC3339),
	})
}
