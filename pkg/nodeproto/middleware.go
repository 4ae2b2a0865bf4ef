package nodeproto

import (
	"net/http"
	"strings"

	"github.com/sentinelcp/control-plane/internal/httpserver"
	"github.com/sentinelcp/control-plane/internal/identity"
)

// authenticate resolves either a raw node key or a node bearer token
// from the Authorization header, and requires it to match the node id
// named in the path (spec.md §6 "Authentication").
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer credential")
			return
		}

		id, err := h.nodes.Authenticate(r.Context(), h.tokens, raw)
		if err != nil {
			httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "invalid node credential")
			return
		}

		nodeID, err := pathNodeID(r)
		if err != nil {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "invalid node id")
			return
		}
		if id.NodeID != nodeID {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "credential does not match node")
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.NewContext(r.Context(), id)))
	})
}
