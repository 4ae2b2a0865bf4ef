package nodeproto

import (
	"net/http"

	"github.com/sentinelcp/control-plane/internal/httpserver"
	"github.com/sentinelcp/control-plane/internal/store"
)

type pollResponse struct {
	NoUpdate    bool   `json:"no_update,omitempty"`
	BundleID    string `json:"bundle_id,omitempty"`
	Version     string `json:"version,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	PollAfterS  int    `json:"poll_after_s"`
}

// handlePollNextBundle implements spec.md §4.7 "poll_next_bundle":
// returns a download reference only when the node is staged onto a
// bundle it has not yet activated and that bundle is compiled.
func (h *Handler) handlePollNextBundle(w http.ResponseWriter, r *http.Request) {
	nodeID, err := pathNodeID(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "invalid node id")
		return
	}

	node, err := h.store.GetNode(r.Context(), nodeID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "node not found")
		return
	}

	pollAfter := int(h.pollInterval.Seconds())

	if node.StagedBundleID == nil || (node.ActiveBundleID != nil && *node.StagedBundleID == *node.ActiveBundleID) {
		httpserver.Respond(w, http.StatusOK, pollResponse{NoUpdate: true, PollAfterS: pollAfter})
		return
	}

	bundle, err := h.store.GetBundle(r.Context(), *node.StagedBundleID)
	if err != nil || bundle.Status != store.BundleCompiled {
		httpserver.Respond(w, http.StatusOK, pollResponse{NoUpdate: true, PollAfterS: pollAfter})
		return
	}

	url, err := h.objects.PresignGET(r.Context(), bundle.StorageKey, h.presignTTL)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to presign bundle download")
		return
	}

	httpserver.Respond(w, http.StatusOK, pollResponse{
		BundleID:    bundle.ID.String(),
		Version:     bundle.Version,
		Checksum:    bundle.Checksum,
		SizeBytes:   bundle.SizeBytes,
		DownloadURL: url,
		PollAfterS:  pollAfter,
	})
}
