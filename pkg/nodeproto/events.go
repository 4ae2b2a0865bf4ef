package nodeproto

import (
	"net/http"

	"github.com/sentinelcp/control-plane/internal/httpserver"
	"github.com/sentinelcp/control-plane/internal/store"
)

type reportedEvent struct {
	EventType string            `json:"event_type" validate:"required"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata"`
}

type reportEventsRequest struct {
	Events []reportedEvent `json:"events" validate:"required,min=1,dive"`
}

type reportEventsResponse struct {
	Accepted int `json:"accepted"`
}

// handleReportEvents implements spec.md §4.7 "report_events": nodes
// append one or more observability events, which are then trimmed to
// the configured per-node row cap.
func (h *Handler) handleReportEvents(w http.ResponseWriter, r *http.Request) {
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

	var req reportEventsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	events := make([]store.NodeEvent, 0, len(req.Events))
	for _, e := range req.Events {
		severity := store.EventSeverity(e.Severity)
		switch severity {
		case store.EventInfo, store.EventWarning, store.EventError:
		default:
			severity = store.EventInfo
		}
		events = append(events, store.NodeEvent{
			NodeID:    nodeID,
			ProjectID: node.ProjectID,
			EventType: e.EventType,
			Severity:  severity,
			Message:   e.Message,
			Metadata:  e.Metadata,
		})
	}

	created, err := h.store.CreateNodeEvents(r.Context(), events)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "failed to record events")
		return
	}

	if err := h.store.TrimNodeEvents(r.Context(), nodeID, h.eventRowCap); err != nil {
		h.logger.Warn("trim node events failed", "node_id", nodeID, "error", err)
	}

	httpserver.Respond(w, http.StatusCreated, reportEventsResponse{Accepted: len(created)})
}
