// Package nodeproto implements the node-facing HTTP protocol
// (spec.md §4.7, §6): register, heartbeat, poll-next-bundle,
// exchange-token, report-events, put-runtime-config. Every route here
// is mounted on httpserver.Server.NodeRouter at /v1/nodes.
package nodeproto

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sentinelcp/control-plane/internal/identity"
	"github.com/sentinelcp/control-plane/internal/objectstore"
	"github.com/sentinelcp/control-plane/internal/store"
	"github.com/sentinelcp/control-plane/pkg/noderegistry"
)

// Handler wires the node protocol's HTTP surface to its domain
// collaborators.
type Handler struct {
	store        store.Store
	nodes        *noderegistry.Service
	tokens       *identity.NodeTokenVerifier
	issuer       *identity.NodeTokenIssuer
	objects      objectstore.ObjectStore
	pollInterval time.Duration
	presignTTL   time.Duration
	tokenTTL     time.Duration
	eventRowCap  int
	logger       *slog.Logger
}

// New creates a node-protocol Handler.
func New(
	s store.Store,
	nodes *noderegistry.Service,
	tokens *identity.NodeTokenVerifier,
	issuer *identity.NodeTokenIssuer,
	objects objectstore.ObjectStore,
	pollInterval, presignTTL, tokenTTL time.Duration,
	eventRowCap int,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store: s, nodes: nodes, tokens: tokens, issuer: issuer, objects: objects,
		pollInterval: pollInterval, presignTTL: presignTTL, tokenTTL: tokenTTL,
		eventRowCap: eventRowCap, logger: logger,
	}
}

// Mount registers every node-protocol route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/projects/{slug}/nodes/register", h.handleRegister)
	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/nodes/{id}/heartbeat", h.handleHeartbeat)
		r.Get("/nodes/{id}/bundles/latest", h.handlePollNextBundle)
		r.Post("/nodes/{id}/token", h.handleExchangeToken)
		r.Post("/nodes/{id}/events", h.handleReportEvents)
		r.Post("/nodes/{id}/config", h.handlePutRuntimeConfig)
	})
}

// pathNodeID extracts and parses the {id} route parameter.
func pathNodeID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func configHash(kdl string) string {
	sum := sha256.Sum256([]byte(kdl))
	return hex.EncodeToString(sum[:])
}
