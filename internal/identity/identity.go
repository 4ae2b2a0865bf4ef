// Package identity issues and verifies the credentials Sentinel-CP trusts:
// per-org Ed25519 signing keys, JWS node bearer tokens, raw node
// registration keys, and operator API keys. Every credential resolves to
// the same Identity shape so callers don't branch on auth method.
package identity

import (
	"context"

	"github.com/google/uuid"
)

// Method describes how the caller authenticated.
type Method string

const (
	MethodNodeKey   Method = "node_key"
	MethodNodeToken Method = "node_token"
	MethodAPIKey    Method = "api_key"
)

// Identity represents the authenticated caller for the current request.
type Identity struct {
	Method    Method
	NodeID    uuid.UUID
	ProjectID uuid.UUID
	OrgID     uuid.UUID
	APIKeyID  *uuid.UUID
}

type ctxKey string

const identityKey ctxKey = "identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
