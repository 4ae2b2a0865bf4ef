package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinelcp/control-plane/internal/apperr"
	"github.com/sentinelcp/control-plane/internal/store"
)

const signingKeyColumns = `id, org_id, public_key, private_key, active, expires_at, created_at`

func scanSigningKey(row pgx.Row) (store.SigningKey, error) {
	var k store.SigningKey
	err := row.Scan(&k.ID, &k.OrgID, &k.PublicKey, &k.PrivateKey, &k.Active, &k.ExpiresAt, &k.CreatedAt)
	return k, err
}

func (s *Store) CreateSigningKey(ctx context.Context, k store.SigningKey) (store.SigningKey, error) {
	query := `INSERT INTO signing_keys (org_id, public_key, private_key, active, expires_at)
	VALUES ($1,$2,$3,$4,$5)
	RETURNING ` + signingKeyColumns
	out, err := scanSigningKey(s.pool.QueryRow(ctx, query, k.OrgID, k.PublicKey, k.PrivateKey, k.Active, k.ExpiresAt))
	if err != nil {
		return store.SigningKey{}, fmt.Errorf("creating signing key: %w", err)
	}
	return out, nil
}

func (s *Store) GetSigningKey(ctx context.Context, id uuid.UUID) (store.SigningKey, error) {
	query := `SELECT ` + signingKeyColumns + ` FROM signing_keys WHERE id = $1`
	k, err := scanSigningKey(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SigningKey{}, apperr.New(apperr.UnknownKey, "signing key not found")
		}
		return store.SigningKey{}, fmt.Errorf("querying signing key: %w", err)
	}
	return k, nil
}

func (s *Store) MostRecentActiveSigningKey(ctx context.Context, orgID uuid.UUID) (store.SigningKey, error) {
	query := `SELECT ` + signingKeyColumns + ` FROM signing_keys
	WHERE org_id = $1 AND active = true AND (expires_at IS NULL OR expires_at > now())
	ORDER BY created_at DESC LIMIT 1`
	k, err := scanSigningKey(s.pool.QueryRow(ctx, query, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.SigningKey{}, apperr.New(apperr.NoSigningKey, "no active signing key for organization")
		}
		return store.SigningKey{}, fmt.Errorf("querying active signing key: %w", err)
	}
	return k, nil
}
