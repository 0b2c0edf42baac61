package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// IdentityRepository stores credentials and revoked token ids.
type IdentityRepository struct {
	pool   *ConnectionPool
	mapper ErrorMapper
}

// NewIdentityRepository creates a new SQLite identity repository
func NewIdentityRepository(pool *ConnectionPool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// CreateIdentity inserts a credential. A second identity for the same
// provider and subject fails with persistence.ErrDuplicate.
func (r *IdentityRepository) CreateIdentity(ctx context.Context, identity persistence.Identity) error {
	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO identities (provider, subject, uid, email, display_name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		identity.Provider,
		identity.Subject,
		identity.UID,
		identity.Email,
		identity.DisplayName,
		identity.PasswordHash,
		formatTime(identity.CreatedAt),
	)
	return r.mapper.MapError(err)
}

// GetIdentity looks up a credential by provider and subject.
func (r *IdentityRepository) GetIdentity(ctx context.Context, provider, subject string) (persistence.Identity, error) {
	var identity persistence.Identity
	var createdAt string
	err := r.pool.DB().QueryRowContext(ctx, `
		SELECT provider, subject, uid, email, display_name, password_hash, created_at
		FROM identities
		WHERE provider = ? AND subject = ?`,
		provider, subject,
	).Scan(
		&identity.Provider,
		&identity.Subject,
		&identity.UID,
		&identity.Email,
		&identity.DisplayName,
		&identity.PasswordHash,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Identity{}, persistence.ErrNotFound
		}
		return persistence.Identity{}, r.mapper.MapError(err)
	}
	if identity.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Identity{}, err
	}
	return identity, nil
}

// RevokeToken records a signed-out token id. Expired entries are pruned on the way.
func (r *IdentityRepository) RevokeToken(ctx context.Context, token persistence.RevokedToken) error {
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, formatTime(time.Now())); err != nil {
			return r.mapper.MapError(err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO revoked_tokens (token_id, expires_at) VALUES (?, ?) ON CONFLICT(token_id) DO NOTHING`,
			token.TokenID, formatTime(token.ExpiresAt),
		)
		return r.mapper.MapError(err)
	})
}

// IsTokenRevoked reports whether the token id has been signed out.
func (r *IdentityRepository) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	var exists int
	err := r.pool.DB().QueryRowContext(ctx, `SELECT 1 FROM revoked_tokens WHERE token_id = ?`, tokenID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, r.mapper.MapError(err)
	}
	return true, nil
}
