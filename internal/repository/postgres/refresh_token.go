package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/pkg/database"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

const (
	insertRefreshTokenSQL = `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	selectActiveRefreshTokenSQL = `
		SELECT id, user_id, token_hash, expires_at, created_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2`

	// A single statement so that two exchanges racing on the same token
	// cannot both see it unrevoked.
	consumeRefreshTokenSQL = `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE token_hash = $2 AND revoked_at IS NULL AND expires_at > $1
		RETURNING id, user_id, token_hash, expires_at, created_at, revoked_at`

	revokeRefreshTokenSQL = `UPDATE refresh_tokens SET revoked_at = $1 WHERE token_hash = $2 AND user_id = $3 AND revoked_at IS NULL`

	revokeUserRefreshTokensSQL = `UPDATE refresh_tokens SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`
)

// RefreshTokenRepository implements repository.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db database.DBTX
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db database.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh token hash in the database.
func (r *RefreshTokenRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateRefreshToken", insertRefreshTokenSQL)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, insertRefreshTokenSQL, uuid.New().String(), userID, tokenHash, expiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// GetActive retrieves a record that is neither revoked nor expired at now.
func (r *RefreshTokenRepository) GetActive(ctx context.Context, tokenHash string, now time.Time) (_ *domain.RefreshToken, err error) {
	ctx, end := database.TraceQuery(ctx, "GetActiveRefreshToken", selectActiveRefreshTokenSQL)
	defer func() { end(err) }()

	return scanRefreshToken(r.db.QueryRow(ctx, selectActiveRefreshTokenSQL, tokenHash, now))
}

// Consume revokes an active record and returns it.
func (r *RefreshTokenRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (_ *domain.RefreshToken, err error) {
	ctx, end := database.TraceQuery(ctx, "ConsumeRefreshToken", consumeRefreshTokenSQL)
	defer func() { end(err) }()

	return scanRefreshToken(r.db.QueryRow(ctx, consumeRefreshTokenSQL, now, tokenHash))
}

func scanRefreshToken(row pgx.Row) (*domain.RefreshToken, error) {
	var rt domain.RefreshToken
	err := row.Scan(
		&rt.ID,
		&rt.UserID,
		&rt.TokenHash,
		&rt.ExpiresAt,
		&rt.CreatedAt,
		&rt.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return &rt, nil
}

// Revoke revokes one of userID's refresh tokens by its hash. Revoking an
// unknown, foreign or already revoked token is not an error.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, userID, tokenHash string) (err error) {
	ctx, end := database.TraceQuery(ctx, "RevokeRefreshToken", revokeRefreshTokenSQL)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, revokeRefreshTokenSQL, time.Now().UTC(), tokenHash, userID); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeByUserID revokes all refresh tokens of the given user.
func (r *RefreshTokenRepository) RevokeByUserID(ctx context.Context, userID string) (err error) {
	ctx, end := database.TraceQuery(ctx, "RevokeUserRefreshTokens", revokeUserRefreshTokensSQL)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, revokeUserRefreshTokensSQL, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("revoke refresh tokens by user: %w", err)
	}
	return nil
}
