package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/medimantra/telehealth/internal/domain"
	"github.com/medimantra/telehealth/pkg/database"
	apperrors "github.com/medimantra/telehealth/pkg/errors"
)

const (
	invalidateVerificationTokensSQL = `
		UPDATE verification_tokens
		SET consumed_at = $1
		WHERE identity_id = $2 AND purpose = $3 AND consumed_at IS NULL`

	insertVerificationTokenSQL = `
		INSERT INTO verification_tokens (id, identity_id, purpose, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	consumeVerificationTokenSQL = `
		UPDATE verification_tokens
		SET consumed_at = $1
		WHERE purpose = $2 AND token_hash = $3 AND consumed_at IS NULL AND expires_at > $1
		RETURNING id, identity_id, purpose, token_hash, expires_at, consumed_at, created_at`
)

// VerificationTokenRepository implements repository.VerificationTokenRepository using PostgreSQL.
type VerificationTokenRepository struct {
	db database.DBTX
}

// NewVerificationTokenRepository creates a new PostgreSQL-backed verification token repository.
func NewVerificationTokenRepository(db database.DBTX) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: db}
}

// Create stores t and invalidates earlier unconsumed tokens of the same
// identity and purpose, so only the latest link or code works.
func (r *VerificationTokenRepository) Create(ctx context.Context, t *domain.VerificationToken) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateVerificationToken", insertVerificationTokenSQL)
	defer func() { end(err) }()

	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, invalidateVerificationTokensSQL, t.CreatedAt, t.IdentityID, string(t.Purpose)); err != nil {
			return fmt.Errorf("invalidate verification tokens: %w", err)
		}
		if _, err := tx.Exec(ctx, insertVerificationTokenSQL,
			t.ID,
			t.IdentityID,
			string(t.Purpose),
			t.TokenHash,
			t.ExpiresAt,
			t.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert verification token: %w", err)
		}
		return nil
	})
}

// Consume marks the matching unexpired token as used and returns it.
func (r *VerificationTokenRepository) Consume(ctx context.Context, purpose domain.TokenPurpose, tokenHash string, now time.Time) (_ *domain.VerificationToken, err error) {
	ctx, end := database.TraceQuery(ctx, "ConsumeVerificationToken", consumeVerificationTokenSQL)
	defer func() { end(err) }()

	var (
		t          domain.VerificationToken
		gotPurpose string
	)
	err = r.db.QueryRow(ctx, consumeVerificationTokenSQL, now, string(purpose), tokenHash).Scan(
		&t.ID,
		&t.IdentityID,
		&gotPurpose,
		&t.TokenHash,
		&t.ExpiresAt,
		&t.ConsumedAt,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("consume verification token: %w", err)
	}
	t.Purpose = domain.TokenPurpose(gotPurpose)
	return &t, nil
}
