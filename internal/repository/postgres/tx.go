package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/medimantra/telehealth/internal/repository"
	"github.com/medimantra/telehealth/pkg/database"
)

// Transactor implements repository.Transactor on a pool.
type Transactor struct {
	db database.DBTX
}

// NewTransactor creates a transactor beginning transactions on db.
func NewTransactor(db database.DBTX) *Transactor {
	return &Transactor{db: db}
}

// WithinTx hands fn repositories that all write through one transaction.
func (t *Transactor) WithinTx(ctx context.Context, fn func(repository.TxStores) error) error {
	return database.WithTx(ctx, t.db, func(tx pgx.Tx) error {
		return fn(repository.TxStores{
			Identities:    NewIdentityRepository(tx),
			RefreshTokens: NewRefreshTokenRepository(tx),
		})
	})
}
