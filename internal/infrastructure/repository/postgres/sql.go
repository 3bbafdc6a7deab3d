package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

func isNotFound(err error) bool {
	return err == sql.ErrNoRows
}

// Prober answers database liveness checks for the read-only fallback.
type Prober struct {
	db *sqlx.DB
}

func NewProber(db *sqlx.DB) *Prober {
	return &Prober{db: db}
}

func (p *Prober) Ping(ctx context.Context) error {
	var one int
	return p.db.GetContext(ctx, &one, "SELECT 1")
}
