package payment

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists topups in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the topups table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS topups (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
			order_code TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'PENDING',
			gateway_session_id TEXT NOT NULL DEFAULT '',
			checkout_url TEXT NOT NULL DEFAULT '',
			paid_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_topups_owner ON topups(owner_id, created_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("create topups table: %w", err)
	}
	return nil
}

const topupColumns = `id, owner_id, amount::text, order_code, status,
	gateway_session_id, checkout_url, paid_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, t *Topup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topups (id, owner_id, amount, order_code, status, gateway_session_id, checkout_url, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.OwnerID, t.Amount, t.OrderCode, t.Status, t.GatewaySessionID, t.CheckoutURL, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert topup: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByCode(ctx context.Context, orderCode string) (*Topup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+topupColumns+` FROM topups WHERE order_code = $1`, orderCode)
	return scanTopup(row)
}

func (s *PostgresStore) Update(ctx context.Context, t *Topup) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE topups
		SET status = $2, paid_at = $3, updated_at = $4
		WHERE order_code = $1
	`, t.OrderCode, t.Status, t.PaidAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update topup: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrTopupNotFound
	}
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Topup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+topupColumns+` FROM topups WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list topups: %w", err)
	}
	defer rows.Close()

	var out []*Topup
	for rows.Next() {
		t, err := scanTopup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopup(row rowScanner) (*Topup, error) {
	var t Topup
	err := row.Scan(&t.ID, &t.OwnerID, &t.Amount, &t.OrderCode, &t.Status,
		&t.GatewaySessionID, &t.CheckoutURL, &t.PaidAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTopupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan topup: %w", err)
	}
	return &t, nil
}
