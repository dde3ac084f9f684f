package order

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists orders in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the orders table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			listing_id TEXT NOT NULL,
			amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
			status TEXT NOT NULL,
			commission_rate TEXT NOT NULL DEFAULT '0',
			commission_fee NUMERIC(20,2),
			seller_receive_amount NUMERIC(20,2),
			contract_id TEXT,
			note TEXT NOT NULL DEFAULT '',
			confirmed_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_orders_buyer ON orders(buyer_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_orders_seller ON orders(seller_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_orders_listing ON orders(listing_id)
	`)
	if err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}
	return nil
}

const orderColumns = `id, code, buyer_id, seller_id, listing_id, amount::text, status,
	commission_rate, COALESCE(commission_fee::text, ''), COALESCE(seller_receive_amount::text, ''),
	COALESCE(contract_id, ''), note, confirmed_at, completed_at, cancelled_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, code, buyer_id, seller_id, listing_id, amount, status,
			commission_rate, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, o.ID, o.Code, o.BuyerID, o.SellerID, o.ListingID, o.Amount, o.Status,
		o.CommissionRate, o.Note, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *PostgresStore) GetByCode(ctx context.Context, code string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE code = $1`, code)
	return scanOrder(row)
}

func (s *PostgresStore) Update(ctx context.Context, o *Order) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    commission_fee = NULLIF($3, '')::numeric,
		    seller_receive_amount = NULLIF($4, '')::numeric,
		    contract_id = NULLIF($5, ''),
		    note = $6,
		    confirmed_at = $7, completed_at = $8, cancelled_at = $9, updated_at = $10
		WHERE id = $1
	`, o.ID, o.Status, o.CommissionFee, o.SellerReceiveAmount, o.ContractID,
		o.Note, o.ConfirmedAt, o.CompletedAt, o.CancelledAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *PostgresStore) ListMine(ctx context.Context, accountID string, role Role, status Status, limit, offset int) ([]*Order, error) {
	col := "buyer_id"
	if role == RoleSeller {
		col = "seller_id"
	}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + col + ` = $1`
	args := []any{accountID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ActiveForListing(ctx context.Context, listingID string) (*Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE listing_id = $1 AND status IN ('WAITING_SELLER_CONFIRM', 'PROCESSING')
		LIMIT 1
	`, listingID)
	return scanOrder(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Code, &o.BuyerID, &o.SellerID, &o.ListingID, &o.Amount, &o.Status,
		&o.CommissionRate, &o.CommissionFee, &o.SellerReceiveAmount,
		&o.ContractID, &o.Note, &o.ConfirmedAt, &o.CompletedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}
