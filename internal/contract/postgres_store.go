package contract

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists contracts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the contracts table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS contracts (
			id TEXT PRIMARY KEY,
			listing_id TEXT NOT NULL,
			order_id TEXT,
			buyer_id TEXT NOT NULL,
			seller_id TEXT NOT NULL,
			status TEXT NOT NULL,
			is_external BOOLEAN NOT NULL DEFAULT FALSE,
			fee_rate TEXT NOT NULL DEFAULT '',
			listing_snapshot JSONB NOT NULL,
			snapshot_hash TEXT NOT NULL,
			refund_case_id TEXT,
			buyer_confirmed_at TIMESTAMPTZ,
			seller_confirmed_at TIMESTAMPTZ,
			confirmed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_contracts_buyer ON contracts(buyer_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_contracts_seller ON contracts(seller_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_contracts_listing_buyer ON contracts(listing_id, buyer_id)
	`)
	if err != nil {
		return fmt.Errorf("create contracts table: %w", err)
	}
	return nil
}

const contractColumns = `id, listing_id, COALESCE(order_id, ''), buyer_id, seller_id, status,
	is_external, fee_rate, listing_snapshot::text, snapshot_hash, COALESCE(refund_case_id, ''),
	buyer_confirmed_at, seller_confirmed_at, confirmed_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, c *Contract) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contracts (id, listing_id, order_id, buyer_id, seller_id, status,
			is_external, fee_rate, listing_snapshot, snapshot_hash, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12)
	`, c.ID, c.ListingID, c.OrderID, c.BuyerID, c.SellerID, c.Status,
		c.IsExternalTransaction, c.FeeRate, c.ListingSnapshot, c.Hash, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Contract, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id)
	return scanContract(row)
}

func (s *PostgresStore) Update(ctx context.Context, c *Contract) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE contracts
		SET status = $2, is_external = $3, refund_case_id = NULLIF($4, ''),
		    buyer_confirmed_at = $5, seller_confirmed_at = $6, confirmed_at = $7, updated_at = $8
		WHERE id = $1
	`, c.ID, c.Status, c.IsExternalTransaction, c.RefundCaseID,
		c.BuyerConfirmedAt, c.SellerConfirmedAt, c.ConfirmedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update contract: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrContractNotFound
	}
	return nil
}

func (s *PostgresStore) FindActive(ctx context.Context, listingID, buyerID string) (*Contract, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE listing_id = $1 AND buyer_id = $2
		  AND status IN ('AWAITING_CONFIRMATION', 'PENDING_REFUND')
		LIMIT 1
	`, listingID, buyerID)
	return scanContract(row)
}

func (s *PostgresStore) ListByParty(ctx context.Context, accountID string, limit, offset int) ([]*Contract, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+contractColumns+` FROM contracts
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()

	var out []*Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*Contract, error) {
	var c Contract
	err := row.Scan(&c.ID, &c.ListingID, &c.OrderID, &c.BuyerID, &c.SellerID, &c.Status,
		&c.IsExternalTransaction, &c.FeeRate, &c.ListingSnapshot, &c.Hash, &c.RefundCaseID,
		&c.BuyerConfirmedAt, &c.SellerConfirmedAt, &c.ConfirmedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contract: %w", err)
	}
	return &c, nil
}
