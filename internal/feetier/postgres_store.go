package feetier

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists fee tiers in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the fee_tiers table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fee_tiers (
			id TEXT PRIMARY KEY,
			min_price NUMERIC(20,2) NOT NULL CHECK (min_price >= 0),
			max_price NUMERIC(20,2),
			posting_fee NUMERIC(20,2) NOT NULL CHECK (posting_fee >= 0),
			deposit_rate NUMERIC(9,6) NOT NULL CHECK (deposit_rate >= 0 AND deposit_rate <= 1),
			commission_rate NUMERIC(9,6) NOT NULL CHECK (commission_rate >= 0 AND commission_rate <= 1),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create fee_tiers table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, tier *FeeTier) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fee_tiers (id, min_price, max_price, posting_fee, deposit_rate, commission_rate, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, '')::numeric, $4, $5, $6, $7, $8)
	`, tier.ID, tier.MinPrice, tier.MaxPrice, tier.PostingFee, tier.DepositRate, tier.CommissionRate, tier.CreatedAt, tier.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert fee tier: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*FeeTier, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, min_price::text, COALESCE(max_price::text, ''), posting_fee::text,
		       deposit_rate::text, commission_rate::text, created_at, updated_at
		FROM fee_tiers WHERE id = $1
	`, id)
	return scanTier(row)
}

func (s *PostgresStore) Update(ctx context.Context, tier *FeeTier) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fee_tiers
		SET min_price = $2, max_price = NULLIF($3, '')::numeric, posting_fee = $4,
		    deposit_rate = $5, commission_rate = $6, updated_at = $7
		WHERE id = $1
	`, tier.ID, tier.MinPrice, tier.MaxPrice, tier.PostingFee, tier.DepositRate, tier.CommissionRate, tier.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update fee tier: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrFeeTierNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fee_tiers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete fee tier: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrFeeTierNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*FeeTier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, min_price::text, COALESCE(max_price::text, ''), posting_fee::text,
		       deposit_rate::text, commission_rate::text, created_at, updated_at
		FROM fee_tiers ORDER BY min_price ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list fee tiers: %w", err)
	}
	defer rows.Close()

	var out []*FeeTier
	for rows.Next() {
		t, err := scanTier(rows)
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

func scanTier(row rowScanner) (*FeeTier, error) {
	var t FeeTier
	err := row.Scan(&t.ID, &t.MinPrice, &t.MaxPrice, &t.PostingFee,
		&t.DepositRate, &t.CommissionRate, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrFeeTierNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan fee tier: %w", err)
	}
	return &t, nil
}
