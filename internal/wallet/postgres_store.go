package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/voltmarket/voltmarket/internal/idgen"
	"github.com/voltmarket/voltmarket/internal/vnd"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the wallet tables with NUMERIC columns.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS wallets (
			owner_id    VARCHAR(64) PRIMARY KEY,
			balance     NUMERIC(20,2) NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ DEFAULT NOW(),
			CONSTRAINT chk_balance_nonneg CHECK (balance >= 0)
		);

		CREATE TABLE IF NOT EXISTS wallet_transactions (
			id              VARCHAR(36) PRIMARY KEY,
			owner_id        VARCHAR(64) NOT NULL,
			amount          NUMERIC(20,2) NOT NULL,
			service_type    VARCHAR(20) NOT NULL,
			description     TEXT,
			related_type    VARCHAR(30),
			related_id      VARCHAR(64),
			idempotency_key VARCHAR(128),
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_wallet_txn_owner ON wallet_transactions(owner_id);
		CREATE INDEX IF NOT EXISTS idx_wallet_txn_created ON wallet_transactions(created_at DESC);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_wallet_txn_idem
			ON wallet_transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;
	`)
	return err
}

// mapPQError translates NUMERIC constraint violations into domain errors.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23514": // check_violation: balance >= 0
			return ErrInsufficientBalance
		case "23505": // unique_violation: idempotency key
			return ErrDuplicateIdempotencyKey
		}
	}
	return err
}

func (p *PostgresStore) GetWallet(ctx context.Context, ownerID string) (*Wallet, error) {
	w := &Wallet{OwnerID: ownerID}

	var balance string
	err := p.db.QueryRowContext(ctx, `
		SELECT balance, updated_at FROM wallets WHERE owner_id = $1
	`, ownerID).Scan(&balance, &w.UpdatedAt)

	if err == sql.ErrNoRows {
		return &Wallet{OwnerID: ownerID, Balance: "0.00", UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}

	// Normalize NUMERIC text to our 2-decimal fixed-point form.
	if v, ok := vnd.Parse(balance); ok {
		balance = vnd.Format(v)
	}
	w.Balance = balance
	return w, nil
}

func (p *PostgresStore) Credit(ctx context.Context, ownerID, amount string, svc ServiceType, description string, related *RelatedEntity, idempotencyKey string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (owner_id, balance, updated_at)
		VALUES ($1, $2::NUMERIC(20,2), NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			balance    = wallets.balance + $2::NUMERIC(20,2),
			updated_at = NOW()
	`, ownerID, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", mapPQError(err))
	}

	relType, relID := splitRelated(related)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, owner_id, amount, service_type, description, related_type, related_id, idempotency_key, created_at)
		VALUES ($1, $2, $3::NUMERIC(20,2), $4, $5, $6, $7, NULLIF($8, ''), NOW())
	`, idgen.WithPrefix("txn_"), ownerID, amount, string(svc), description, relType, relID, idempotencyKey)
	if err != nil {
		return mapPQError(err)
	}

	return tx.Commit()
}

// Debit removes funds with row-level locking. The CHECK constraint on
// balance >= 0 rejects overdrafts at the database level even if a racing
// writer slipped past the service-layer balance check.
func (p *PostgresStore) Debit(ctx context.Context, ownerID, amount string, svc ServiceType, description string, related *RelatedEntity) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := debitLeg(ctx, tx, ownerID, amount, svc, description, related); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) Transfer(ctx context.Context, req TransferRequest) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Debit leg.
	if err := debitLeg(ctx, tx, req.FromOwnerID, req.Amount, req.DebitService, req.Description, req.Related); err != nil {
		return err
	}

	// Credit leg.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallets (owner_id, balance, updated_at)
		VALUES ($1, $2::NUMERIC(20,2), NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			balance    = wallets.balance + $2::NUMERIC(20,2),
			updated_at = NOW()
	`, req.ToOwnerID, req.Amount)
	if err != nil {
		return fmt.Errorf("failed to credit recipient: %w", mapPQError(err))
	}

	relType, relID := splitRelated(req.Related)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, owner_id, amount, service_type, description, related_type, related_id, created_at)
		VALUES ($1, $2, $3::NUMERIC(20,2), $4, $5, $6, $7, NOW())
	`, idgen.WithPrefix("txn_"), req.ToOwnerID, req.Amount, string(req.CreditService), req.Description, relType, relID)
	if err != nil {
		return mapPQError(err)
	}

	return tx.Commit()
}

// debitLeg applies a debit inside an open transaction: balance decrement
// plus a negative transaction row.
func debitLeg(ctx context.Context, tx *sql.Tx, ownerID, amount string, svc ServiceType, description string, related *RelatedEntity) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			balance    = balance - $2::NUMERIC(20,2),
			updated_at = NOW()
		WHERE owner_id = $1
	`, ownerID, amount)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", mapPQError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// No wallet row yet means a zero balance.
		return ErrInsufficientBalance
	}

	relType, relID := splitRelated(related)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions
			(id, owner_id, amount, service_type, description, related_type, related_id, created_at)
		VALUES ($1, $2, $3::NUMERIC(20,2), $4, $5, $6, $7, NOW())
	`, idgen.WithPrefix("txn_"), ownerID, vnd.Neg(amount), string(svc), description, relType, relID)
	if err != nil {
		return mapPQError(err)
	}
	return nil
}

func splitRelated(related *RelatedEntity) (relType, relID sql.NullString) {
	if related == nil {
		return
	}
	relType = sql.NullString{String: related.Type, Valid: related.Type != ""}
	relID = sql.NullString{String: related.ID, Valid: related.ID != ""}
	return
}

func (p *PostgresStore) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, amount, service_type,
		       COALESCE(description, ''), COALESCE(related_type, ''), COALESCE(related_id, ''),
		       COALESCE(idempotency_key, ''), created_at
		FROM wallet_transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		t := &Transaction{}
		var svc string
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Amount, &svc, &t.Description,
			&t.RelatedType, &t.RelatedID, &t.IdempotencyKey, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.ServiceType = ServiceType(svc)
		if v, ok := vnd.Parse(t.Amount); ok {
			t.Amount = vnd.Format(v)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (p *PostgresStore) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM wallet_transactions WHERE idempotency_key = $1)
	`, key).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) SumTransactions(ctx context.Context, ownerID string) (string, error) {
	var sum string
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE owner_id = $1
	`, ownerID).Scan(&sum)
	if err != nil {
		return "", err
	}
	if v, ok := vnd.Parse(sum); ok {
		sum = vnd.Format(v)
	}
	return sum, nil
}

func (p *PostgresStore) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT owner_id FROM wallets ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}
