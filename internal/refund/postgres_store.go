package refund

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists refund cases in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the refund_cases table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS refund_cases (
			id TEXT PRIMARY KEY,
			contract_id TEXT,
			order_id TEXT,
			raised_by TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'PENDING',
			decided_by TEXT,
			decided_at TIMESTAMPTZ,
			resolution_note TEXT NOT NULL DEFAULT '',
			forfeited_to_platform BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_refund_cases_status ON refund_cases(status, created_at ASC)
	`)
	if err != nil {
		return fmt.Errorf("create refund_cases table: %w", err)
	}
	return nil
}

const caseColumns = `id, COALESCE(contract_id, ''), COALESCE(order_id, ''), raised_by, reason,
	status, COALESCE(decided_by, ''), decided_at, resolution_note, forfeited_to_platform,
	created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, c *Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refund_cases (id, contract_id, order_id, raised_by, reason, status, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8)
	`, c.ID, c.ContractID, c.OrderID, c.RaisedBy, c.Reason, c.Status, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert refund case: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Case, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM refund_cases WHERE id = $1`, id)
	return scanCase(row)
}

func (s *PostgresStore) Update(ctx context.Context, c *Case) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE refund_cases
		SET status = $2, decided_by = NULLIF($3, ''), decided_at = $4,
		    resolution_note = $5, forfeited_to_platform = $6, updated_at = $7
		WHERE id = $1
	`, c.ID, c.Status, c.DecidedBy, c.DecidedAt, c.ResolutionNote, c.ForfeitedToPlatform, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update refund case: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrCaseNotFound
	}
	return nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*Case, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+caseColumns+` FROM refund_cases WHERE status = $1
		ORDER BY created_at ASC LIMIT $2 OFFSET $3
	`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list refund cases: %w", err)
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
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

func scanCase(row rowScanner) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.ContractID, &c.OrderID, &c.RaisedBy, &c.Reason,
		&c.Status, &c.DecidedBy, &c.DecidedAt, &c.ResolutionNote, &c.ForfeitedToPlatform,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan refund case: %w", err)
	}
	return &c, nil
}
