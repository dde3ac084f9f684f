package listing

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/voltmarket/voltmarket/internal/pagination"
)

// PostgresStore persists listings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the listings table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			id TEXT PRIMARY KEY,
			seller_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price NUMERIC(20,2) NOT NULL CHECK (price > 0),
			battery_capacity_kwh TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'DRAFT',
			locked_by_order_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_listings_seller ON listings(seller_id);
		CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status, created_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("create listings table: %w", err)
	}
	return nil
}

const listingColumns = `id, seller_id, title, description, price::text, battery_capacity_kwh,
	status, COALESCE(locked_by_order_id, ''), created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, l *Listing) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (id, seller_id, title, description, price, battery_capacity_kwh, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, l.ID, l.SellerID, l.Title, l.Description, l.Price, l.BatteryCapacityKwh, l.Status, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	return scanListing(row)
}

func (s *PostgresStore) Update(ctx context.Context, l *Listing) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET title = $2, description = $3, price = $4, battery_capacity_kwh = $5,
		    status = $6, updated_at = $7
		WHERE id = $1
	`, l.ID, l.Title, l.Description, l.Price, l.BatteryCapacityKwh, l.Status, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update listing: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrListingNotFound
	}
	return nil
}

func (s *PostgresStore) ListBySeller(ctx context.Context, sellerID string) ([]*Listing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+listingColumns+` FROM listings WHERE seller_id = $1 ORDER BY created_at DESC
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list listings by seller: %w", err)
	}
	return collectListings(rows)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, before *pagination.Cursor, limit int) ([]*Listing, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+listingColumns+` FROM listings WHERE status = $1
			ORDER BY created_at DESC, id DESC LIMIT $2
		`, status, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+listingColumns+` FROM listings
			WHERE status = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC LIMIT $4
		`, status, before.CreatedAt, before.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list listings by status: %w", err)
	}
	return collectListings(rows)
}

// Lock is a conditional update: the row must be published and unheld (or
// already held by the same order). Zero rows affected means another order
// won the race.
func (s *PostgresStore) Lock(ctx context.Context, listingID, orderID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET locked_by_order_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'PUBLISHED'
		  AND (locked_by_order_id IS NULL OR locked_by_order_id = $2)
	`, listingID, orderID)
	if err != nil {
		return fmt.Errorf("lock listing: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return s.classifyLockFailure(ctx, listingID)
	}
	return nil
}

func (s *PostgresStore) Unlock(ctx context.Context, listingID, orderID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET locked_by_order_id = NULL, updated_at = now()
		WHERE id = $1 AND locked_by_order_id = $2
	`, listingID, orderID)
	if err != nil {
		return fmt.Errorf("unlock listing: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrListingLocked
	}
	return nil
}

func (s *PostgresStore) MarkSold(ctx context.Context, listingID, orderID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET status = 'SOLD', locked_by_order_id = NULL, updated_at = now()
		WHERE id = $1 AND locked_by_order_id = $2
	`, listingID, orderID)
	if err != nil {
		return fmt.Errorf("mark listing sold: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrListingLocked
	}
	return nil
}

// classifyLockFailure distinguishes not-found, wrong-state and held-by-other
// after a conditional lock update touched zero rows.
func (s *PostgresStore) classifyLockFailure(ctx context.Context, listingID string) error {
	l, err := s.Get(ctx, listingID)
	if err != nil {
		return err
	}
	if l.Status != StatusPublished {
		return ErrInvalidListingState
	}
	return ErrListingLocked
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*Listing, error) {
	var l Listing
	err := row.Scan(&l.ID, &l.SellerID, &l.Title, &l.Description, &l.Price,
		&l.BatteryCapacityKwh, &l.Status, &l.LockedByOrderID, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	return &l, nil
}

func collectListings(rows *sql.Rows) ([]*Listing, error) {
	defer rows.Close()
	var out []*Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
