//go:build integration

package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/voltmarket/voltmarket/internal/testutil"
)

func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func TestPostgres_CreditAndGetWallet(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	err := store.Credit(ctx, "buyer1", "1500000", ServiceWalletTopup, "topup", nil, "")
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	w, err := store.GetWallet(ctx, "buyer1")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if w.Balance != "1500000.00" {
		t.Errorf("balance = %s, want 1500000.00", w.Balance)
	}
}

func TestPostgres_DebitCheckConstraint(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Credit(ctx, "buyer1", "100", ServiceWalletTopup, "", nil, ""); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	// The CHECK (balance >= 0) constraint is the last line of defense when
	// the application-level balance check is bypassed.
	err := store.Debit(ctx, "buyer1", "200", ServiceDeduction, "", nil)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance from constraint, got %v", err)
	}

	w, _ := store.GetWallet(ctx, "buyer1")
	if w.Balance != "100.00" {
		t.Errorf("balance after rejected debit = %s", w.Balance)
	}
}

func TestPostgres_IdempotencyUniqueIndex(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Credit(ctx, "buyer1", "100", ServiceWalletTopup, "", nil, "OD-PGTEST1"); err != nil {
		t.Fatalf("first Credit failed: %v", err)
	}
	err := store.Credit(ctx, "buyer1", "100", ServiceWalletTopup, "", nil, "OD-PGTEST1")
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Errorf("expected ErrDuplicateIdempotencyKey from unique index, got %v", err)
	}

	has, err := store.HasIdempotencyKey(ctx, "OD-PGTEST1")
	if err != nil || !has {
		t.Errorf("HasIdempotencyKey = %v, %v; want true", has, err)
	}
}

func TestPostgres_TransferAtomic(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Credit(ctx, "a", "1000", ServiceWalletTopup, "", nil, ""); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	err := store.Transfer(ctx, TransferRequest{
		FromOwnerID:   "a",
		ToOwnerID:     "b",
		Amount:        "400",
		DebitService:  ServiceDeduction,
		CreditService: ServiceSellRevenue,
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}

	wa, _ := store.GetWallet(ctx, "a")
	wb, _ := store.GetWallet(ctx, "b")
	if wa.Balance != "600.00" || wb.Balance != "400.00" {
		t.Errorf("balances = %s / %s, want 600.00 / 400.00", wa.Balance, wb.Balance)
	}

	sumA, _ := store.SumTransactions(ctx, "a")
	if sumA != "600.00" {
		t.Errorf("sum(a) = %s, want 600.00", sumA)
	}
}

func TestPostgres_ConcurrentCredits(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()
	ledger := New(store)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Credit(ctx, "hot", "10", ServiceWalletTopup, "", nil, ""); err != nil {
				t.Errorf("concurrent credit: %v", err)
			}
		}()
	}
	wg.Wait()

	w, err := store.GetWallet(ctx, "hot")
	if err != nil {
		t.Fatalf("GetWallet failed: %v", err)
	}
	if w.Balance != "100.00" {
		t.Errorf("balance = %s, want 100.00", w.Balance)
	}

	diff, err := ledger.VerifyInvariant(ctx, "hot")
	if err != nil {
		t.Fatalf("VerifyInvariant failed: %v", err)
	}
	if diff.Sign() != 0 {
		t.Errorf("invariant diff = %s, want 0", diff)
	}
}
