package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/voltmarket/voltmarket/internal/listing"
	"github.com/voltmarket/voltmarket/internal/wallet"
)

// walletAdapter binds the order flow's ledger verbs to the real wallet
// ledger, the same shape the server wiring uses.
type walletAdapter struct {
	ledger *wallet.Ledger
}

func related(orderID string) *wallet.RelatedEntity {
	return &wallet.RelatedEntity{Type: "order", ID: orderID}
}

func (a walletAdapter) HoldFunds(ctx context.Context, buyerID, amount, orderID string) error {
	return a.ledger.Debit(ctx, buyerID, amount, wallet.ServiceBuyHold, "escrow hold", related(orderID))
}

func (a walletAdapter) RefundHold(ctx context.Context, buyerID, amount, orderID string) error {
	return a.ledger.Credit(ctx, buyerID, amount, wallet.ServiceBuyRefund, "escrow refund", related(orderID), "")
}

func (a walletAdapter) PaySeller(ctx context.Context, sellerID, amount, orderID string) error {
	return a.ledger.Credit(ctx, sellerID, amount, wallet.ServiceSellRevenue, "sale proceeds", related(orderID), "")
}

func (a walletAdapter) CollectCommission(ctx context.Context, amount, orderID string) error {
	return a.ledger.Credit(ctx, wallet.PlatformOwnerID, amount, wallet.ServicePlatformFee, "commission", related(orderID), "")
}

func (a walletAdapter) ReverseHold(ctx context.Context, buyerID, amount, orderID string) error {
	return a.ledger.Credit(ctx, buyerID, amount, wallet.ServiceBuyRefund, "hold reversal", related(orderID), "")
}

type stubFees struct{ rate string }

func (f stubFees) CommissionRate(ctx context.Context, price string) (string, error) {
	return f.rate, nil
}

// freeFees lets listings publish without funding the seller in tests.
type freeFees struct{}

func (freeFees) PostingFee(ctx context.Context, price string) (string, error) { return "0.00", nil }
func (freeFees) ChargePostingFee(ctx context.Context, sellerID, amount, listingID string) error {
	return nil
}
func (freeFees) RefundPostingFee(ctx context.Context, sellerID, amount, listingID string) error {
	return nil
}

type recordingOpener struct {
	opened []string
}

func (r *recordingOpener) OpenForOrder(ctx context.Context, orderID, listingID, buyerID, sellerID, feeRate string) (string, error) {
	r.opened = append(r.opened, orderID)
	return "ct_" + orderID, nil
}

type testEnv struct {
	svc      *Service
	ledger   *wallet.Ledger
	listings *listing.Service
	opener   *recordingOpener
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ledger := wallet.New(wallet.NewMemoryStore())
	listings := listing.NewService(listing.NewMemoryStore(), freeFees{}, slog.Default())
	opener := &recordingOpener{}
	svc := NewService(NewMemoryStore(), walletAdapter{ledger}, listings, stubFees{rate: "0.05"}, slog.Default()).
		WithContractOpener(opener)
	return &testEnv{svc: svc, ledger: ledger, listings: listings, opener: opener}
}

func (e *testEnv) publishedListing(t *testing.T, sellerID, price string) *listing.Listing {
	t.Helper()
	ctx := context.Background()
	l, err := e.listings.Create(ctx, sellerID, "VF8 battery pack", "", price, "87.7")
	if err != nil {
		t.Fatalf("create listing: %v", err)
	}
	l, err = e.listings.Publish(ctx, sellerID, l.ID)
	if err != nil {
		t.Fatalf("publish listing: %v", err)
	}
	return l
}

func (e *testEnv) fund(t *testing.T, ownerID, amount string) {
	t.Helper()
	if err := e.ledger.Credit(context.Background(), ownerID, amount, wallet.ServiceWalletTopup, "topup", nil, ""); err != nil {
		t.Fatalf("fund %s: %v", ownerID, err)
	}
}

func (e *testEnv) balance(t *testing.T, ownerID string) string {
	t.Helper()
	w, err := e.ledger.GetWallet(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("balance %s: %v", ownerID, err)
	}
	return w.Balance
}

func TestBuyNowAcceptComplete(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l := e.publishedListing(t, "seller1", "1500000")
	e.fund(t, "buyer1", "2000000")

	o, err := e.svc.BuyNow(ctx, "buyer1", l.ID)
	if err != nil {
		t.Fatalf("buy now: %v", err)
	}
	if o.Status != StatusWaitingSellerConfirm {
		t.Errorf("status = %s, want WAITING_SELLER_CONFIRM", o.Status)
	}
	if got := e.balance(t, "buyer1"); got != "500000.00" {
		t.Errorf("buyer balance after hold = %s, want 500000.00", got)
	}

	o, err = e.svc.SellerConfirm(ctx, "seller1", o.ID, ActionAccept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if o.Status != StatusProcessing {
		t.Errorf("status = %s, want PROCESSING", o.Status)
	}
	if o.ConfirmedAt == nil {
		t.Error("ConfirmedAt not set on accept")
	}
	if len(e.opener.opened) != 1 || e.opener.opened[0] != o.ID {
		t.Errorf("contract not opened on accept: %v", e.opener.opened)
	}
	if o.ContractID == "" {
		t.Error("contract id not recorded on order")
	}

	o, err = e.svc.Complete(ctx, "buyer1", o.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if o.Status != StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", o.Status)
	}
	if o.CommissionFee != "75000.00" {
		t.Errorf("commission = %s, want 75000.00", o.CommissionFee)
	}
	if o.SellerReceiveAmount != "1425000.00" {
		t.Errorf("seller receive = %s, want 1425000.00", o.SellerReceiveAmount)
	}

	if got := e.balance(t, "buyer1"); got != "500000.00" {
		t.Errorf("buyer balance after completion = %s, want unchanged 500000.00", got)
	}
	if got := e.balance(t, "seller1"); got != "1425000.00" {
		t.Errorf("seller balance = %s, want 1425000.00", got)
	}
	if got := e.balance(t, wallet.PlatformOwnerID); got != "75000.00" {
		t.Errorf("platform balance = %s, want 75000.00", got)
	}

	got, err := e.listings.Get(ctx, l.ID)
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if got.Status != listing.StatusSold {
		t.Errorf("listing status = %s, want SOLD", got.Status)
	}
}

func TestBuyNowPreconditions(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l := e.publishedListing(t, "seller1", "1000000")

	if _, err := e.svc.BuyNow(ctx, "seller1", l.ID); !errors.Is(err, ErrOwnListing) {
		t.Errorf("self purchase: got %v, want ErrOwnListing", err)
	}

	// Broke buyer: no order, and the listing must come back lockable.
	_, err := e.svc.BuyNow(ctx, "broke", l.ID)
	if !errors.Is(err, wallet.ErrInsufficientBalance) {
		t.Errorf("broke buyer: got %v, want ErrInsufficientBalance", err)
	}
	got, _ := e.listings.Get(ctx, l.ID)
	if got.LockedByOrderID != "" {
		t.Errorf("listing still locked after failed hold: %s", got.LockedByOrderID)
	}

	// First real purchase locks the listing against a second buyer.
	e.fund(t, "buyer1", "1000000")
	e.fund(t, "buyer2", "1000000")
	if _, err := e.svc.BuyNow(ctx, "buyer1", l.ID); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := e.svc.BuyNow(ctx, "buyer2", l.ID); !errors.Is(err, listing.ErrListingLocked) {
		t.Errorf("second buy: got %v, want ErrListingLocked", err)
	}
	if got := e.balance(t, "buyer2"); got != "1000000.00" {
		t.Errorf("losing buyer was charged: %s", got)
	}
}

func TestConcurrentBuyNowSingleWinner(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l := e.publishedListing(t, "seller1", "1000000")

	const buyers = 8
	for i := 0; i < buyers; i++ {
		e.fund(t, fmt.Sprintf("buyer%d", i), "1000000")
	}

	type result struct {
		buyer string
		order *Order
		err   error
	}
	results := make(chan result, buyers)
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			o, err := e.svc.BuyNow(ctx, buyer, l.ID)
			results <- result{buyer: buyer, order: o, err: err}
		}(fmt.Sprintf("buyer%d", i))
	}
	wg.Wait()
	close(results)

	var winner string
	wins := 0
	for r := range results {
		if r.err == nil {
			wins++
			winner = r.buyer
			continue
		}
		if !errors.Is(r.err, listing.ErrListingLocked) {
			t.Errorf("loser %s: got %v, want ErrListingLocked", r.buyer, r.err)
		}
		if got := e.balance(t, r.buyer); got != "1000000.00" {
			t.Errorf("loser %s was charged: balance = %s", r.buyer, got)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want exactly 1", wins)
	}
	if got := e.balance(t, winner); got != "0.00" {
		t.Errorf("winner balance = %s, want 0.00 after hold", got)
	}

	got, _ := e.listings.Get(ctx, l.ID)
	if got.LockedByOrderID == "" {
		t.Error("listing not locked after winning buy")
	}
	orders, err := e.svc.ListMine(ctx, "seller1", RoleSeller, "", 20, 0)
	if err != nil || len(orders) != 1 {
		t.Errorf("seller sees %d orders (err %v), want 1", len(orders), err)
	}
}

func TestSellerReject(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l := e.publishedListing(t, "seller1", "1500000")
	e.fund(t, "buyer1", "2000000")

	o, err := e.svc.BuyNow(ctx, "buyer1", l.ID)
	if err != nil {
		t.Fatalf("buy now: %v", err)
	}

	o, err = e.svc.SellerConfirm(ctx, "seller1", o.ID, ActionReject)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if o.Status != StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", o.Status)
	}
	if got := e.balance(t, "buyer1"); got != "2000000.00" {
		t.Errorf("buyer balance after reject = %s, want restored 2000000.00", got)
	}

	// Listing is available again.
	got, _ := e.listings.Get(ctx, l.ID)
	if got.LockedByOrderID != "" {
		t.Errorf("listing still locked after reject: %s", got.LockedByOrderID)
	}
	e.fund(t, "buyer2", "1500000")
	if _, err := e.svc.BuyNow(ctx, "buyer2", l.ID); err != nil {
		t.Errorf("rebuy after reject: %v", err)
	}
}

func TestSellerConfirmAuthorizationAndState(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l := e.publishedListing(t, "seller1", "1000000")
	e.fund(t, "buyer1", "1000000")

	o, _ := e.svc.BuyNow(ctx, "buyer1", l.ID)

	if _, err := e.svc.SellerConfirm(ctx, "stranger", o.ID, ActionAccept); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("foreign confirm: got %v, want ErrUnauthorized", err)
	}
	if _, err := e.svc.SellerConfirm(ctx, "buyer1", o.ID, ActionAccept); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("buyer confirm: got %v, want ErrUnauthorized", err)
	}

	if _, err := e.svc.SellerConfirm(ctx, "seller1", o.ID, ActionAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := e.svc.SellerConfirm(ctx, "seller1", o.ID, ActionAccept); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("re-confirm: got %v, want ErrInvalidStateTransition", err)
	}
}

func TestCompleteOnlyBuyerFromProcessing(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l := e.publishedListing(t, "seller1", "1000000")
	e.fund(t, "buyer1", "1000000")

	o, _ := e.svc.BuyNow(ctx, "buyer1", l.ID)

	// Not yet accepted.
	if _, err := e.svc.Complete(ctx, "buyer1", o.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("complete from WAITING: got %v, want ErrInvalidStateTransition", err)
	}

	e.svc.SellerConfirm(ctx, "seller1", o.ID, ActionAccept)

	if _, err := e.svc.Complete(ctx, "seller1", o.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("seller complete: got %v, want ErrUnauthorized", err)
	}
	if _, err := e.svc.Complete(ctx, "buyer1", o.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.svc.Complete(ctx, "buyer1", o.ID); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("double complete: got %v, want ErrInvalidStateTransition", err)
	}
}

func TestBuyerCancel(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l := e.publishedListing(t, "seller1", "1000000")
	e.fund(t, "buyer1", "1000000")

	o, _ := e.svc.BuyNow(ctx, "buyer1", l.ID)
	e.svc.SellerConfirm(ctx, "seller1", o.ID, ActionAccept)

	o, err := e.svc.Cancel(ctx, "buyer1", o.ID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if o.Status != StatusCancelled {
		t.Errorf("status = %s, want CANCELLED", o.Status)
	}
	if o.Note != "changed my mind" {
		t.Errorf("note = %q", o.Note)
	}
	if got := e.balance(t, "buyer1"); got != "1000000.00" {
		t.Errorf("buyer balance after cancel = %s, want 1000000.00", got)
	}

	if _, err := e.svc.Cancel(ctx, "buyer1", o.ID, ""); !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("cancel terminal order: got %v, want ErrInvalidStateTransition", err)
	}
}

func TestRefundAndSettleAndForfeit(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	setup := func(buyer string) *Order {
		l := e.publishedListing(t, "seller1", "1000000")
		e.fund(t, buyer, "1000000")
		o, err := e.svc.BuyNow(ctx, buyer, l.ID)
		if err != nil {
			t.Fatalf("buy now: %v", err)
		}
		if _, err := e.svc.SellerConfirm(ctx, "seller1", o.ID, ActionAccept); err != nil {
			t.Fatalf("accept: %v", err)
		}
		return o
	}

	// Approved refund: buyer made whole, order REFUNDED.
	o1 := setup("buyerA")
	got, err := e.svc.Refund(ctx, o1.ID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got.Status != StatusRefunded {
		t.Errorf("status = %s, want REFUNDED", got.Status)
	}
	if b := e.balance(t, "buyerA"); b != "1000000.00" {
		t.Errorf("buyerA balance = %s, want 1000000.00", b)
	}

	// Rejected refund: normal completion accounting.
	o2 := setup("buyerB")
	got, err = e.svc.Settle(ctx, o2.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	if got.SellerReceiveAmount != "950000.00" || got.CommissionFee != "50000.00" {
		t.Errorf("settle split = %s / %s", got.SellerReceiveAmount, got.CommissionFee)
	}

	// Forfeiture: entire hold to the platform.
	o3 := setup("buyerC")
	got, err = e.svc.Forfeit(ctx, o3.ID)
	if err != nil {
		t.Fatalf("forfeit: %v", err)
	}
	if got.SellerReceiveAmount != "0.00" || got.CommissionFee != "1000000.00" {
		t.Errorf("forfeit split = %s / %s", got.SellerReceiveAmount, got.CommissionFee)
	}
	if b := e.balance(t, "buyerC"); b != "0.00" {
		t.Errorf("forfeited buyer balance = %s, want 0.00", b)
	}
}

func TestGetByCodeAndListMine(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l := e.publishedListing(t, "seller1", "1000000")
	e.fund(t, "buyer1", "1000000")

	o, _ := e.svc.BuyNow(ctx, "buyer1", l.ID)

	got, err := e.svc.GetByCode(ctx, "buyer1", o.Code, false)
	if err != nil || got.ID != o.ID {
		t.Errorf("GetByCode = %v, %v", got, err)
	}
	if _, err := e.svc.GetByCode(ctx, "stranger", o.Code, false); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("foreign GetByCode: got %v, want ErrUnauthorized", err)
	}
	if _, err := e.svc.GetByCode(ctx, "stranger", o.Code, true); err != nil {
		t.Errorf("admin GetByCode: %v", err)
	}

	asBuyer, err := e.svc.ListMine(ctx, "buyer1", RoleBuyer, "", 20, 0)
	if err != nil || len(asBuyer) != 1 {
		t.Errorf("ListMine buyer = %d orders, err %v", len(asBuyer), err)
	}
	asSeller, err := e.svc.ListMine(ctx, "seller1", RoleSeller, "", 20, 0)
	if err != nil || len(asSeller) != 1 {
		t.Errorf("ListMine seller = %d orders, err %v", len(asSeller), err)
	}
	none, err := e.svc.ListMine(ctx, "buyer1", RoleSeller, "", 20, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("ListMine wrong role = %d orders, err %v", len(none), err)
	}
	filtered, err := e.svc.ListMine(ctx, "buyer1", RoleBuyer, StatusCompleted, 20, 0)
	if err != nil || len(filtered) != 0 {
		t.Errorf("ListMine status filter = %d orders, err %v", len(filtered), err)
	}
}

func TestLedgerInvariantAcrossFlow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l := e.publishedListing(t, "seller1", "1500000")
	e.fund(t, "buyer1", "2000000")

	o, _ := e.svc.BuyNow(ctx, "buyer1", l.ID)
	e.svc.SellerConfirm(ctx, "seller1", o.ID, ActionAccept)
	e.svc.Complete(ctx, "buyer1", o.ID)

	for _, owner := range []string{"buyer1", "seller1", wallet.PlatformOwnerID} {
		diff, err := e.ledger.VerifyInvariant(ctx, owner)
		if err != nil {
			t.Fatalf("verify %s: %v", owner, err)
		}
		if diff.Sign() != 0 {
			t.Errorf("invariant broken for %s: %s", owner, diff)
		}
	}
}
