package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/voltmarket/voltmarket/internal/listing"
)

type stubListings struct {
	byID map[string]*listing.Listing
}

func (s *stubListings) Get(ctx context.Context, id string) (*listing.Listing, error) {
	l, ok := s.byID[id]
	if !ok {
		return nil, listing.ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

type recordingCases struct {
	opened []string
	fail   bool
}

func (r *recordingCases) OpenForContract(ctx context.Context, contractID, orderID, raisedBy, reason string) (string, error) {
	if r.fail {
		return "", errors.New("case store down")
	}
	r.opened = append(r.opened, contractID)
	return "rc_" + contractID, nil
}

func newTestService() (*Service, *recordingCases) {
	listings := &stubListings{byID: map[string]*listing.Listing{
		"lst_1": {ID: "lst_1", SellerID: "seller1", Title: "VF8 pack", Price: "25000000", Status: listing.StatusPublished},
	}}
	cases := &recordingCases{}
	svc := NewService(NewMemoryStore(), listings, slog.Default()).WithCaseOpener(cases)
	return svc, cases
}

func TestOpenForOrderSnapshotsListing(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	id, err := svc.OpenForOrder(ctx, "ord_1", "lst_1", "buyer1", "seller1", "0.05")
	if err != nil {
		t.Fatalf("open for order: %v", err)
	}

	c, err := svc.GetByID(ctx, "buyer1", id, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Status != StatusAwaitingConfirmation {
		t.Errorf("status = %s, want AWAITING_CONFIRMATION", c.Status)
	}
	if c.OrderID != "ord_1" || c.FeeRate != "0.05" {
		t.Errorf("order back-reference lost: %s / %s", c.OrderID, c.FeeRate)
	}

	var snap listing.Listing
	if err := json.Unmarshal([]byte(c.ListingSnapshot), &snap); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if snap.Price != "25000000" {
		t.Errorf("snapshot price = %s", snap.Price)
	}
	sum := sha256.Sum256([]byte(c.ListingSnapshot))
	if c.Hash != hex.EncodeToString(sum[:]) {
		t.Error("hash does not match snapshot bytes")
	}
}

func TestCreateBySellerChecksOwnership(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateBySeller(ctx, "intruder", "lst_1", "buyer1", false); !errors.Is(err, ErrNotParty) {
		t.Errorf("foreign create: got %v, want ErrNotParty", err)
	}
	if _, err := svc.CreateBySeller(ctx, "seller1", "lst_1", "seller1", false); err == nil {
		t.Error("self-deal accepted")
	}
	if _, err := svc.CreateBySeller(ctx, "seller1", "missing", "buyer1", false); !errors.Is(err, listing.ErrListingNotFound) {
		t.Errorf("missing listing: got %v", err)
	}
}

func TestDuplicateActiveContractRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateBySeller(ctx, "seller1", "lst_1", "buyer1", false); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.CreateBySeller(ctx, "seller1", "lst_1", "buyer1", true); !errors.Is(err, ErrContractExists) {
		t.Errorf("duplicate create: got %v, want ErrContractExists", err)
	}
	// Same listing, different buyer is a separate pairing.
	if _, err := svc.CreateBySeller(ctx, "seller1", "lst_1", "buyer2", false); err != nil {
		t.Errorf("different buyer: %v", err)
	}
}

func TestDualConfirmation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, err := svc.CreateBySeller(ctx, "seller1", "lst_1", "buyer1", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c, err = svc.ConfirmByBuyer(ctx, "buyer1", c.ID)
	if err != nil {
		t.Fatalf("buyer confirm: %v", err)
	}
	if c.Status != StatusAwaitingConfirmation {
		t.Errorf("one-sided confirm moved status to %s", c.Status)
	}
	if c.BuyerConfirmedAt == nil || c.SellerConfirmedAt != nil {
		t.Error("confirmation timestamps wrong after buyer confirm")
	}

	c, err = svc.ConfirmBySeller(ctx, "seller1", c.ID)
	if err != nil {
		t.Fatalf("seller confirm: %v", err)
	}
	if c.Status != StatusSuccess {
		t.Errorf("status = %s, want SUCCESS", c.Status)
	}
	if c.ConfirmedAt == nil {
		t.Error("ConfirmedAt not set on SUCCESS")
	}

	// Re-confirming after SUCCESS is a no-op, not an error.
	again, err := svc.ConfirmByBuyer(ctx, "buyer1", c.ID)
	if err != nil {
		t.Fatalf("re-confirm: %v", err)
	}
	if !again.ConfirmedAt.Equal(*c.ConfirmedAt) {
		t.Error("re-confirm changed ConfirmedAt")
	}
}

func TestConfirmRejectsNonParty(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.CreateBySeller(ctx, "seller1", "lst_1", "buyer1", false)

	if _, err := svc.ConfirmByBuyer(ctx, "stranger", c.ID); !errors.Is(err, ErrNotParty) {
		t.Errorf("stranger as buyer: got %v", err)
	}
	if _, err := svc.ConfirmBySeller(ctx, "buyer1", c.ID); !errors.Is(err, ErrNotParty) {
		t.Errorf("buyer as seller: got %v", err)
	}
}

func TestForfeitExternal(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.CreateBySeller(ctx, "seller1", "lst_1", "buyer1", false)

	if _, err := svc.ForfeitExternal(ctx, "buyer1", c.ID); !errors.Is(err, ErrNotParty) {
		t.Errorf("buyer forfeit: got %v, want ErrNotParty", err)
	}

	c, err := svc.ForfeitExternal(ctx, "seller1", c.ID)
	if err != nil {
		t.Fatalf("forfeit: %v", err)
	}
	if c.Status != StatusForfeitedExternal || !c.IsExternalTransaction {
		t.Errorf("forfeit result: %s external=%v", c.Status, c.IsExternalTransaction)
	}

	// Terminal: no confirms or second forfeit.
	if _, err := svc.ConfirmBySeller(ctx, "seller1", c.ID); !errors.Is(err, ErrInvalidContractState) {
		t.Errorf("confirm after forfeit: got %v", err)
	}
	if _, err := svc.ForfeitExternal(ctx, "seller1", c.ID); !errors.Is(err, ErrInvalidContractState) {
		t.Errorf("double forfeit: got %v", err)
	}
}

func TestDisputeOpensRefundCase(t *testing.T) {
	svc, cases := newTestService()
	ctx := context.Background()

	c, _ := svc.CreateBySeller(ctx, "seller1", "lst_1", "buyer1", false)

	if _, err := svc.Dispute(ctx, "stranger", c.ID, "not mine"); !errors.Is(err, ErrNotParty) {
		t.Errorf("stranger dispute: got %v", err)
	}

	c, err := svc.Dispute(ctx, "buyer1", c.ID, "battery swollen on delivery")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if c.Status != StatusPendingRefund {
		t.Errorf("status = %s, want PENDING_REFUND", c.Status)
	}
	if c.RefundCaseID != "rc_"+c.ID {
		t.Errorf("refund case not linked: %s", c.RefundCaseID)
	}
	if len(cases.opened) != 1 {
		t.Errorf("cases opened = %d, want 1", len(cases.opened))
	}

	// Frozen until the admin decides.
	if _, err := svc.ConfirmByBuyer(ctx, "buyer1", c.ID); !errors.Is(err, ErrInvalidContractState) {
		t.Errorf("confirm while disputed: got %v", err)
	}
	if _, err := svc.Dispute(ctx, "seller1", c.ID, "again"); !errors.Is(err, ErrInvalidContractState) {
		t.Errorf("double dispute: got %v", err)
	}
}

func TestDisputeFailsClosedWhenCaseCannotOpen(t *testing.T) {
	svc, cases := newTestService()
	cases.fail = true
	ctx := context.Background()

	c, _ := svc.CreateBySeller(ctx, "seller1", "lst_1", "buyer1", false)
	if _, err := svc.Dispute(ctx, "buyer1", c.ID, "reason"); err == nil {
		t.Fatal("dispute succeeded without a refund case")
	}

	got, _ := svc.GetByID(ctx, "buyer1", c.ID, false)
	if got.Status != StatusAwaitingConfirmation {
		t.Errorf("failed dispute left status %s", got.Status)
	}
}

func TestResolve(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	open := func(buyer string) *Contract {
		c, err := svc.CreateBySeller(ctx, "seller1", "lst_1", buyer, false)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := svc.Dispute(ctx, buyer, c.ID, "reason"); err != nil {
			t.Fatalf("dispute: %v", err)
		}
		return c
	}

	approved := open("buyerA")
	c, err := svc.Resolve(ctx, approved.ID, true)
	if err != nil {
		t.Fatalf("resolve approve: %v", err)
	}
	if c.Status != StatusRefunded {
		t.Errorf("approved resolve status = %s, want REFUNDED", c.Status)
	}

	rejected := open("buyerB")
	c, err = svc.Resolve(ctx, rejected.ID, false)
	if err != nil {
		t.Fatalf("resolve reject: %v", err)
	}
	if c.Status != StatusSuccess {
		t.Errorf("rejected resolve status = %s, want SUCCESS", c.Status)
	}

	if _, err := svc.Resolve(ctx, approved.ID, true); !errors.Is(err, ErrInvalidContractState) {
		t.Errorf("double resolve: got %v", err)
	}
}

func TestGetByIDVisibility(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c, _ := svc.CreateBySeller(ctx, "seller1", "lst_1", "buyer1", false)

	if _, err := svc.GetByID(ctx, "stranger", c.ID, false); !errors.Is(err, ErrNotParty) {
		t.Errorf("stranger read: got %v", err)
	}
	if _, err := svc.GetByID(ctx, "stranger", c.ID, true); err != nil {
		t.Errorf("admin read: %v", err)
	}
	if _, err := svc.GetByID(ctx, "seller1", c.ID, false); err != nil {
		t.Errorf("seller read: %v", err)
	}
}
