package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voltmarket/voltmarket/internal/circuitbreaker"
	"github.com/voltmarket/voltmarket/internal/wallet"
)

// fakeGateway is a scriptable Gateway. Status is returned per session;
// createErr / verifyErr force failures.
type fakeGateway struct {
	mu        sync.Mutex
	status    map[string]GatewayStatus
	createErr error
	verifyErr error
	creates   int
	verifies  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{status: make(map[string]GatewayStatus)}
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, t *Topup) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return "", "", g.createErr
	}
	sessionID := "sess_" + t.OrderCode
	g.status[sessionID] = GatewayPending
	return sessionID, "https://gateway.test/pay/" + sessionID, nil
}

func (g *fakeGateway) VerifyStatus(ctx context.Context, sessionID string) (GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifies++
	if g.verifyErr != nil {
		return "", g.verifyErr
	}
	st, ok := g.status[sessionID]
	if !ok {
		return "", fmt.Errorf("unknown session %s", sessionID)
	}
	return st, nil
}

func (g *fakeGateway) pay(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[sessionID] = GatewayPaid
}

func (g *fakeGateway) expire(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[sessionID] = GatewayExpired
}

// ledgerCrediter binds the topup flow to the real wallet ledger, with
// the order code as the idempotency key.
type ledgerCrediter struct {
	ledger *wallet.Ledger
}

func (c ledgerCrediter) CreditTopup(ctx context.Context, ownerID, amount, orderCode string) error {
	return c.ledger.Credit(ctx, ownerID, amount, wallet.ServiceWalletTopup,
		"Wallet topup "+orderCode, &wallet.RelatedEntity{Type: "topup", ID: orderCode}, orderCode)
}

type testEnv struct {
	svc     *Service
	store   *MemoryStore
	gateway *fakeGateway
	ledger  *wallet.Ledger
}

func newTestEnv() *testEnv {
	gw := newFakeGateway()
	store := NewMemoryStore()
	ledger := wallet.New(wallet.NewMemoryStore())
	svc := NewService(store, gw, ledgerCrediter{ledger}, slog.Default())
	return &testEnv{svc: svc, store: store, gateway: gw, ledger: ledger}
}

func (e *testEnv) balance(t *testing.T, owner string) string {
	t.Helper()
	w, err := e.ledger.GetWallet(context.Background(), owner)
	if err != nil {
		t.Fatalf("get wallet %s: %v", owner, err)
	}
	return w.Balance
}

func TestCreateTopup(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tp, err := env.svc.CreateTopup(ctx, "buyer1", "2000000")
	if err != nil {
		t.Fatalf("create topup: %v", err)
	}
	if tp.Status != StatusPending {
		t.Errorf("status = %s, want PENDING", tp.Status)
	}
	if !strings.HasPrefix(tp.OrderCode, "TP-") {
		t.Errorf("order code = %s, want TP- prefix", tp.OrderCode)
	}
	if tp.CheckoutURL == "" {
		t.Error("expected a checkout URL")
	}

	// Nothing hits the wallet until the gateway confirms payment.
	if got := env.balance(t, "buyer1"); got != "0.00" {
		t.Errorf("balance before payment = %s, want 0.00", got)
	}
}

func TestCreateTopupInvalidAmount(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	for _, amount := range []string{"", "0", "-100", "abc", "1.2.3"} {
		if _, err := env.svc.CreateTopup(ctx, "buyer1", amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("CreateTopup(%q) = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if env.gateway.creates != 0 {
		t.Errorf("gateway called %d times for invalid amounts, want 0", env.gateway.creates)
	}
}

func TestCreateTopupGatewayRejected(t *testing.T) {
	env := newTestEnv()
	env.gateway.createErr = errors.New("card network down")

	_, err := env.svc.CreateTopup(context.Background(), "buyer1", "500000")
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("err = %v, want ErrGatewayRejected", err)
	}
	if _, err := env.store.GetByCode(context.Background(), "anything"); !errors.Is(err, ErrTopupNotFound) {
		t.Error("no topup should be persisted when the gateway rejects")
	}
}

func TestVerifyPaidCreditsExactlyOnce(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tp, err := env.svc.CreateTopup(ctx, "buyer1", "1500000")
	if err != nil {
		t.Fatalf("create topup: %v", err)
	}
	env.gateway.pay(tp.GatewaySessionID)

	got, err := env.svc.VerifyAndProcess(ctx, tp.OrderCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Status != StatusPaid {
		t.Errorf("status = %s, want PAID", got.Status)
	}
	if got.PaidAt == nil {
		t.Error("PaidAt not set")
	}
	if b := env.balance(t, "buyer1"); b != "1500000.00" {
		t.Errorf("balance = %s, want 1500000.00", b)
	}

	// Replays from the return URL and the webhook must not credit twice.
	verifiesBefore := env.gateway.verifies
	for i := 0; i < 3; i++ {
		got, err = env.svc.VerifyAndProcess(ctx, tp.OrderCode)
		if err != nil {
			t.Fatalf("replay verify: %v", err)
		}
		if got.Status != StatusPaid {
			t.Errorf("replay status = %s, want PAID", got.Status)
		}
	}
	if b := env.balance(t, "buyer1"); b != "1500000.00" {
		t.Errorf("balance after replays = %s, want 1500000.00", b)
	}
	if env.gateway.verifies != verifiesBefore {
		t.Errorf("PAID topup re-verified against the gateway %d times", env.gateway.verifies-verifiesBefore)
	}
}

func TestVerifyConvergesAfterLostStatusUpdate(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tp, err := env.svc.CreateTopup(ctx, "buyer1", "750000")
	if err != nil {
		t.Fatalf("create topup: %v", err)
	}
	env.gateway.pay(tp.GatewaySessionID)
	if _, err := env.svc.VerifyAndProcess(ctx, tp.OrderCode); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// Simulate a crash between the wallet credit and the status write:
	// force the row back to PENDING and verify again. The duplicate
	// idempotency key is tolerated and the status converges to PAID.
	stale, _ := env.store.GetByCode(ctx, tp.OrderCode)
	stale.Status = StatusPending
	stale.PaidAt = nil
	if err := env.store.Update(ctx, stale); err != nil {
		t.Fatalf("reset topup: %v", err)
	}

	got, err := env.svc.VerifyAndProcess(ctx, tp.OrderCode)
	if err != nil {
		t.Fatalf("re-verify: %v", err)
	}
	if got.Status != StatusPaid {
		t.Errorf("status = %s, want PAID", got.Status)
	}
	if b := env.balance(t, "buyer1"); b != "750000.00" {
		t.Errorf("balance = %s, want 750000.00 (credited once)", b)
	}
}

func TestVerifyExpired(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tp, err := env.svc.CreateTopup(ctx, "buyer1", "300000")
	if err != nil {
		t.Fatalf("create topup: %v", err)
	}
	env.gateway.expire(tp.GatewaySessionID)

	got, err := env.svc.VerifyAndProcess(ctx, tp.OrderCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want EXPIRED", got.Status)
	}
	if b := env.balance(t, "buyer1"); b != "0.00" {
		t.Errorf("balance = %s, want 0.00", b)
	}

	// Expired is terminal for the flow; the wallet stays untouched even
	// if the session later reports paid.
	env.gateway.pay(tp.GatewaySessionID)
	got, err = env.svc.VerifyAndProcess(ctx, tp.OrderCode)
	if err != nil {
		t.Fatalf("verify after expiry: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want EXPIRED", got.Status)
	}
	if b := env.balance(t, "buyer1"); b != "0.00" {
		t.Errorf("balance = %s, want 0.00", b)
	}
}

func TestVerifyStillPending(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tp, err := env.svc.CreateTopup(ctx, "buyer1", "300000")
	if err != nil {
		t.Fatalf("create topup: %v", err)
	}

	got, err := env.svc.VerifyAndProcess(ctx, tp.OrderCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %s, want PENDING", got.Status)
	}
}

func TestVerifyUnknownCode(t *testing.T) {
	env := newTestEnv()
	if _, err := env.svc.VerifyAndProcess(context.Background(), "TP-NOPE"); !errors.Is(err, ErrTopupNotFound) {
		t.Fatalf("err = %v, want ErrTopupNotFound", err)
	}
}

func TestGetByCodeOwnership(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	tp, err := env.svc.CreateTopup(ctx, "buyer1", "100000")
	if err != nil {
		t.Fatalf("create topup: %v", err)
	}

	if _, err := env.svc.GetByCode(ctx, "buyer1", tp.OrderCode); err != nil {
		t.Errorf("owner lookup: %v", err)
	}
	if _, err := env.svc.GetByCode(ctx, "buyer2", tp.OrderCode); !errors.Is(err, ErrTopupNotFound) {
		t.Errorf("foreign lookup = %v, want ErrTopupNotFound", err)
	}
}

func TestListMineNewestFirst(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	var codes []string
	for i := 0; i < 3; i++ {
		tp, err := env.svc.CreateTopup(ctx, "buyer1", "100000")
		if err != nil {
			t.Fatalf("create topup %d: %v", i, err)
		}
		codes = append(codes, tp.OrderCode)
		time.Sleep(time.Millisecond)
	}
	if _, err := env.svc.CreateTopup(ctx, "buyer2", "100000"); err != nil {
		t.Fatalf("create topup for buyer2: %v", err)
	}

	topups, err := env.svc.ListMine(ctx, "buyer1", 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(topups) != 3 {
		t.Fatalf("got %d topups, want 3", len(topups))
	}
	for i, tp := range topups {
		if want := codes[len(codes)-1-i]; tp.OrderCode != want {
			t.Errorf("topups[%d].OrderCode = %s, want %s", i, tp.OrderCode, want)
		}
	}
}

func TestBreakerShedsLoadWhileOpen(t *testing.T) {
	inner := newFakeGateway()
	inner.verifyErr = errors.New("gateway timeout")
	gw := NewBreakerGateway(inner, circuitbreaker.New(3, time.Minute))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := gw.VerifyStatus(ctx, "sess_x"); err == nil {
			t.Fatalf("verify %d: expected error", i)
		}
	}

	// Circuit is open now; calls fail fast without reaching the gateway.
	callsBefore := inner.verifies
	if _, err := gw.VerifyStatus(ctx, "sess_x"); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
	if _, _, err := gw.CreateCheckout(ctx, &Topup{OrderCode: "TP-TEST"}); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("create err = %v, want ErrGatewayUnavailable", err)
	}
	if inner.verifies != callsBefore {
		t.Errorf("open circuit still reached the gateway")
	}
}
