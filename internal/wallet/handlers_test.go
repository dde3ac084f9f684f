package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/voltmarket/voltmarket/internal/auth"
)

func setupTestRouter() (*gin.Engine, *Ledger) {
	gin.SetMode(gin.TestMode)

	ledger := New(NewMemoryStore())
	handler := NewHandler(ledger, slog.Default())

	r := gin.New()
	v1 := r.Group("/v1")
	// Test stand-in for auth middleware: X-Account-ID header sets the account.
	v1.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Account-ID"); id != "" {
			c.Set(auth.ContextKeyAccountID, id)
		}
		c.Next()
	})
	handler.RegisterRoutes(v1)
	handler.RegisterAdminRoutes(v1)

	return r, ledger
}

func TestHandler_GetMyWallet(t *testing.T) {
	router, ledger := setupTestRouter()
	if err := ledger.Credit(context.Background(), "buyer1", "750000", ServiceWalletTopup, "", nil, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest("GET", "/v1/wallet", nil)
	req.Header.Set("X-Account-ID", "buyer1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Wallet struct {
			OwnerID string `json:"ownerId"`
			Balance string `json:"balance"`
		} `json:"wallet"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Wallet.Balance != "750000.00" {
		t.Errorf("balance = %s, want 750000.00", resp.Wallet.Balance)
	}
}

func TestHandler_DeductInsufficient(t *testing.T) {
	router, _ := setupTestRouter()

	body, _ := json.Marshal(DeductRequest{Amount: "100"})
	req := httptest.NewRequest("POST", "/v1/wallet/deduct", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Account-ID", "broke")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("Expected 402, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error != "insufficient_balance" {
		t.Errorf("error code = %s", resp.Error)
	}
}

func TestHandler_DeductRejectsEscrowServiceTypes(t *testing.T) {
	router, ledger := setupTestRouter()
	if err := ledger.Credit(context.Background(), "buyer1", "1000", ServiceWalletTopup, "", nil, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	body, _ := json.Marshal(DeductRequest{Amount: "100", ServiceType: "BUY_HOLD"})
	req := httptest.NewRequest("POST", "/v1/wallet/deduct", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Account-ID", "buyer1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_AdminWalletInvariant(t *testing.T) {
	router, ledger := setupTestRouter()
	ctx := context.Background()
	if err := ledger.Credit(ctx, "seller1", "2000", ServiceSellRevenue, "", nil, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest("GET", "/v1/admin/wallets/seller1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		InvariantDiff string `json:"invariantDiff"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.InvariantDiff != "0" {
		t.Errorf("invariantDiff = %s, want 0", resp.InvariantDiff)
	}
}
