package wallet

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/voltmarket/voltmarket/internal/idgen"
	"github.com/voltmarket/voltmarket/internal/vnd"
)

// MemoryStore is an in-memory wallet store for demo/development mode.
type MemoryStore struct {
	wallets map[string]*Wallet
	txns    []*Transaction
	idemp   map[string]bool
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		idemp:   make(map[string]bool),
	}
}

func (m *MemoryStore) GetWallet(ctx context.Context, ownerID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if w, ok := m.wallets[ownerID]; ok {
		cp := *w
		return &cp, nil
	}
	return &Wallet{
		OwnerID:   ownerID,
		Balance:   "0.00",
		UpdatedAt: time.Now(),
	}, nil
}

func (m *MemoryStore) getOrCreate(ownerID string) *Wallet {
	w, ok := m.wallets[ownerID]
	if !ok {
		w = &Wallet{OwnerID: ownerID, Balance: "0.00"}
		m.wallets[ownerID] = w
	}
	return w
}

func (m *MemoryStore) append(ownerID, amount string, svc ServiceType, description string, related *RelatedEntity, idempotencyKey string) {
	txn := &Transaction{
		ID:             idgen.WithPrefix("txn_"),
		OwnerID:        ownerID,
		Amount:         amount,
		ServiceType:    svc,
		Description:    description,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now(),
	}
	if related != nil {
		txn.RelatedType = related.Type
		txn.RelatedID = related.ID
	}
	m.txns = append(m.txns, txn)
}

func (m *MemoryStore) Credit(ctx context.Context, ownerID, amount string, svc ServiceType, description string, related *RelatedEntity, idempotencyKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idempotencyKey != "" && m.idemp[idempotencyKey] {
		return ErrDuplicateIdempotencyKey
	}

	w := m.getOrCreate(ownerID)
	bal, _ := vnd.Parse(w.Balance)
	add, ok := vnd.Parse(amount)
	if !ok {
		return ErrInvalidAmount
	}
	bal.Add(bal, add)
	w.Balance = vnd.Format(bal)
	w.UpdatedAt = time.Now()

	m.append(ownerID, vnd.Format(add), svc, description, related, idempotencyKey)
	if idempotencyKey != "" {
		m.idemp[idempotencyKey] = true
	}
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, ownerID, amount string, svc ServiceType, description string, related *RelatedEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[ownerID]
	if !ok {
		return ErrInsufficientBalance
	}

	bal, _ := vnd.Parse(w.Balance)
	sub, okAmt := vnd.Parse(amount)
	if !okAmt {
		return ErrInvalidAmount
	}
	if bal.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, sub)
	w.Balance = vnd.Format(bal)
	w.UpdatedAt = time.Now()

	m.append(ownerID, vnd.Format(new(big.Int).Neg(sub)), svc, description, related, "")
	return nil
}

func (m *MemoryStore) Transfer(ctx context.Context, req TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from, ok := m.wallets[req.FromOwnerID]
	if !ok {
		return ErrInsufficientBalance
	}
	amt, okAmt := vnd.Parse(req.Amount)
	if !okAmt {
		return ErrInvalidAmount
	}
	fromBal, _ := vnd.Parse(from.Balance)
	if fromBal.Cmp(amt) < 0 {
		return ErrInsufficientBalance
	}

	to := m.getOrCreate(req.ToOwnerID)
	toBal, _ := vnd.Parse(to.Balance)

	fromBal.Sub(fromBal, amt)
	toBal.Add(toBal, amt)
	now := time.Now()
	from.Balance = vnd.Format(fromBal)
	from.UpdatedAt = now
	to.Balance = vnd.Format(toBal)
	to.UpdatedAt = now

	m.append(req.FromOwnerID, vnd.Format(new(big.Int).Neg(amt)), req.DebitService, req.Description, req.Related, "")
	m.append(req.ToOwnerID, vnd.Format(amt), req.CreditService, req.Description, req.Related, "")
	return nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, ownerID string, limit, offset int) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	skipped := 0
	for i := len(m.txns) - 1; i >= 0 && len(result) < limit; i-- {
		if m.txns[i].OwnerID != ownerID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, m.txns[i])
	}
	return result, nil
}

func (m *MemoryStore) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idemp[key], nil
}

func (m *MemoryStore) SumTransactions(ctx context.Context, ownerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := new(big.Int)
	for _, txn := range m.txns {
		if txn.OwnerID != ownerID {
			continue
		}
		v, ok := vnd.Parse(txn.Amount)
		if !ok {
			continue
		}
		sum.Add(sum, v)
	}
	return vnd.Format(sum), nil
}

func (m *MemoryStore) ListOwners(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owners := make([]string, 0, len(m.wallets))
	for id := range m.wallets {
		owners = append(owners, id)
	}
	return owners, nil
}
