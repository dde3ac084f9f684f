// Package webhooks delivers marketplace lifecycle events to external
// services.
//
// Accounts register webhook URLs to be notified about their orders,
// contracts, refund decisions and wallet topups. Payloads are signed
// with HMAC-SHA256 so receivers can verify origin.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/voltmarket/voltmarket/internal/retry"
	"github.com/voltmarket/voltmarket/internal/security"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventOrderCreated      EventType = "order.created"
	EventOrderAccepted     EventType = "order.accepted"
	EventOrderRejected     EventType = "order.rejected"
	EventOrderCancelled    EventType = "order.cancelled"
	EventOrderCompleted    EventType = "order.completed"
	EventOrderRefunded     EventType = "order.refunded"
	EventContractOpened    EventType = "contract.opened"
	EventContractConfirmed EventType = "contract.confirmed"
	EventContractForfeited EventType = "contract.forfeited"
	EventContractDisputed  EventType = "contract.disputed"
	EventContractResolved  EventType = "contract.resolved"
	EventRefundDecided     EventType = "refund.decided"
	EventTopupPaid         EventType = "topup.paid"
)

// KnownEvent reports whether t is one of the published event types.
func KnownEvent(t EventType) bool {
	switch t {
	case EventOrderCreated, EventOrderAccepted, EventOrderRejected,
		EventOrderCancelled, EventOrderCompleted, EventOrderRefunded,
		EventContractOpened, EventContractConfirmed, EventContractForfeited,
		EventContractDisputed, EventContractResolved,
		EventRefundDecided, EventTopupPaid:
		return true
	}
	return false
}

// Event represents a webhook event
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string      `json:"id"`
	AccountID           string      `json:"accountId"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // Used for HMAC signing
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByAccount(ctx context.Context, accountID string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// maxConsecutiveFailures is the point where a subscription is disabled
// instead of being hammered forever.
const maxConsecutiveFailures = 10

// Dispatcher sends webhook events
type Dispatcher struct {
	store        Store
	client       *http.Client
	urlValidator func(string) error
	wg           sync.WaitGroup
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		urlValidator: security.ValidateEndpointURL,
	}
}

// Store returns the subscription store backing this dispatcher.
func (d *Dispatcher) Store() Store {
	return d.store
}

// ValidateURL checks a subscription URL against the SSRF guard.
func (d *Dispatcher) ValidateURL(rawURL string) error {
	return d.urlValidator(rawURL)
}

// Dispatch sends an event to all subscribers of its type
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		// Send async to avoid blocking the caller
		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			d.send(ctx, sub, event)
		}(sub)
	}

	return nil
}

// DispatchToAccount sends an event to one account's subscriptions
func (d *Dispatcher) DispatchToAccount(ctx context.Context, accountID string, event *Event) error {
	subs, err := d.store.GetByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		for _, et := range sub.Events {
			if et == event.Type {
				d.wg.Add(1)
				go func(sub *Subscription) {
					defer d.wg.Done()
					d.send(ctx, sub, event)
				}(sub)
				break
			}
		}
	}

	return nil
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown
// and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, "failed to marshal event")
		return
	}

	if err := d.urlValidator(sub.URL); err != nil {
		d.recordFailure(ctx, sub, fmt.Sprintf("url rejected: %v", err))
		return
	}

	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		return d.deliver(ctx, sub, event, payload)
	})
	if err != nil {
		d.recordFailure(ctx, sub, err.Error())
		return
	}
	d.recordSuccess(ctx, sub)
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Voltmarket-Event", string(event.Type))
	req.Header.Set("X-Voltmarket-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	if sub.Secret != "" {
		req.Header.Set("X-Voltmarket-Signature", d.sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

func (d *Dispatcher) sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	d.store.Update(ctx, sub)
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= maxConsecutiveFailures {
		sub.Active = false
	}
	d.store.Update(ctx, sub)
}

// MemoryStore is an in-memory implementation for development and tests
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, fmt.Errorf("subscription not found")
}

func (m *MemoryStore) GetByAccount(ctx context.Context, accountID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.AccountID == accountID {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		for _, et := range sub.Events {
			if et == eventType {
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
