package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/voltmarket/voltmarket/internal/idgen"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltmarket",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voltmarket",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// Emitter adapts the dispatcher to the event sink shape the domain
// services expect. Fire-and-forget: errors are logged, never returned,
// and delivery runs on a detached context so a cancelled request does
// not drop the notification.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

// Emit sends an event to accountID's subscriptions.
func (e *Emitter) Emit(_ context.Context, accountID, event string, payload any) {
	if e == nil || e.d == nil {
		return
	}
	eventType := EventType(event)
	if !KnownEvent(eventType) {
		e.logger.Warn("unknown webhook event type", "event", event)
		return
	}

	webhookEmitTotal.WithLabelValues(event).Inc()
	evt := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      payload,
	}

	// Detached context: the HTTP client timeout bounds each attempt.
	if err := e.d.DispatchToAccount(context.Background(), accountID, evt); err != nil {
		webhookEmitErrors.WithLabelValues(event).Inc()
		e.logger.Warn("webhook emit failed", "event", event, "account", accountID, "error", err)
	}
}
