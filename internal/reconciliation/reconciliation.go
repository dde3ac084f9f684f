// Package reconciliation sweeps the wallet ledger for balance drift and
// watches the refund backlog.
//
// Every wallet must satisfy balance == sum(transactions). The sweep walks
// all owners and reports any wallet where the two disagree, which would
// mean a store applied a balance update without its transaction row (or
// the other way around).
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/voltmarket/voltmarket/internal/refund"
	"github.com/voltmarket/voltmarket/internal/vnd"
)

// WalletAuditor exposes the ledger's self-check. Implemented by the
// wallet ledger.
type WalletAuditor interface {
	Owners(ctx context.Context) ([]string, error)
	VerifyInvariant(ctx context.Context, ownerID string) (*big.Int, error)
}

// RefundBacklog lists undecided refund cases, oldest first. Implemented
// by the refund adjudicator.
type RefundBacklog interface {
	ListPending(ctx context.Context, limit, offset int) ([]*refund.Case, error)
}

// Mismatch is one wallet whose balance disagrees with its transactions.
type Mismatch struct {
	OwnerID string `json:"ownerId"`
	Diff    string `json:"diff"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	RanAt               time.Time  `json:"ranAt"`
	DurationMs          int64      `json:"durationMs"`
	WalletsChecked      int        `json:"walletsChecked"`
	Mismatches          []Mismatch `json:"mismatches"`
	PendingRefundCases  int        `json:"pendingRefundCases"`
	OldestPendingRefund *time.Time `json:"oldestPendingRefund,omitempty"`
}

// Runner executes the reconciliation checks.
type Runner struct {
	wallets WalletAuditor
	refunds RefundBacklog
	logger  *slog.Logger
}

// NewRunner creates a reconciliation runner. refunds may be nil when the
// deployment has no adjudication configured.
func NewRunner(wallets WalletAuditor, refunds RefundBacklog, logger *slog.Logger) *Runner {
	return &Runner{wallets: wallets, refunds: refunds, logger: logger}
}

// RunAll executes every check and returns the combined report.
func (r *Runner) RunAll(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{RanAt: start, Mismatches: []Mismatch{}}

	if err := r.sweepWallets(ctx, report); err != nil {
		reconcileErrors.Inc()
		return nil, err
	}
	if err := r.checkRefundBacklog(ctx, report); err != nil {
		reconcileErrors.Inc()
		return nil, err
	}

	elapsed := time.Since(start)
	report.DurationMs = elapsed.Milliseconds()
	reconcileDuration.Observe(elapsed.Seconds())
	reconcileWalletMismatches.Set(float64(len(report.Mismatches)))

	if len(report.Mismatches) > 0 {
		r.logger.Error("CRITICAL: ledger invariant violated",
			"wallets", report.WalletsChecked, "mismatches", len(report.Mismatches))
	} else {
		r.logger.Info("reconciliation clean",
			"wallets", report.WalletsChecked, "pendingRefunds", report.PendingRefundCases)
	}
	return report, nil
}

func (r *Runner) sweepWallets(ctx context.Context, report *Report) error {
	owners, err := r.wallets.Owners(ctx)
	if err != nil {
		return fmt.Errorf("list wallet owners: %w", err)
	}

	for _, owner := range owners {
		diff, err := r.wallets.VerifyInvariant(ctx, owner)
		if err != nil {
			return fmt.Errorf("verify wallet %s: %w", owner, err)
		}
		report.WalletsChecked++
		if diff.Sign() != 0 {
			report.Mismatches = append(report.Mismatches, Mismatch{
				OwnerID: owner,
				Diff:    vnd.Format(diff),
			})
		}
	}
	return nil
}

func (r *Runner) checkRefundBacklog(ctx context.Context, report *Report) error {
	if r.refunds == nil {
		return nil
	}

	// The list is oldest first, so one page is enough to know both the
	// backlog size head and its oldest case.
	cases, err := r.refunds.ListPending(ctx, 100, 0)
	if err != nil {
		return fmt.Errorf("list pending refunds: %w", err)
	}

	report.PendingRefundCases = len(cases)
	if len(cases) > 0 {
		oldest := cases[0].CreatedAt
		report.OldestPendingRefund = &oldest
	}
	reconcilePendingRefunds.Set(float64(len(cases)))
	return nil
}
