package journal

// reconcile.go — rebuilds the derived position index from the journal.
//
// The journal is the source of truth for intent; the execution ledger is the
// source of truth for settlement. A logged close is not proof of a completed
// close: when the ledger shows the buy filled and still open, the position
// stays in the open map. When in doubt, keep it open.

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// DefaultFailedBuyRetention bounds how long failed buys stay in the index.
const DefaultFailedBuyRetention = 7 * 24 * time.Hour

// ReconcileResult counts the changes a reconciliation pass made. The caller
// persists the index only when Changed reports true.
type ReconcileResult struct {
	Added       int // opens healed into the index
	Removed     int // confirmed closes removed from the open map
	ClosedAdded int // closed projections synthesized
	FailedMoved int // opens moved to failed_buys
	Compacted   int // failed buys dropped past retention
	Orphans     int // closes with no matching open, flagged and skipped
}

// Changed reports whether the pass mutated the index.
func (r ReconcileResult) Changed() bool {
	return r.Added+r.Removed+r.ClosedAdded+r.FailedMoved+r.Compacted > 0
}

// Reconciler heals the index against the journal and the execution ledger.
// Safe to run at any time; running it twice in a row is a no-op.
type Reconciler struct {
	journal            *Journal
	failedBuyRetention time.Duration
}

// NewReconciler returns a Reconciler. retention <= 0 selects the default
// 7-day failed-buy window.
func NewReconciler(j *Journal, retention time.Duration) *Reconciler {
	if retention <= 0 {
		retention = DefaultFailedBuyRetention
	}
	return &Reconciler{journal: j, failedBuyRetention: retention}
}

// Reconcile replays the journal at journalPath and repairs idx in place.
// ledger may be nil (paper mode, no broker): every logged close is then
// treated as confirmed.
func (r *Reconciler) Reconcile(idx *domain.PositionIndex, journalPath string, ledger *domain.ExecutionLedger, now time.Time) (ReconcileResult, error) {
	var res ReconcileResult
	idx.Normalize()

	opens := make(map[string]domain.Event)
	closes := make(map[string]domain.Event)
	if err := replay(journalPath, func(ev domain.Event) {
		switch ev.Type {
		case domain.EventPositionOpened:
			opens[ev.SignalID] = ev
		case domain.EventPositionClosed:
			closes[ev.SignalID] = ev
		}
	}); err != nil {
		return res, err
	}

	// A close counts as confirmed unless the ledger unambiguously says the
	// buy filled and never closed.
	confirmed := func(id string) bool {
		if _, ok := closes[id]; !ok {
			return false
		}
		buy := ledger.Buy(id)
		if buy != nil && buy.Status == domain.ExecStatusFilled && !buy.Closed {
			return false
		}
		return true
	}

	// Heal opens the index never saw (crash between append and index save).
	for id, ev := range opens {
		if confirmed(id) {
			continue
		}
		if idx.Open[id] != nil || idx.Closed[id] != nil || idx.FailedBuys[id] != nil {
			continue
		}
		p, err := ev.Open()
		if err != nil {
			continue
		}
		idx.Open[id] = &domain.OpenPosition{
			SignalID:   id,
			Slug:       p.Slug,
			Outcome:    p.Outcome,
			TokenID:    p.TokenID,
			OpenedTS:   ev.TS,
			EntryPrice: p.EntryPrice,
			Notional:   p.Notional,
			Shares:     p.Shares,
			Gated:      p.Gated,
		}
		res.Added++
	}

	// Drop confirmed closes from the open map.
	for id := range idx.Open {
		if _, hasClose := closes[id]; !hasClose {
			continue
		}
		if !confirmed(id) {
			slog.Warn("close recorded but buy still open in ledger, keeping position open",
				"signal_id", id)
			continue
		}
		delete(idx.Open, id)
		res.Removed++
	}

	// Materialize closed projections from paired open+close events.
	for id, closeEv := range closes {
		if idx.Closed[id] != nil || idx.Open[id] != nil {
			continue
		}
		openEv, hasOpen := opens[id]
		if !hasOpen {
			// Orphan close: the id format would let us guess a slug, but a
			// closed record built from a guess is worse than a flag.
			slog.Warn("orphan close in journal, skipping", "signal_id", id)
			res.Orphans++
			continue
		}
		cp, err := closeEv.Close()
		if err != nil {
			continue
		}
		op, err := openEv.Open()
		if err != nil {
			continue
		}
		idx.Closed[id] = &domain.ClosedPosition{
			SignalID:      id,
			Slug:          op.Slug,
			Outcome:       op.Outcome,
			OpenedTS:      openEv.TS,
			ClosedTS:      closeEv.TS,
			EntryPrice:    op.EntryPrice,
			ExitPrice:     cp.ExitPrice,
			Notional:      op.Notional,
			PnL:           cp.PnL,
			ROI:           cp.ROI,
			Won:           cp.Won,
			Reason:        cp.Reason,
			ResolveMethod: cp.ResolveMethod,
		}
		res.ClosedAdded++
	}

	// Cross-check: opens whose buy the ledger recorded as failed never held
	// a position. Move them out of the open map.
	nowMS := now.UnixMilli()
	for id, pos := range idx.Open {
		buy := ledger.Buy(id)
		if buy == nil || buy.Status != domain.ExecStatusFailed || buy.FilledShares > 0 {
			continue
		}
		idx.FailedBuys[id] = &domain.FailedBuy{
			SignalID: id,
			Slug:     pos.Slug,
			OpenedTS: pos.OpenedTS,
			MovedTS:  nowMS,
			Notional: pos.Notional,
		}
		delete(idx.Open, id)
		res.FailedMoved++
	}

	// Compact failed buys past the retention window.
	cutoff := now.Add(-r.failedBuyRetention).UnixMilli()
	for id, fb := range idx.FailedBuys {
		if fb.MovedTS < cutoff {
			delete(idx.FailedBuys, id)
			res.Compacted++
		}
	}

	return res, nil
}
