package journal

// backfill.go — boot-time repair of the execution trade stream.
//
// Detects journal closes that never produced a sell record in the trade
// stream and appends a synthesized "reconciled" record, provided the ledger
// shows the paired buy as closed. Never fabricates a settlement the ledger
// contradicts; those gaps become warnings instead.

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// ModeReconciled tags backfilled trade records so they are never mistaken
// for live fills.
const ModeReconciled = "reconciled"

// BackfillResult reports what a backfill pass did.
type BackfillResult struct {
	Added    int
	Items    []domain.TradeRecord
	Warnings []string
}

// Backfiller synthesizes missing sell records from journal closes.
type Backfiller struct {
	journal *Journal
}

// NewBackfiller returns a Backfiller.
func NewBackfiller(j *Journal) *Backfiller {
	return &Backfiller{journal: j}
}

// Backfill scans the journal at journalPath for position_closed events with
// no matching sell in the trade stream at tradesPath, cross-checks the
// ledger at ledgerPath, and appends reconciled records for confirmed gaps.
func (b *Backfiller) Backfill(journalPath, ledgerPath, tradesPath string, now time.Time) (BackfillResult, error) {
	var res BackfillResult

	ledger, err := LoadLedger(ledgerPath)
	if err != nil {
		return res, fmt.Errorf("journal.Backfill: %w", err)
	}

	trades, err := loadTradeStream(tradesPath)
	if err != nil {
		return res, fmt.Errorf("journal.Backfill: %w", err)
	}

	// Existing sells, keyed by trade id with a legacy fallback on signal id.
	haveSell := make(map[string]bool)
	for _, t := range trades {
		if t.TradeID != "" {
			haveSell[t.TradeID] = true
		}
		if t.Side == "sell" && t.SignalID != "" {
			haveSell[domain.SellID(t.SignalID)] = true
		}
	}

	closes := make(map[string]domain.Event)
	if err := replay(journalPath, func(ev domain.Event) {
		if ev.Type == domain.EventPositionClosed {
			closes[ev.SignalID] = ev
		}
	}); err != nil {
		return res, fmt.Errorf("journal.Backfill: %w", err)
	}

	for id, ev := range closes {
		tradeID := domain.SellID(id)
		if haveSell[tradeID] {
			continue
		}

		buy := ledger.Buy(id)
		if buy == nil {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("close %s has no buy record, skipping backfill", id))
			continue
		}
		if !buy.Closed {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("close %s: buy not marked closed in ledger, skipping backfill", id))
			continue
		}

		rec := domain.TradeRecord{
			TradeID:  tradeID,
			SignalID: id,
			Side:     "sell",
			Shares:   buy.FilledShares,
			Mode:     ModeReconciled,
			TS:       now.UnixMilli(),
		}
		if cp, err := ev.Close(); err == nil {
			rec.Price = cp.ExitPrice
			rec.PnL = cp.PnL
		}
		if rec.Price == 0 {
			rec.MissingField = "exit_price"
		}

		if err := appendTrade(tradesPath, rec); err != nil {
			return res, fmt.Errorf("journal.Backfill: %w", err)
		}
		slog.Info("backfilled missing sell record",
			"signal_id", id, "shares", rec.Shares, "price", rec.Price)
		res.Items = append(res.Items, rec)
		res.Added++
	}

	return res, nil
}
