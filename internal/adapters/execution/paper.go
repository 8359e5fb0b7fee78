package execution

// paper.go — simulated executor for paper trading.
//
// Fills every order instantly at the signal price and maintains the same
// two artifacts a live broker integration would: the execution ledger
// document (keyed "buy:<signal_id>" / "sell:<signal_id>") and the
// append-only JSONL trade stream. The reconciler and backfiller consume
// exactly these formats on boot.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/alejandrodnm/polywatch/internal/state"
)

const modePaper = "paper"

// Paper implements ports.Executor against local files.
type Paper struct {
	store      *state.SnapshotStore
	ledgerPath string
	tradesPath string
}

// NewPaper returns a paper executor persisting through store.
func NewPaper(store *state.SnapshotStore, ledgerPath, tradesPath string) *Paper {
	return &Paper{store: store, ledgerPath: ledgerPath, tradesPath: tradesPath}
}

// Buy fills the entry immediately and records it in the ledger.
func (p *Paper) Buy(ctx context.Context, sig domain.Signal) (domain.ExecutionRecord, error) {
	if sig.Price <= 0 {
		return p.failBuy(sig, "no ask price")
	}

	rec := domain.ExecutionRecord{
		SignalID:     sig.SignalID,
		Side:         "buy",
		Status:       domain.ExecStatusFilled,
		Closed:       false,
		FilledShares: sig.Notional / sig.Price,
		FilledPrice:  sig.Price,
		Mode:         modePaper,
		TS:           time.Now().UnixMilli(),
	}
	if err := p.saveRecord(domain.BuyID(sig.SignalID), rec); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("execution.Buy: %w", err)
	}

	if err := p.appendTrade(domain.TradeRecord{
		TradeID:  domain.BuyID(sig.SignalID),
		SignalID: sig.SignalID,
		Side:     "buy",
		Price:    sig.Price,
		Shares:   rec.FilledShares,
		Mode:     modePaper,
		TS:       rec.TS,
	}); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("execution.Buy: %w", err)
	}

	slog.Info("paper buy filled",
		"signal_id", sig.SignalID, "price", sig.Price, "shares", rec.FilledShares)
	return rec, nil
}

// Sell fills the exit immediately, marks the paired buy closed, and appends
// the sell trade.
func (p *Paper) Sell(ctx context.Context, sig domain.Signal) (domain.ExecutionRecord, error) {
	ledger, err := p.loadLedger()
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("execution.Sell: %w", err)
	}

	buy := ledger.Buy(sig.SignalID)
	if buy == nil {
		return domain.ExecutionRecord{}, fmt.Errorf("execution.Sell: no buy record for %s", sig.SignalID)
	}

	shares := buy.FilledShares
	rec := domain.ExecutionRecord{
		SignalID:     sig.SignalID,
		Side:         "sell",
		Status:       domain.ExecStatusFilled,
		Closed:       true,
		FilledShares: shares,
		FilledPrice:  sig.Price,
		Mode:         modePaper,
		TS:           time.Now().UnixMilli(),
	}

	buy.Closed = true
	ledger.Trades[domain.SellID(sig.SignalID)] = &rec
	if err := p.store.Write(p.ledgerPath, ledger); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("execution.Sell: %w", err)
	}

	pnl := (sig.Price - buy.FilledPrice) * shares
	if err := p.appendTrade(domain.TradeRecord{
		TradeID:  domain.SellID(sig.SignalID),
		SignalID: sig.SignalID,
		Side:     "sell",
		Price:    sig.Price,
		Shares:   shares,
		PnL:      pnl,
		Mode:     modePaper,
		TS:       rec.TS,
	}); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("execution.Sell: %w", err)
	}

	slog.Info("paper sell filled",
		"signal_id", sig.SignalID, "price", sig.Price, "pnl", pnl)
	return rec, nil
}

func (p *Paper) failBuy(sig domain.Signal, reason string) (domain.ExecutionRecord, error) {
	rec := domain.ExecutionRecord{
		SignalID: sig.SignalID,
		Side:     "buy",
		Status:   domain.ExecStatusFailed,
		Mode:     modePaper,
		TS:       time.Now().UnixMilli(),
	}
	if err := p.saveRecord(domain.BuyID(sig.SignalID), rec); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("execution.failBuy: %w", err)
	}
	slog.Warn("paper buy failed", "signal_id", sig.SignalID, "reason", reason)
	return rec, nil
}

func (p *Paper) loadLedger() (*domain.ExecutionLedger, error) {
	ledger := domain.NewExecutionLedger()
	if err := p.store.Read(p.ledgerPath, ledger); err != nil {
		if err != state.ErrNotFound {
			return nil, err
		}
		ledger = domain.NewExecutionLedger()
	}
	if ledger.Trades == nil {
		ledger.Trades = make(map[string]*domain.ExecutionRecord)
	}
	return ledger, nil
}

func (p *Paper) saveRecord(tradeID string, rec domain.ExecutionRecord) error {
	ledger, err := p.loadLedger()
	if err != nil {
		return err
	}
	ledger.Trades[tradeID] = &rec
	return p.store.Write(p.ledgerPath, ledger)
}

func (p *Paper) appendTrade(t domain.TradeRecord) error {
	line, err := marshalLine(t)
	if err != nil {
		return err
	}
	return appendLine(p.tradesPath, line)
}
