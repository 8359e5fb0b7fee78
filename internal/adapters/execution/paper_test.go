package execution_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/polywatch/internal/adapters/execution"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/alejandrodnm/polywatch/internal/journal"
	"github.com/alejandrodnm/polywatch/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buySignal(id string, price float64) domain.Signal {
	return domain.Signal{
		Kind:      domain.SignalBuy,
		SignalID:  id,
		Slug:      "test-market",
		Outcome:   "Yes",
		Price:     price,
		Notional:  50,
		EmittedAt: time.Now(),
	}
}

func TestPaper_BuyThenSellRoundTripsLedger(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "executions.json")
	tradesPath := filepath.Join(dir, "trades.jsonl")
	p := execution.NewPaper(state.NewSnapshotStore(), ledgerPath, tradesPath)
	ctx := context.Background()

	buy, err := p.Buy(ctx, buySignal("1|a", 0.40))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecStatusFilled, buy.Status)
	assert.False(t, buy.Closed)
	assert.InDelta(t, 125.0, buy.FilledShares, 0.001)

	// The ledger document must be readable by the reconciliation path.
	ledger, err := journal.LoadLedger(ledgerPath)
	require.NoError(t, err)
	require.NotNil(t, ledger.Buy("1|a"))
	assert.False(t, ledger.Buy("1|a").Closed)

	sell, err := p.Sell(ctx, domain.Signal{Kind: domain.SignalSell, SignalID: "1|a", Price: 0.90})
	require.NoError(t, err)
	assert.True(t, sell.Closed)

	ledger, err = journal.LoadLedger(ledgerPath)
	require.NoError(t, err)
	assert.True(t, ledger.Buy("1|a").Closed, "sell must mark the paired buy closed")
	require.NotNil(t, ledger.Sell("1|a"))
	assert.Equal(t, domain.ExecStatusFilled, ledger.Sell("1|a").Status)
}

func TestPaper_BuyWithoutPriceFails(t *testing.T) {
	dir := t.TempDir()
	p := execution.NewPaper(state.NewSnapshotStore(),
		filepath.Join(dir, "executions.json"), filepath.Join(dir, "trades.jsonl"))

	rec, err := p.Buy(context.Background(), buySignal("1|a", 0))
	require.NoError(t, err)
	assert.Equal(t, domain.ExecStatusFailed, rec.Status)

	ledger, err := journal.LoadLedger(filepath.Join(dir, "executions.json"))
	require.NoError(t, err)
	require.NotNil(t, ledger.Buy("1|a"))
	assert.Equal(t, domain.ExecStatusFailed, ledger.Buy("1|a").Status)
}

func TestPaper_SellWithoutBuyErrors(t *testing.T) {
	dir := t.TempDir()
	p := execution.NewPaper(state.NewSnapshotStore(),
		filepath.Join(dir, "executions.json"), filepath.Join(dir, "trades.jsonl"))

	_, err := p.Sell(context.Background(), domain.Signal{SignalID: "ghost", Price: 0.5})
	assert.Error(t, err)
}
