package watcher_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/alejandrodnm/polywatch/internal/journal"
	"github.com/alejandrodnm/polywatch/internal/state"
	"github.com/alejandrodnm/polywatch/internal/strategy"
	"github.com/alejandrodnm/polywatch/internal/watcher"
)

// --- mocks ---

type mockMarkets struct {
	markets []domain.WatchedMarket
	err     error
}

func (m *mockMarkets) FetchSportsMarkets(_ context.Context) ([]domain.WatchedMarket, error) {
	return m.markets, m.err
}

type mockBooks struct {
	tops map[string]domain.PriceUpdate
	err  error
}

func (m *mockBooks) FetchTops(_ context.Context, _ []string) (map[string]domain.PriceUpdate, error) {
	return m.tops, m.err
}

type mockExecutor struct {
	bought  []domain.Signal
	sold    []domain.Signal
	buyErr  error
	sellErr error
	buyFail bool // report a failed fill instead of an error
}

func (m *mockExecutor) Buy(_ context.Context, sig domain.Signal) (domain.ExecutionRecord, error) {
	m.bought = append(m.bought, sig)
	if m.buyErr != nil {
		return domain.ExecutionRecord{}, m.buyErr
	}
	if m.buyFail {
		return domain.ExecutionRecord{
			SignalID: sig.SignalID, Side: "buy", Status: domain.ExecStatusFailed,
		}, nil
	}
	return domain.ExecutionRecord{
		SignalID:     sig.SignalID,
		Side:         "buy",
		Status:       domain.ExecStatusFilled,
		FilledShares: sig.Notional / sig.Price,
		FilledPrice:  sig.Price,
	}, nil
}

func (m *mockExecutor) Sell(_ context.Context, sig domain.Signal) (domain.ExecutionRecord, error) {
	m.sold = append(m.sold, sig)
	if m.sellErr != nil {
		return domain.ExecutionRecord{}, m.sellErr
	}
	return domain.ExecutionRecord{
		SignalID: sig.SignalID, Side: "sell", Status: domain.ExecStatusFilled, Closed: true,
	}, nil
}

type mockNotifier struct {
	signals []domain.Signal
	calls   int
}

func (m *mockNotifier) Notify(_ context.Context, _ *domain.Snapshot, signals []domain.Signal) error {
	m.calls++
	m.signals = append(m.signals, signals...)
	return nil
}

// --- helpers ---

type fixture struct {
	cfg      watcher.Config
	store    *state.SnapshotStore
	jnl      *journal.Journal
	markets  *mockMarkets
	books    *mockBooks
	executor *mockExecutor
	notifier *mockNotifier
	updates  chan domain.PriceUpdate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := state.NewSnapshotStore()
	return &fixture{
		cfg: watcher.Config{
			Interval:      time.Second,
			NotionalUSDC:  50,
			PendingWindow: 2 * time.Minute,
			PurgeAfter:    24 * time.Hour,
			Throttle:      5 * time.Second,
			StatePath:     dir + "/state.json",
			JournalPath:   dir + "/journal.jsonl",
			IndexPath:     dir + "/index.json",
			RunID:         "test-run",
			Once:          true,
		},
		store:    store,
		jnl:      journal.New(store),
		markets:  &mockMarkets{},
		books:    &mockBooks{},
		executor: &mockExecutor{},
		notifier: &mockNotifier{},
		updates:  make(chan domain.PriceUpdate, 16),
	}
}

func (f *fixture) build() *watcher.Watcher {
	eval := strategy.NewEvaluator(strategy.Thresholds{
		EntryPrice:      0.35,
		TakeProfitPrice: 0.85,
		StopLossPrice:   0.10,
		MinBookDepth:    200,
		PendingWindow:   f.cfg.PendingWindow,
	})
	return watcher.New(f.cfg, f.markets, f.books, f.executor, f.notifier, nil,
		f.jnl, f.store, eval, f.updates)
}

func (f *fixture) seedState(t *testing.T, snap *domain.Snapshot) {
	t.Helper()
	require.NoError(t, f.store.Write(f.cfg.StatePath, snap))
}

func (f *fixture) seedIndex(t *testing.T, idx *domain.PositionIndex) {
	t.Helper()
	require.NoError(t, f.jnl.SaveIndex(f.cfg.IndexPath, idx))
}

func market(condID, slug, tokenID string) domain.WatchedMarket {
	return domain.WatchedMarket{
		ConditionID: condID,
		Slug:        slug,
		Status:      domain.StatusWatching,
		YesTokenID:  tokenID,
		NoTokenID:   tokenID + "-no",
		Outcome:     "TeamA",
		Sport:       "cs2",
		EndDate:     time.Now().Add(48 * time.Hour),
	}
}

// --- tests ---

func TestWatcher_NewMarketEntersPending(t *testing.T) {
	f := newFixture(t)
	f.markets.markets = []domain.WatchedMarket{market("0xabc", "cs2-a-vs-b", "tok1")}
	f.books.tops = map[string]domain.PriceUpdate{
		"tok1": {TokenID: "tok1", BestBid: 0.28, BestAsk: 0.30, DepthUSDC: 500},
	}

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	m := w.Snapshot().Markets["0xabc"]
	require.NotNil(t, m)
	assert.Equal(t, domain.StatusPending, m.Status)
	assert.NotZero(t, m.PendingSinceTS)
	assert.Equal(t, m.PendingSinceTS+f.cfg.PendingWindow.Milliseconds(), m.PendingDeadlineTS)
	assert.Empty(t, f.executor.bought)
	assert.Equal(t, 1, f.notifier.calls)
}

func TestWatcher_ShallowBookStaysWatching(t *testing.T) {
	f := newFixture(t)
	f.markets.markets = []domain.WatchedMarket{market("0xabc", "cs2-a-vs-b", "tok1")}
	f.books.tops = map[string]domain.PriceUpdate{
		"tok1": {TokenID: "tok1", BestBid: 0.28, BestAsk: 0.30, DepthUSDC: 50},
	}

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	assert.Equal(t, domain.StatusWatching, w.Snapshot().Markets["0xabc"].Status)
}

func TestWatcher_PendingPastDeadlineOpensPosition(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	snap := domain.NewSnapshot()
	m := market("0xabc", "cs2-a-vs-b", "tok1")
	m.Status = domain.StatusPending
	m.FirstSeenTS = now.Add(-time.Hour).UnixMilli()
	m.LastSeenTS = now.UnixMilli()
	m.PendingSinceTS = now.Add(-3 * time.Minute).UnixMilli()
	m.PendingDeadlineTS = now.Add(-time.Minute).UnixMilli()
	snap.Markets["0xabc"] = &m
	f.seedState(t, snap)

	f.markets.markets = []domain.WatchedMarket{market("0xabc", "cs2-a-vs-b", "tok1")}
	f.books.tops = map[string]domain.PriceUpdate{
		"tok1": {TokenID: "tok1", BestBid: 0.28, BestAsk: 0.30, DepthUSDC: 500},
	}

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	require.Len(t, f.executor.bought, 1)
	sig := f.executor.bought[0]
	assert.Equal(t, domain.SignalBuy, sig.Kind)
	assert.Equal(t, 0.30, sig.Price)
	assert.Equal(t, 50.0, sig.Notional)

	got := w.Snapshot().Markets["0xabc"]
	assert.Equal(t, domain.StatusTraded, got.Status)
	assert.Equal(t, sig.SignalID, got.SignalID)
	assert.Zero(t, got.PendingSinceTS)

	require.Contains(t, w.Index().Open, sig.SignalID)
	open := w.Index().Open[sig.SignalID]
	assert.Equal(t, "cs2-a-vs-b", open.Slug)
	assert.InDelta(t, 50.0/0.30, open.Shares, 1e-9)

	// The open event must be durable before the index: a fresh index built
	// only from the journal sees the position.
	idx := domain.NewPositionIndex()
	rec := journal.NewReconciler(f.jnl, 0)
	res, err := rec.Reconcile(idx, f.cfg.JournalPath, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)
	assert.Contains(t, idx.Open, sig.SignalID)
}

func TestWatcher_FailedBuyRevertsToWatching(t *testing.T) {
	f := newFixture(t)
	f.executor.buyFail = true
	now := time.Now()

	snap := domain.NewSnapshot()
	m := market("0xabc", "cs2-a-vs-b", "tok1")
	m.Status = domain.StatusPending
	m.FirstSeenTS = now.Add(-time.Hour).UnixMilli()
	m.LastSeenTS = now.UnixMilli()
	m.PendingSinceTS = now.Add(-3 * time.Minute).UnixMilli()
	m.PendingDeadlineTS = now.Add(-time.Minute).UnixMilli()
	snap.Markets["0xabc"] = &m
	f.seedState(t, snap)

	f.books.tops = map[string]domain.PriceUpdate{
		"tok1": {TokenID: "tok1", BestBid: 0.28, BestAsk: 0.30, DepthUSDC: 500},
	}

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	got := w.Snapshot().Markets["0xabc"]
	assert.Equal(t, domain.StatusWatching, got.Status)
	assert.Empty(t, got.SignalID)
	assert.Empty(t, w.Index().Open)
}

func TestWatcher_TakeProfitClosesPosition(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	signalID := domain.NewSignalID(now.Add(-time.Hour).UnixMilli(), "cs2-a-vs-b")

	snap := domain.NewSnapshot()
	m := market("0xabc", "cs2-a-vs-b", "tok1")
	m.Status = domain.StatusTraded
	m.SignalID = signalID
	m.FirstSeenTS = now.Add(-2 * time.Hour).UnixMilli()
	m.LastSeenTS = now.UnixMilli()
	snap.Markets["0xabc"] = &m
	f.seedState(t, snap)

	idx := domain.NewPositionIndex()
	idx.Open[signalID] = &domain.OpenPosition{
		SignalID:   signalID,
		Slug:       "cs2-a-vs-b",
		Outcome:    "TeamA",
		OpenedTS:   now.Add(-time.Hour).UnixMilli(),
		EntryPrice: 0.30,
		Notional:   50,
		Shares:     50.0 / 0.30,
	}
	f.seedIndex(t, idx)

	f.books.tops = map[string]domain.PriceUpdate{
		"tok1": {TokenID: "tok1", BestBid: 0.90, BestAsk: 0.92, DepthUSDC: 500},
	}

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	require.Len(t, f.executor.sold, 1)
	assert.Equal(t, signalID, f.executor.sold[0].SignalID)
	assert.Equal(t, "take_profit", f.executor.sold[0].Reason)

	assert.Empty(t, w.Index().Open)
	require.Contains(t, w.Index().Closed, signalID)
	closed := w.Index().Closed[signalID]
	assert.Equal(t, 0.90, closed.ExitPrice)
	assert.True(t, closed.Won)
	assert.InDelta(t, (0.90-0.30)*(50.0/0.30), closed.PnL, 1e-9)

	got := w.Snapshot().Markets["0xabc"]
	assert.Equal(t, domain.StatusWatching, got.Status)
	assert.Empty(t, got.SignalID)
}

func TestWatcher_SellFailureKeepsPositionOpen(t *testing.T) {
	f := newFixture(t)
	f.executor.sellErr = errors.New("broker down")
	now := time.Now()
	signalID := domain.NewSignalID(now.Add(-time.Hour).UnixMilli(), "cs2-a-vs-b")

	snap := domain.NewSnapshot()
	m := market("0xabc", "cs2-a-vs-b", "tok1")
	m.Status = domain.StatusTraded
	m.SignalID = signalID
	m.FirstSeenTS = now.Add(-2 * time.Hour).UnixMilli()
	m.LastSeenTS = now.UnixMilli()
	snap.Markets["0xabc"] = &m
	f.seedState(t, snap)

	idx := domain.NewPositionIndex()
	idx.Open[signalID] = &domain.OpenPosition{
		SignalID: signalID, Slug: "cs2-a-vs-b", OpenedTS: now.Add(-time.Hour).UnixMilli(),
		EntryPrice: 0.30, Notional: 50, Shares: 50.0 / 0.30,
	}
	f.seedIndex(t, idx)

	f.books.tops = map[string]domain.PriceUpdate{
		"tok1": {TokenID: "tok1", BestBid: 0.90, BestAsk: 0.92, DepthUSDC: 500},
	}

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	assert.Contains(t, w.Index().Open, signalID)
	assert.NotContains(t, w.Index().Closed, signalID)
	assert.Equal(t, domain.StatusTraded, w.Snapshot().Markets["0xabc"].Status)
	assert.Equal(t, int64(1), w.Snapshot().Runtime.ExecutionErrors)
}

func TestWatcher_DiscoveryFailureKeepsWatchlist(t *testing.T) {
	f := newFixture(t)
	f.markets.err = errors.New("gamma 503")

	snap := domain.NewSnapshot()
	m := market("0xabc", "cs2-a-vs-b", "tok1")
	m.FirstSeenTS = time.Now().Add(-time.Hour).UnixMilli()
	m.LastSeenTS = time.Now().UnixMilli()
	snap.Markets["0xabc"] = &m
	f.seedState(t, snap)

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	assert.Contains(t, w.Snapshot().Markets, "0xabc")
	assert.Equal(t, int64(1), w.Snapshot().Runtime.DiscoveryErrors)
}

func TestWatcher_FeedUpdatesApplied(t *testing.T) {
	f := newFixture(t)
	f.markets.markets = []domain.WatchedMarket{market("0xabc", "cs2-a-vs-b", "tok1")}
	f.updates <- domain.PriceUpdate{TokenID: "tok1", BestBid: 0.41, BestAsk: 0.44, TS: time.Now()}
	f.updates <- domain.PriceUpdate{TokenID: "unknown", BestBid: 0.5, BestAsk: 0.6, TS: time.Now()}

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	m := w.Snapshot().Markets["0xabc"]
	assert.Equal(t, 0.41, m.BestBid)
	assert.Equal(t, 0.44, m.BestAsk)
	assert.Equal(t, int64(2), w.Snapshot().Runtime.FeedMessages)
}

func TestWatcher_PurgesStaleExpiredMarkets(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	snap := domain.NewSnapshot()
	stale := market("0xold", "cs2-old", "tokOld")
	stale.Status = domain.StatusExpired
	stale.FirstSeenTS = now.Add(-72 * time.Hour).UnixMilli()
	stale.LastSeenTS = now.Add(-48 * time.Hour).UnixMilli()
	snap.Markets["0xold"] = &stale

	fresh := market("0xnew", "cs2-new", "tokNew")
	fresh.Status = domain.StatusExpired
	fresh.FirstSeenTS = now.Add(-2 * time.Hour).UnixMilli()
	fresh.LastSeenTS = now.Add(-time.Hour).UnixMilli()
	snap.Markets["0xnew"] = &fresh
	f.seedState(t, snap)

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	assert.NotContains(t, w.Snapshot().Markets, "0xold")
	assert.Contains(t, w.Snapshot().Markets, "0xnew")
}

func TestWatcher_RepairsCorruptStatusBeforeNotify(t *testing.T) {
	f := newFixture(t)
	now := time.Now()

	snap := domain.NewSnapshot()
	m := market("0xabc", "cs2-a-vs-b", "tok1")
	m.Status = domain.MarketStatus("bogus")
	m.FirstSeenTS = now.Add(-time.Hour).UnixMilli()
	m.LastSeenTS = now.UnixMilli()
	snap.Markets["0xabc"] = &m
	f.seedState(t, snap)

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	got := w.Snapshot().Markets["0xabc"]
	assert.Equal(t, domain.StatusIgnored, got.Status)
	assert.Equal(t, int64(1), w.Snapshot().Runtime.ViolationCounts["invalid_status"])
}

func TestWatcher_RelinksSignaledMarketToOpenPosition(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	signalID := domain.NewSignalID(now.Add(-time.Minute).UnixMilli(), "cs2-a-vs-b")

	snap := domain.NewSnapshot()
	m := market("0xabc", "cs2-a-vs-b", "tok1")
	m.Status = domain.StatusSignaled
	m.FirstSeenTS = now.Add(-time.Hour).UnixMilli()
	m.LastSeenTS = now.UnixMilli()
	snap.Markets["0xabc"] = &m

	orphaned := market("0xdef", "cs2-c-vs-d", "tok2")
	orphaned.Status = domain.StatusSignaled
	orphaned.FirstSeenTS = now.Add(-time.Hour).UnixMilli()
	orphaned.LastSeenTS = now.UnixMilli()
	snap.Markets["0xdef"] = &orphaned
	f.seedState(t, snap)

	idx := domain.NewPositionIndex()
	idx.Open[signalID] = &domain.OpenPosition{
		SignalID: signalID, Slug: "cs2-a-vs-b", OpenedTS: now.Add(-time.Minute).UnixMilli(),
		EntryPrice: 0.30, Notional: 50, Shares: 50.0 / 0.30,
	}
	f.seedIndex(t, idx)

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	relinked := w.Snapshot().Markets["0xabc"]
	assert.Equal(t, domain.StatusTraded, relinked.Status)
	assert.Equal(t, signalID, relinked.SignalID)

	reverted := w.Snapshot().Markets["0xdef"]
	assert.Equal(t, domain.StatusWatching, reverted.Status)
	assert.Empty(t, reverted.SignalID)
}

func TestWatcher_PersistsSnapshotAfterCriticalChange(t *testing.T) {
	f := newFixture(t)
	f.markets.markets = []domain.WatchedMarket{market("0xabc", "cs2-a-vs-b", "tok1")}

	w := f.build()
	require.NoError(t, w.Run(context.Background()))

	// Watchlist membership changed, so the snapshot must be on disk.
	reread := domain.NewSnapshot()
	require.NoError(t, f.store.Read(f.cfg.StatePath, reread))
	assert.Contains(t, reread.Markets, "0xabc")
	assert.Equal(t, "test-run", reread.Runtime.RunID)
	assert.Equal(t, int64(1), reread.Runtime.Cycles)
}
