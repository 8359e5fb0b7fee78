package watcher

// watcher.go — the cycle loop tying discovery, pricing, strategy, execution
// and persistence together.
//
// The watcher is the single writer of the snapshot document and the position
// index. The realtime feed and the HTTP pollers only hand it data; every
// mutation happens inside runCycle.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/alejandrodnm/polywatch/internal/journal"
	"github.com/alejandrodnm/polywatch/internal/ports"
	"github.com/alejandrodnm/polywatch/internal/state"
	"github.com/alejandrodnm/polywatch/internal/strategy"
)

// Dirty reasons recorded on the tracker.
const (
	reasonWatchlistChange = "watchlist_change"
	reasonPriceUpdate     = "price_update"
	reasonStatusChange    = "status_change"
	reasonPositionOpened  = "position_opened"
	reasonPositionClosed  = "position_closed"
	reasonInvariantRepair = "invariant_repair"
)

// Config holds the watcher's tunables.
type Config struct {
	Interval      time.Duration
	NotionalUSDC  float64
	PendingWindow time.Duration
	PurgeAfter    time.Duration
	Throttle      time.Duration

	StatePath   string
	JournalPath string
	IndexPath   string

	RunID string
	Once  bool // single cycle, then return
}

// Watcher runs the scan/trade/persist loop.
type Watcher struct {
	cfg      Config
	markets  ports.MarketProvider
	books    ports.BookProvider
	executor ports.Executor
	notifier ports.Notifier
	archive  ports.Archive // nil disables mirroring
	journal  *journal.Journal
	store    *state.SnapshotStore
	dirty    *state.DirtyTracker
	checker  *state.InvariantChecker
	eval     *strategy.Evaluator
	updates  <-chan domain.PriceUpdate // nil when the feed is disabled
	onCycle  func()                    // health hook, may be nil

	snap *domain.Snapshot
	idx  *domain.PositionIndex
}

// New wires a Watcher. updates and archive may be nil.
func New(
	cfg Config,
	markets ports.MarketProvider,
	books ports.BookProvider,
	executor ports.Executor,
	notifier ports.Notifier,
	archive ports.Archive,
	jnl *journal.Journal,
	store *state.SnapshotStore,
	eval *strategy.Evaluator,
	updates <-chan domain.PriceUpdate,
) *Watcher {
	return &Watcher{
		cfg:      cfg,
		markets:  markets,
		books:    books,
		executor: executor,
		notifier: notifier,
		archive:  archive,
		journal:  jnl,
		store:    store,
		dirty:    state.NewDirtyTracker(),
		checker:  state.NewInvariantChecker(cfg.PendingWindow),
		eval:     eval,
		updates:  updates,
	}
}

// OnCycle registers a callback invoked after each completed cycle.
func (w *Watcher) OnCycle(fn func()) { w.onCycle = fn }

// Snapshot exposes the in-memory state document, for tests.
func (w *Watcher) Snapshot() *domain.Snapshot { return w.snap }

// Index exposes the in-memory position index, for tests.
func (w *Watcher) Index() *domain.PositionIndex { return w.idx }

// Run loads state and loops until ctx is cancelled. With cfg.Once it runs a
// single cycle and returns.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.loadState(); err != nil {
		return err
	}

	slog.Info("watcher starting",
		"interval", w.cfg.Interval,
		"run_id", w.cfg.RunID,
		"markets", len(w.snap.Markets),
		"open_positions", len(w.idx.Open),
		"once", w.cfg.Once,
	)

	if err := w.runCycle(ctx); err != nil {
		slog.Error("cycle failed", "err", err)
		if w.cfg.Once {
			return err
		}
	}
	if w.cfg.Once {
		return w.flush(time.Now())
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watcher stopping")
			return w.flush(time.Now())
		case <-ticker.C:
			if err := w.runCycle(ctx); err != nil {
				slog.Error("cycle failed", "err", err)
			}
		}
	}
}

// loadState reads the snapshot document and the position index, starting
// empty when neither exists yet.
func (w *Watcher) loadState() error {
	snap := domain.NewSnapshot()
	if err := w.store.Read(w.cfg.StatePath, snap); err != nil {
		if err != state.ErrNotFound {
			return fmt.Errorf("watcher.loadState: %w", err)
		}
		snap = domain.NewSnapshot()
	}
	if snap.Markets == nil {
		snap.Markets = make(map[string]*domain.WatchedMarket)
	}
	snap.Runtime.RunID = w.cfg.RunID
	snap.Runtime.StartedAt = time.Now()

	w.snap = snap
	w.idx = w.journal.LoadIndex(w.cfg.IndexPath)
	return nil
}

// runCycle executes one full pass: discover, price, drain feed, evaluate,
// repair, notify, persist.
func (w *Watcher) runCycle(ctx context.Context) error {
	start := time.Now()
	now := start
	var signals []domain.Signal

	w.discover(ctx, now)
	w.refreshTops(ctx)
	w.drainFeed()

	for _, id := range w.sortedMarketIDs() {
		m := w.snap.Markets[id]
		switch m.Status {
		case domain.StatusTraded:
			if dec, reason := w.eval.EvaluateExit(m, now); dec == strategy.Exit {
				if sig, ok := w.closePosition(ctx, m, reason, now); ok {
					signals = append(signals, sig)
				}
			}
		case domain.StatusSignaled:
			// Crash leftover: the open event was journaled but the cycle died
			// before the trade settled. The boot reconciler already decided
			// the truth; relink to it.
			w.relinkSignaled(m)
		case domain.StatusWatching, domain.StatusPending:
			if !m.EndDate.IsZero() && now.After(m.EndDate) {
				m.Status = domain.StatusExpired
				m.PendingSinceTS = 0
				m.PendingDeadlineTS = 0
				w.dirty.Mark(reasonStatusChange, false)
				continue
			}
			switch w.eval.EvaluateEntry(m, m.BookDepthUSDC, now) {
			case strategy.EnterPending:
				m.Status = domain.StatusPending
				m.PendingSinceTS = now.UnixMilli()
				m.PendingDeadlineTS = now.Add(w.cfg.PendingWindow).UnixMilli()
				w.dirty.Mark(reasonStatusChange, false)
				slog.Debug("entry candidate pending",
					"slug", m.Slug, "ask", m.BestAsk, "deadline_ts", m.PendingDeadlineTS)
			case strategy.CancelPending:
				m.Status = domain.StatusWatching
				m.PendingSinceTS = 0
				m.PendingDeadlineTS = 0
				w.dirty.Mark(reasonStatusChange, false)
			case strategy.Enter:
				if sig, ok := w.openPosition(ctx, m, now); ok {
					signals = append(signals, sig)
				}
			}
		}
	}

	w.purge(now)

	counts := w.checker.Run(w.snap, now)
	for rule, n := range counts {
		w.snap.Runtime.CountViolation(rule, n)
	}
	if len(counts) > 0 {
		w.dirty.Mark(reasonInvariantRepair, false)
	}

	w.snap.Runtime.Cycles++
	w.snap.Runtime.LastCycleAt = now

	if err := w.notifier.Notify(ctx, w.snap, signals); err != nil {
		slog.Warn("notifier error", "err", err)
	}

	w.persist(now)

	if w.onCycle != nil {
		w.onCycle()
	}
	slog.Info("cycle complete",
		"markets", len(w.snap.Markets),
		"open", len(w.idx.Open),
		"signals", len(signals),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// discover merges freshly fetched markets into the watchlist. A discovery
// failure keeps the cached watchlist; the daemon degrades, it does not stop.
func (w *Watcher) discover(ctx context.Context, now time.Time) {
	fetched, err := w.markets.FetchSportsMarkets(ctx)
	if err != nil {
		w.snap.Runtime.DiscoveryErrors++
		slog.Warn("discovery failed, keeping cached watchlist", "err", err)
		return
	}

	nowMS := now.UnixMilli()
	for _, fm := range fetched {
		if existing, ok := w.snap.Markets[fm.ConditionID]; ok {
			existing.LastSeenTS = nowMS
			existing.Question = fm.Question
			if !fm.EndDate.IsZero() {
				existing.EndDate = fm.EndDate
			}
			continue
		}
		m := fm
		m.Status = domain.StatusWatching
		m.FirstSeenTS = nowMS
		m.LastSeenTS = nowMS
		w.snap.Markets[m.ConditionID] = &m
		w.dirty.Mark(reasonWatchlistChange, true)
		slog.Debug("market added to watchlist", "slug", m.Slug, "sport", m.Sport)
	}
}

// refreshTops pulls current top-of-book prices for every live market.
func (w *Watcher) refreshTops(ctx context.Context) {
	byToken := w.tokenMap()
	if len(byToken) == 0 {
		return
	}

	ids := make([]string, 0, len(byToken))
	for id := range byToken {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tops, err := w.books.FetchTops(ctx, ids)
	if err != nil {
		slog.Warn("book fetch failed, prices stale this cycle", "err", err)
		return
	}
	for tokenID, top := range tops {
		w.applyUpdate(byToken, domain.PriceUpdate{
			TokenID:   tokenID,
			BestBid:   top.BestBid,
			BestAsk:   top.BestAsk,
			DepthUSDC: top.DepthUSDC,
			TS:        top.TS,
		})
	}
}

// drainFeed applies every queued realtime tick. Non-blocking: the queue may
// be empty or the feed disabled entirely.
func (w *Watcher) drainFeed() {
	if w.updates == nil {
		return
	}
	byToken := w.tokenMap()
	for {
		select {
		case up := <-w.updates:
			w.snap.Runtime.FeedMessages++
			w.applyUpdate(byToken, up)
		default:
			return
		}
	}
}

func (w *Watcher) applyUpdate(byToken map[string]*domain.WatchedMarket, up domain.PriceUpdate) {
	m, ok := byToken[up.TokenID]
	if !ok {
		return
	}
	m.BestBid = up.BestBid
	m.BestAsk = up.BestAsk
	if up.DepthUSDC > 0 {
		m.BookDepthUSDC = up.DepthUSDC
	}
	w.dirty.Mark(reasonPriceUpdate, false)
}

// tokenMap indexes live markets by their watched token id.
func (w *Watcher) tokenMap() map[string]*domain.WatchedMarket {
	out := make(map[string]*domain.WatchedMarket, len(w.snap.Markets))
	for _, m := range w.snap.Markets {
		if m.Status == domain.StatusIgnored || m.Status == domain.StatusExpired {
			continue
		}
		if m.YesTokenID != "" {
			out[m.YesTokenID] = m
		}
	}
	return out
}

// TokenIDs returns the token ids the realtime feed should subscribe to.
func (w *Watcher) TokenIDs() []string {
	byToken := w.tokenMap()
	ids := make([]string, 0, len(byToken))
	for id := range byToken {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// openPosition emits a buy signal and records the new position. The journal
// append comes first: a crash after it leaves an open event the boot
// reconciler heals into the index.
func (w *Watcher) openPosition(ctx context.Context, m *domain.WatchedMarket, now time.Time) (domain.Signal, bool) {
	nowMS := now.UnixMilli()
	signalID := domain.NewSignalID(nowMS, m.Slug)

	sig := domain.Signal{
		Kind:        domain.SignalBuy,
		SignalID:    signalID,
		ConditionID: m.ConditionID,
		Slug:        m.Slug,
		Outcome:     m.Outcome,
		Price:       m.BestAsk,
		Notional:    w.cfg.NotionalUSDC,
		Reason:      "entry_threshold",
		EmittedAt:   now,
	}

	ev, err := domain.NewOpenEvent(signalID, nowMS, domain.OpenPayload{
		Slug:       m.Slug,
		Outcome:    m.Outcome,
		TokenID:    m.YesTokenID,
		EntryPrice: m.BestAsk,
		Notional:   w.cfg.NotionalUSDC,
		Sport:      m.Sport,
		Gated:      m.BookDepthUSDC > 0,
	})
	if err != nil {
		slog.Error("open event build failed", "signal_id", signalID, "err", err)
		return domain.Signal{}, false
	}
	if err := w.journal.Append(w.cfg.JournalPath, ev); err != nil {
		slog.Error("journal append failed, aborting entry", "signal_id", signalID, "err", err)
		return domain.Signal{}, false
	}

	m.Status = domain.StatusSignaled
	m.PendingSinceTS = 0
	m.PendingDeadlineTS = 0
	w.noteSignal(sig, now)

	rec, err := w.executor.Buy(ctx, sig)
	if err != nil {
		w.snap.Runtime.ExecutionErrors++
		m.Status = domain.StatusWatching
		m.StatusNote = "buy error: " + err.Error()
		w.dirty.Mark(reasonStatusChange, true)
		slog.Error("buy execution failed", "signal_id", signalID, "err", err)
		return sig, true
	}
	if rec.Status == domain.ExecStatusFailed {
		m.Status = domain.StatusWatching
		m.StatusNote = "buy did not fill"
		w.dirty.Mark(reasonStatusChange, true)
		return sig, true
	}

	w.idx.Open[signalID] = &domain.OpenPosition{
		SignalID:   signalID,
		Slug:       m.Slug,
		Outcome:    m.Outcome,
		TokenID:    m.YesTokenID,
		OpenedTS:   nowMS,
		EntryPrice: rec.FilledPrice,
		Notional:   w.cfg.NotionalUSDC,
		Shares:     rec.FilledShares,
		Gated:      m.BookDepthUSDC > 0,
	}
	if err := w.journal.SaveIndex(w.cfg.IndexPath, w.idx); err != nil {
		slog.Error("index save failed", "err", err)
	}

	m.Status = domain.StatusTraded
	m.SignalID = signalID
	m.StatusNote = ""
	w.snap.Runtime.PositionsOpened++
	w.dirty.Mark(reasonPositionOpened, true)

	slog.Info("position opened",
		"signal_id", signalID, "slug", m.Slug,
		"entry", rec.FilledPrice, "shares", rec.FilledShares)
	return sig, true
}

// closePosition emits a sell signal for the market's open position. The close
// event lands in the journal before the executor runs; if the sell then
// fails, the ledger still shows the buy open and the boot reconciler keeps
// the position alive.
func (w *Watcher) closePosition(ctx context.Context, m *domain.WatchedMarket, reason string, now time.Time) (domain.Signal, bool) {
	id := m.SignalID
	open := w.idx.Open[id]
	if open == nil {
		slog.Warn("traded market has no open position, resetting", "slug", m.Slug, "signal_id", id)
		m.Status = domain.StatusWatching
		m.SignalID = ""
		w.dirty.Mark(reasonStatusChange, true)
		return domain.Signal{}, false
	}

	exit := m.BestBid
	pnl := (exit - open.EntryPrice) * open.Shares
	roi := 0.0
	if open.Notional > 0 {
		roi = pnl / open.Notional
	}

	sig := domain.Signal{
		Kind:        domain.SignalSell,
		SignalID:    id,
		ConditionID: m.ConditionID,
		Slug:        m.Slug,
		Outcome:     m.Outcome,
		Price:       exit,
		Reason:      reason,
		EmittedAt:   now,
	}

	nowMS := now.UnixMilli()
	ev, err := domain.NewCloseEvent(id, nowMS, domain.ClosePayload{
		Reason:    reason,
		ExitPrice: exit,
		PnL:       pnl,
		ROI:       roi,
		Won:       pnl > 0,
	})
	if err != nil {
		slog.Error("close event build failed", "signal_id", id, "err", err)
		return domain.Signal{}, false
	}
	if err := w.journal.Append(w.cfg.JournalPath, ev); err != nil {
		slog.Error("journal append failed, keeping position open", "signal_id", id, "err", err)
		return domain.Signal{}, false
	}
	w.noteSignal(sig, now)

	if _, err := w.executor.Sell(ctx, sig); err != nil {
		w.snap.Runtime.ExecutionErrors++
		slog.Error("sell execution failed, keeping position open", "signal_id", id, "err", err)
		return sig, true
	}

	closed := &domain.ClosedPosition{
		SignalID:   id,
		Slug:       open.Slug,
		Outcome:    open.Outcome,
		OpenedTS:   open.OpenedTS,
		ClosedTS:   nowMS,
		EntryPrice: open.EntryPrice,
		ExitPrice:  exit,
		Notional:   open.Notional,
		PnL:        pnl,
		ROI:        roi,
		Won:        pnl > 0,
		Reason:     reason,
	}
	delete(w.idx.Open, id)
	w.idx.Closed[id] = closed
	if err := w.journal.SaveIndex(w.cfg.IndexPath, w.idx); err != nil {
		slog.Error("index save failed", "err", err)
	}

	if reason == "expired" {
		m.Status = domain.StatusExpired
	} else {
		m.Status = domain.StatusWatching
	}
	m.SignalID = ""
	w.snap.Runtime.PositionsClosed++
	w.dirty.Mark(reasonPositionClosed, true)

	if w.archive != nil {
		if err := w.archive.SaveClosed(ctx, *closed); err != nil {
			slog.Warn("archive save failed", "signal_id", id, "err", err)
		}
	}

	slog.Info("position closed",
		"signal_id", id, "reason", reason, "exit", exit, "pnl", pnl)
	return sig, true
}

// noteSignal updates runtime counters and mirrors the signal to the archive.
func (w *Watcher) noteSignal(sig domain.Signal, now time.Time) {
	w.snap.Runtime.SignalsEmitted++
	w.snap.Runtime.LastSignalAt = now
	w.snap.Runtime.PushSignal(sig)
	if w.archive != nil {
		if err := w.archive.SaveSignal(context.Background(), sig); err != nil {
			slog.Warn("archive signal save failed", "err", err)
		}
	}
}

// relinkSignaled reattaches a mid-entry market to its position, if the index
// holds one for its slug, or returns it to the watch pool.
func (w *Watcher) relinkSignaled(m *domain.WatchedMarket) {
	for id, open := range w.idx.Open {
		if open.Slug == m.Slug {
			m.Status = domain.StatusTraded
			m.SignalID = id
			w.dirty.Mark(reasonStatusChange, true)
			slog.Info("relinked market to open position", "slug", m.Slug, "signal_id", id)
			return
		}
	}
	m.Status = domain.StatusWatching
	m.SignalID = ""
	m.StatusNote = "entry interrupted, no position found"
	w.dirty.Mark(reasonStatusChange, true)
	slog.Warn("signaled market has no open position, returning to watch pool", "slug", m.Slug)
}

// purge drops ignored and expired markets once they age past the grace
// window. Traded markets are never purged.
func (w *Watcher) purge(now time.Time) {
	cutoff := now.Add(-w.cfg.PurgeAfter).UnixMilli()
	for id, m := range w.snap.Markets {
		if m.Status != domain.StatusIgnored && m.Status != domain.StatusExpired {
			continue
		}
		if m.LastSeenTS >= cutoff {
			continue
		}
		delete(w.snap.Markets, id)
		w.dirty.Mark(reasonWatchlistChange, true)
		slog.Debug("market purged", "slug", m.Slug, "status", string(m.Status))
	}
}

// persist writes the snapshot when the dirty tracker says it is due.
func (w *Watcher) persist(now time.Time) {
	if !w.dirty.ShouldPersist(now, w.cfg.Throttle) {
		return
	}
	reasons := w.dirty.Reasons()
	w.snap.Runtime.LastSnapshotAt = now
	if err := w.store.Write(w.cfg.StatePath, w.snap); err != nil {
		slog.Error("snapshot write failed, state kept dirty", "err", err)
		return
	}
	w.dirty.Clear(now)
	slog.Debug("snapshot persisted", "reasons", reasons)
}

// flush forces a final snapshot write on shutdown if anything is pending.
func (w *Watcher) flush(now time.Time) error {
	if !w.dirty.Dirty() {
		return nil
	}
	w.snap.Runtime.LastSnapshotAt = now
	if err := w.store.Write(w.cfg.StatePath, w.snap); err != nil {
		return fmt.Errorf("watcher.flush: %w", err)
	}
	w.dirty.Clear(now)
	return nil
}

// sortedMarketIDs returns condition ids in stable order so cycles process
// markets deterministically.
func (w *Watcher) sortedMarketIDs() []string {
	ids := make([]string, 0, len(w.snap.Markets))
	for id := range w.snap.Markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
