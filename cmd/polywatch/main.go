package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/polywatch/config"
	"github.com/alejandrodnm/polywatch/internal/adapters/archive"
	"github.com/alejandrodnm/polywatch/internal/adapters/execution"
	"github.com/alejandrodnm/polywatch/internal/adapters/notify"
	"github.com/alejandrodnm/polywatch/internal/adapters/polymarket"
	"github.com/alejandrodnm/polywatch/internal/domain"
	"github.com/alejandrodnm/polywatch/internal/feed"
	"github.com/alejandrodnm/polywatch/internal/health"
	"github.com/alejandrodnm/polywatch/internal/journal"
	"github.com/alejandrodnm/polywatch/internal/ports"
	"github.com/alejandrodnm/polywatch/internal/state"
	"github.com/alejandrodnm/polywatch/internal/strategy"
	"github.com/alejandrodnm/polywatch/internal/watcher"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print the full watchlist table each cycle")
	noFeed := flag.Bool("no-feed", false, "disable the realtime websocket feed")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("failed to load config", "err", err, "path", *configPath)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	runID := uuid.NewString()
	slog.Info("polywatch starting",
		"run_id", runID,
		"config", *configPath,
		"interval", cfg.CycleInterval(),
		"once", *once,
	)

	store := state.NewSnapshotStore()
	jnl := journal.New(store)

	// Boot recovery: heal the index against the journal and the execution
	// ledger, then backfill the trade stream, before the first cycle runs.
	if err := recoverState(cfg, store, jnl); err != nil {
		slog.Error("boot recovery failed", "err", err)
		os.Exit(1)
	}

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.Watcher.Sports)
	executor := execution.NewPaper(store, cfg.Paths.Executions, cfg.Paths.Trades)
	notifier := notify.NewConsole(*table)

	var arch ports.Archive
	if cfg.Archive.DSN != "" {
		sqlArch, err := archive.NewSQLite(cfg.Archive.DSN)
		if err != nil {
			slog.Error("failed to open archive", "err", err, "dsn", cfg.Archive.DSN)
			os.Exit(1)
		}
		defer sqlArch.Close()
		arch = sqlArch
	}

	eval := strategy.NewEvaluator(strategy.Thresholds{
		EntryPrice:      cfg.Watcher.EntryPrice,
		TakeProfitPrice: cfg.Watcher.TakeProfitPrice,
		StopLossPrice:   cfg.Watcher.StopLossPrice,
		MinBookDepth:    cfg.Watcher.MinBookDepthUSDC,
		PendingWindow:   cfg.PendingWindow(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	checker := health.NewChecker()
	go checker.Serve(ctx, cfg.Health.Addr)

	var updates <-chan domain.PriceUpdate
	if !*noFeed && !*once {
		wsFeed := feed.New(cfg.API.WSBase)
		updates = wsFeed.Updates()
		go func() {
			if err := wsFeed.Run(ctx, bootTokenIDs(cfg, store)); err != nil && ctx.Err() == nil {
				slog.Warn("feed stopped", "err", err)
			}
		}()
	}

	w := watcher.New(
		watcher.Config{
			Interval:      cfg.CycleInterval(),
			NotionalUSDC:  cfg.Watcher.NotionalUSDC,
			PendingWindow: cfg.PendingWindow(),
			PurgeAfter:    time.Duration(cfg.Watcher.PurgeAfterHours) * time.Hour,
			Throttle:      cfg.Throttle(),
			StatePath:     cfg.Paths.State,
			JournalPath:   cfg.Paths.Journal,
			IndexPath:     cfg.Paths.Index,
			RunID:         runID,
			Once:          *once,
		},
		client, client, executor, notifier, arch, jnl, store, eval, updates,
	)
	w.OnCycle(checker.CycleDone)

	checker.SetReady(true)
	if err := w.Run(ctx); err != nil {
		slog.Error("watcher exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("polywatch stopped cleanly")
}

// recoverState runs the boot-time reconciliation and backfill passes.
func recoverState(cfg *config.Config, store *state.SnapshotStore, jnl *journal.Journal) error {
	now := time.Now()

	idx := jnl.LoadIndex(cfg.Paths.Index)
	ledger, err := journal.LoadLedger(cfg.Paths.Executions)
	if err != nil {
		return err
	}

	rec := journal.NewReconciler(jnl, cfg.FailedBuyRetention())
	res, err := rec.Reconcile(idx, cfg.Paths.Journal, ledger, now)
	if err != nil {
		return err
	}
	if res.Changed() {
		if err := jnl.SaveIndex(cfg.Paths.Index, idx); err != nil {
			return err
		}
	}
	slog.Info("index reconciled",
		"added", res.Added,
		"removed", res.Removed,
		"closed_added", res.ClosedAdded,
		"failed_moved", res.FailedMoved,
		"compacted", res.Compacted,
		"orphans", res.Orphans,
		"open", len(idx.Open),
	)

	bf := journal.NewBackfiller(jnl)
	bres, err := bf.Backfill(cfg.Paths.Journal, cfg.Paths.Executions, cfg.Paths.Trades, now)
	if err != nil {
		return err
	}
	for _, warn := range bres.Warnings {
		slog.Warn("backfill gap", "detail", warn)
	}
	if bres.Added > 0 {
		slog.Info("trade stream backfilled", "added", bres.Added)
	}
	return nil
}

// bootTokenIDs reads the persisted snapshot for the initial websocket
// subscription. A fresh deployment has nothing to subscribe to yet; the
// poll cycle covers prices until the next restart.
func bootTokenIDs(cfg *config.Config, store *state.SnapshotStore) []string {
	snap := domain.NewSnapshot()
	if err := store.Read(cfg.Paths.State, snap); err != nil {
		return nil
	}
	var ids []string
	for _, m := range snap.Markets {
		if m.Status == domain.StatusIgnored || m.Status == domain.StatusExpired {
			continue
		}
		if m.YesTokenID != "" {
			ids = append(ids, m.YesTokenID)
		}
	}
	return ids
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
