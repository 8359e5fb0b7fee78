package archive

// sqlite.go — queryable mirror of resolved positions and emitted signals.
//
// The journal remains the durability source of truth; this store exists for
// offline analysis (win rates per sport, PnL over time) without replaying
// JSONL. Losing the database loses nothing that cannot be rebuilt.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS closed_positions (
    signal_id      TEXT PRIMARY KEY,
    slug           TEXT NOT NULL,
    outcome        TEXT,
    opened_ts      INTEGER NOT NULL,
    closed_ts      INTEGER NOT NULL,
    entry_price    REAL NOT NULL,
    exit_price     REAL NOT NULL,
    notional       REAL NOT NULL,
    pnl            REAL NOT NULL,
    roi            REAL NOT NULL,
    won            INTEGER NOT NULL DEFAULT 0,
    reason         TEXT,
    resolve_method TEXT
);

CREATE TABLE IF NOT EXISTS signals (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    kind         TEXT NOT NULL,
    signal_id    TEXT NOT NULL,
    condition_id TEXT,
    slug         TEXT,
    price        REAL NOT NULL DEFAULT 0,
    notional     REAL NOT NULL DEFAULT 0,
    reason       TEXT,
    emitted_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_closed_ts   ON closed_positions(closed_ts DESC);
CREATE INDEX IF NOT EXISTS idx_signals_at  ON signals(emitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_signals_sid ON signals(signal_id);
`

// Signals older than this are pruned at open.
const signalRetention = 30 * 24 * time.Hour

// SQLite implements ports.Archive with a pure-Go SQLite driver (no CGo).
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database, applies the schema, and prunes
// old signal rows.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive.NewSQLite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive.NewSQLite: apply schema: %w", err)
	}

	s := &SQLite{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveClosed upserts a resolved position. Reconciled and live closes go
// through the same row, so re-running boot recovery cannot duplicate.
func (s *SQLite) SaveClosed(ctx context.Context, pos domain.ClosedPosition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO closed_positions
			(signal_id, slug, outcome, opened_ts, closed_ts, entry_price,
			 exit_price, notional, pnl, roi, won, reason, resolve_method)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(signal_id) DO UPDATE SET
			closed_ts      = excluded.closed_ts,
			exit_price     = excluded.exit_price,
			pnl            = excluded.pnl,
			roi            = excluded.roi,
			won            = excluded.won,
			reason         = excluded.reason,
			resolve_method = excluded.resolve_method`,
		pos.SignalID, pos.Slug, pos.Outcome, pos.OpenedTS, pos.ClosedTS,
		pos.EntryPrice, pos.ExitPrice, pos.Notional, pos.PnL, pos.ROI,
		boolToInt(pos.Won), pos.Reason, pos.ResolveMethod,
	)
	if err != nil {
		return fmt.Errorf("archive.SaveClosed: %w", err)
	}
	return nil
}

// SaveSignal records one emitted signal.
func (s *SQLite) SaveSignal(ctx context.Context, sig domain.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (kind, signal_id, condition_id, slug, price, notional, reason, emitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(sig.Kind), sig.SignalID, sig.ConditionID, sig.Slug,
		sig.Price, sig.Notional, sig.Reason, sig.EmittedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("archive.SaveSignal: %w", err)
	}
	return nil
}

// GetClosedHistory returns resolved positions, newest first.
func (s *SQLite) GetClosedHistory(ctx context.Context, limit int) ([]domain.ClosedPosition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, slug, outcome, opened_ts, closed_ts, entry_price,
		       exit_price, notional, pnl, roi, won, reason, resolve_method
		FROM closed_positions ORDER BY closed_ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive.GetClosedHistory: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedPosition
	for rows.Next() {
		var p domain.ClosedPosition
		var won int
		var reason, resolveMethod, outcome sql.NullString
		if err := rows.Scan(
			&p.SignalID, &p.Slug, &outcome, &p.OpenedTS, &p.ClosedTS,
			&p.EntryPrice, &p.ExitPrice, &p.Notional, &p.PnL, &p.ROI,
			&won, &reason, &resolveMethod,
		); err != nil {
			return nil, fmt.Errorf("archive.GetClosedHistory: scan: %w", err)
		}
		p.Won = won != 0
		p.Outcome = outcome.String
		p.Reason = reason.String
		p.ResolveMethod = resolveMethod.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) pruneOld(ctx context.Context) {
	cutoff := time.Now().Add(-signalRetention).UTC().Format(time.RFC3339)
	s.db.ExecContext(ctx, `DELETE FROM signals WHERE emitted_at < ?`, cutoff)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
