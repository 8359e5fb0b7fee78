package domain

import "time"

// MarketStatus is the lifecycle state of a watched market.
type MarketStatus string

const (
	StatusWatching MarketStatus = "watching"
	StatusPending  MarketStatus = "pending_signal"
	StatusSignaled MarketStatus = "signaled"
	StatusTraded   MarketStatus = "traded"
	StatusIgnored  MarketStatus = "ignored"
	StatusExpired  MarketStatus = "expired"
)

// ValidStatus reports whether s is one of the known lifecycle states.
func ValidStatus(s MarketStatus) bool {
	switch s {
	case StatusWatching, StatusPending, StatusSignaled, StatusTraded, StatusIgnored, StatusExpired:
		return true
	}
	return false
}

// WatchedMarket is one entry in the watchlist. The watcher mutates it every
// cycle; the invariant checker repairs it but never deletes it.
type WatchedMarket struct {
	ConditionID string       `json:"condition_id"`
	Slug        string       `json:"slug"`
	Question    string       `json:"question,omitempty"`
	Status      MarketStatus `json:"status"`
	StatusNote  string       `json:"status_note,omitempty"`

	// Unix milliseconds. FirstSeen must never exceed LastSeen.
	FirstSeenTS int64 `json:"first_seen_ts"`
	LastSeenTS  int64 `json:"last_seen_ts"`

	// Set only while Status == pending_signal.
	PendingSinceTS    int64 `json:"pending_since_ts,omitempty"`
	PendingDeadlineTS int64 `json:"pending_deadline_ts,omitempty"`

	// Domain payload, opaque to the persistence engine.
	YesTokenID    string    `json:"yes_token_id,omitempty"`
	NoTokenID     string    `json:"no_token_id,omitempty"`
	Outcome       string    `json:"outcome,omitempty"`
	BestBid       float64   `json:"best_bid,omitempty"`
	BestAsk       float64   `json:"best_ask,omitempty"`
	BookDepthUSDC float64   `json:"book_depth_usdc,omitempty"`
	EndDate       time.Time `json:"end_date,omitzero"`
	Sport         string    `json:"sport,omitempty"`
	SignalID      string    `json:"signal_id,omitempty"` // open position, if any
}

// Runtime holds process counters persisted alongside the watchlist.
type Runtime struct {
	RunID            string           `json:"run_id"`
	StartedAt        time.Time        `json:"started_at"`
	Cycles           int64            `json:"cycles"`
	SignalsEmitted   int64            `json:"signals_emitted"`
	PositionsOpened  int64            `json:"positions_opened"`
	PositionsClosed  int64            `json:"positions_closed"`
	LastCycleAt      time.Time        `json:"last_cycle_at,omitzero"`
	LastSignalAt     time.Time        `json:"last_signal_at,omitzero"`
	LastSnapshotAt   time.Time        `json:"last_snapshot_at,omitzero"`
	ViolationCounts  map[string]int64 `json:"violation_counts,omitempty"`
	RecentSignals    []Signal         `json:"recent_signals,omitempty"`
	FeedMessages     int64            `json:"feed_messages"`
	DiscoveryErrors  int64            `json:"discovery_errors"`
	ExecutionErrors  int64            `json:"execution_errors"`
}

// Snapshot is the full process-state document, persisted atomically as one
// file. The persistence engine treats the watchlist substructure as the only
// part it validates.
type Snapshot struct {
	V       int                       `json:"v"`
	Markets map[string]*WatchedMarket `json:"markets"`
	Runtime Runtime                   `json:"runtime"`
}

// NewSnapshot returns an empty snapshot document ready for use.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		V:       1,
		Markets: make(map[string]*WatchedMarket),
		Runtime: Runtime{ViolationCounts: make(map[string]int64)},
	}
}

// maxRecentSignals bounds the runtime ring buffer.
const maxRecentSignals = 50

// PushSignal appends s to the recent-signal ring buffer, dropping the oldest
// entry once the buffer is full.
func (r *Runtime) PushSignal(s Signal) {
	r.RecentSignals = append(r.RecentSignals, s)
	if len(r.RecentSignals) > maxRecentSignals {
		r.RecentSignals = r.RecentSignals[len(r.RecentSignals)-maxRecentSignals:]
	}
}

// CountViolation increments the named violation bucket.
func (r *Runtime) CountViolation(rule string, n int64) {
	if n == 0 {
		return
	}
	if r.ViolationCounts == nil {
		r.ViolationCounts = make(map[string]int64)
	}
	r.ViolationCounts[rule] += n
}
