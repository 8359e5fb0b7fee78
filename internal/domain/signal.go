package domain

import "time"

// SignalKind distinguishes entries from exits.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
)

// Signal is one emitted trading decision. Signals are advisory: the executor
// decides whether the order actually fills.
type Signal struct {
	Kind        SignalKind `json:"kind"`
	SignalID    string     `json:"signal_id"`
	ConditionID string     `json:"condition_id"`
	Slug        string     `json:"slug"`
	Outcome     string     `json:"outcome"`
	Price       float64    `json:"price"`
	Notional    float64    `json:"notional,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	EmittedAt   time.Time  `json:"emitted_at"`
}

// PriceUpdate is one tick from the realtime feed. The feed only enqueues;
// the watcher drains the queue at the top of each cycle so the snapshot
// document keeps a single writer.
type PriceUpdate struct {
	TokenID   string
	BestBid   float64
	BestAsk   float64
	DepthUSDC float64 // resting USDC on the ask side, when known
	TS        time.Time
}
