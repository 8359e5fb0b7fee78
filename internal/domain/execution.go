package domain

import "fmt"

// Execution ledger statuses. The ledger is owned by the execution layer;
// the reconciliation engine only reads it.
const (
	ExecStatusPending ExecStatus = "pending"
	ExecStatusFilled  ExecStatus = "filled"
	ExecStatusFailed  ExecStatus = "failed"
)

// ExecStatus is the fill state of a ledger entry.
type ExecStatus string

// ExecutionRecord is one entry in the execution ledger document, keyed by
// trade id ("buy:<signal_id>" or "sell:<signal_id>").
type ExecutionRecord struct {
	SignalID     string     `json:"signal_id"`
	Side         string     `json:"side"` // buy | sell
	Status       ExecStatus `json:"status"`
	Closed       bool       `json:"closed"`
	FilledShares float64    `json:"filledShares"`
	FilledPrice  float64    `json:"filledPrice,omitempty"`
	Mode         string     `json:"mode"` // paper | live | reconciled
	TS           int64      `json:"ts,omitempty"`
}

// ExecutionLedger is the document the execution layer maintains and the
// reconciler consults to decide whether a logged close really settled.
type ExecutionLedger struct {
	V      int                         `json:"v"`
	Trades map[string]*ExecutionRecord `json:"trades"`
}

// NewExecutionLedger returns an empty ledger document.
func NewExecutionLedger() *ExecutionLedger {
	return &ExecutionLedger{V: 1, Trades: make(map[string]*ExecutionRecord)}
}

// BuyID and SellID build ledger keys for a position lifecycle.
func BuyID(signalID string) string  { return "buy:" + signalID }
func SellID(signalID string) string { return "sell:" + signalID }

// Buy returns the buy record for signalID, or nil.
func (l *ExecutionLedger) Buy(signalID string) *ExecutionRecord {
	if l == nil || l.Trades == nil {
		return nil
	}
	return l.Trades[BuyID(signalID)]
}

// Sell returns the sell record for signalID, or nil.
func (l *ExecutionLedger) Sell(signalID string) *ExecutionRecord {
	if l == nil || l.Trades == nil {
		return nil
	}
	return l.Trades[SellID(signalID)]
}

// TradeRecord is one line of the append-only trade stream. Backfilled
// records carry Mode "reconciled" so they are never mistaken for live fills.
type TradeRecord struct {
	TradeID      string  `json:"trade_id"`
	SignalID     string  `json:"signal_id"`
	Side         string  `json:"side"`
	Price        float64 `json:"price,omitempty"`
	Shares       float64 `json:"shares,omitempty"`
	PnL          float64 `json:"pnl,omitempty"`
	Mode         string  `json:"mode"`
	TS           int64   `json:"ts"`
	MissingField string  `json:"missing_field,omitempty"`
}

// String implements fmt.Stringer for log lines.
func (t TradeRecord) String() string {
	return fmt.Sprintf("%s %s @ %.4f (%s)", t.Side, t.SignalID, t.Price, t.Mode)
}
