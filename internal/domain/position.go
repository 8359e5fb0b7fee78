package domain

// OpenPosition is the index projection of a position believed open.
type OpenPosition struct {
	SignalID   string  `json:"signal_id"`
	Slug       string  `json:"slug"`
	Outcome    string  `json:"outcome"`
	TokenID    string  `json:"token_id,omitempty"`
	OpenedTS   int64   `json:"opened_ts"`
	EntryPrice float64 `json:"entry_price"`
	Notional   float64 `json:"notional"`
	Shares     float64 `json:"shares,omitempty"`
	Gated      bool    `json:"gated,omitempty"`
}

// ClosedPosition is the index projection of a resolved position.
type ClosedPosition struct {
	SignalID      string  `json:"signal_id"`
	Slug          string  `json:"slug"`
	Outcome       string  `json:"outcome"`
	OpenedTS      int64   `json:"opened_ts"`
	ClosedTS      int64   `json:"closed_ts"`
	EntryPrice    float64 `json:"entry_price"`
	ExitPrice     float64 `json:"exit_price"`
	Notional      float64 `json:"notional"`
	PnL           float64 `json:"pnl"`
	ROI           float64 `json:"roi"`
	Won           bool    `json:"won"`
	Reason        string  `json:"reason"`
	ResolveMethod string  `json:"resolve_method,omitempty"`
}

// FailedBuy is an entry attempt whose buy never filled. Kept for a retention
// window so repeated failures stay visible, then compacted.
type FailedBuy struct {
	SignalID string  `json:"signal_id"`
	Slug     string  `json:"slug"`
	OpenedTS int64   `json:"opened_ts"`
	MovedTS  int64   `json:"moved_ts"`
	Notional float64 `json:"notional"`
}

// PositionIndex is the derived, rebuildable view over the event journal.
// A signal_id lives in exactly one of the three maps, or in none.
// It is a cache: reconciliation against the journal and the execution
// ledger can always regenerate it.
type PositionIndex struct {
	V          int                        `json:"v"`
	Open       map[string]*OpenPosition   `json:"open"`
	Closed     map[string]*ClosedPosition `json:"closed"`
	FailedBuys map[string]*FailedBuy      `json:"failed_buys"`
}

// NewPositionIndex returns an index with all maps initialized.
func NewPositionIndex() *PositionIndex {
	return &PositionIndex{
		V:          1,
		Open:       make(map[string]*OpenPosition),
		Closed:     make(map[string]*ClosedPosition),
		FailedBuys: make(map[string]*FailedBuy),
	}
}

// Normalize default-initializes any map that came back nil from JSON.
func (idx *PositionIndex) Normalize() {
	if idx.V == 0 {
		idx.V = 1
	}
	if idx.Open == nil {
		idx.Open = make(map[string]*OpenPosition)
	}
	if idx.Closed == nil {
		idx.Closed = make(map[string]*ClosedPosition)
	}
	if idx.FailedBuys == nil {
		idx.FailedBuys = make(map[string]*FailedBuy)
	}
}
