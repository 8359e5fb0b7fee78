package strategy

// threshold.go — entry/exit decisions on top-of-book prices.
//
// The strategy is deliberately simple: buy an underdog outcome when its ask
// drops to the entry threshold and the book is deep enough, exit on take
// profit, stop loss, or market expiry. A candidate must hold its price for
// the pending window before the buy signal fires, filtering one-tick blips.

import (
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Thresholds configures the decision rules.
type Thresholds struct {
	EntryPrice      float64 // buy when ask <= this
	TakeProfitPrice float64 // sell when bid >= this
	StopLossPrice   float64 // sell when bid <= this
	MinBookDepth    float64 // USDC resting near the top of book
	PendingWindow   time.Duration
}

// Decision is the strategy's verdict for one market in one cycle.
type Decision int

const (
	Hold Decision = iota
	EnterPending
	CancelPending
	Enter
	Exit
)

// Evaluator applies the thresholds to watched markets.
type Evaluator struct {
	cfg Thresholds
}

// NewEvaluator returns an Evaluator.
func NewEvaluator(cfg Thresholds) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// EvaluateEntry decides the next step for a market that holds no position.
func (e *Evaluator) EvaluateEntry(m *domain.WatchedMarket, depth float64, now time.Time) Decision {
	priceOK := m.BestAsk > 0 && m.BestAsk <= e.cfg.EntryPrice
	depthOK := depth >= e.cfg.MinBookDepth

	switch m.Status {
	case domain.StatusWatching:
		if priceOK && depthOK {
			return EnterPending
		}
	case domain.StatusPending:
		if !priceOK {
			return CancelPending
		}
		if now.UnixMilli() >= m.PendingDeadlineTS {
			return Enter
		}
	}
	return Hold
}

// EvaluateExit decides whether an open position should close and why.
func (e *Evaluator) EvaluateExit(m *domain.WatchedMarket, now time.Time) (Decision, string) {
	if m.Status != domain.StatusTraded {
		return Hold, ""
	}
	if !m.EndDate.IsZero() && now.After(m.EndDate) {
		return Exit, "expired"
	}
	if m.BestBid >= e.cfg.TakeProfitPrice {
		return Exit, "take_profit"
	}
	if m.BestBid > 0 && m.BestBid <= e.cfg.StopLossPrice {
		return Exit, "stop_loss"
	}
	return Hold, ""
}
