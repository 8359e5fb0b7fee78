package state

// invariants.go — repair-on-read pass over the watchlist.
//
// Each rule increments a named counter and fixes the record in place. The
// checker never rejects a document: downstream consumers always see a
// structurally legal watchlist.

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Violation rule names, used as counter buckets.
const (
	RuleInvalidStatus          = "invalid_status"
	RulePendingMissingSince    = "pending_missing_since"
	RulePendingMissingDeadline = "pending_missing_deadline"
	RulePendingStrayFields     = "pending_stray_fields"
	RuleBadLastSeen            = "bad_last_seen"
	RuleFirstAfterLast         = "first_after_last"
)

// InvariantChecker scans every watched market once per cycle and repairs
// states that violate the status state machine.
type InvariantChecker struct {
	// PendingWindow derives a missing pending deadline from pending_since.
	PendingWindow time.Duration
}

// NewInvariantChecker returns a checker with the given pending window.
func NewInvariantChecker(pendingWindow time.Duration) *InvariantChecker {
	return &InvariantChecker{PendingWindow: pendingWindow}
}

// Run repairs doc's watchlist in place and returns per-rule violation
// counts. Running it again on the repaired document yields zero counts.
func (c *InvariantChecker) Run(doc *domain.Snapshot, now time.Time) map[string]int64 {
	counts := make(map[string]int64)
	nowMS := now.UnixMilli()

	for id, m := range doc.Markets {
		if !domain.ValidStatus(m.Status) {
			slog.Warn("unknown market status, ignoring market",
				"condition_id", id, "status", string(m.Status))
			m.StatusNote = "auto-repaired: unknown status " + string(m.Status)
			m.Status = domain.StatusIgnored
			counts[RuleInvalidStatus]++
		}

		if m.Status == domain.StatusPending {
			if m.PendingSinceTS == 0 {
				m.Status = domain.StatusWatching
				m.PendingDeadlineTS = 0
				counts[RulePendingMissingSince]++
			} else if m.PendingDeadlineTS == 0 {
				m.PendingDeadlineTS = m.PendingSinceTS + c.PendingWindow.Milliseconds()
				counts[RulePendingMissingDeadline]++
			}
		} else if m.PendingSinceTS != 0 || m.PendingDeadlineTS != 0 {
			m.PendingSinceTS = 0
			m.PendingDeadlineTS = 0
			counts[RulePendingStrayFields]++
		}

		if m.LastSeenTS <= 0 {
			m.LastSeenTS = nowMS
			counts[RuleBadLastSeen]++
		}
		if m.FirstSeenTS > m.LastSeenTS {
			m.FirstSeenTS = m.LastSeenTS
			counts[RuleFirstAfterLast]++
		}
	}

	return counts
}
