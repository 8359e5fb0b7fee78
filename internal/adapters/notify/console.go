package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Console implements ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole creates a notifier writing to stdout. table enables the full
// watchlist table; the default is a compact one-liner per cycle.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify renders the cycle result.
func (c *Console) Notify(ctx context.Context, snap *domain.Snapshot, signals []domain.Signal) error {
	for _, sig := range signals {
		fmt.Fprintf(c.out, "SIGNAL %s %s @ %.3f (%s)\n",
			sig.Kind, sig.Slug, sig.Price, sig.Reason)
	}

	if !c.table {
		fmt.Fprintf(c.out, "[cycle %d] watching=%d traded=%d signals=%d\n",
			snap.Runtime.Cycles,
			countStatus(snap, domain.StatusWatching)+countStatus(snap, domain.StatusPending),
			countStatus(snap, domain.StatusTraded),
			len(signals),
		)
		return nil
	}

	c.printWatchlist(snap)
	return nil
}

func (c *Console) printWatchlist(snap *domain.Snapshot) {
	markets := make([]*domain.WatchedMarket, 0, len(snap.Markets))
	for _, m := range snap.Markets {
		if m.Status == domain.StatusIgnored || m.Status == domain.StatusExpired {
			continue
		}
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Slug < markets[j].Slug })

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Sport", "Status", "Bid", "Ask", "Last seen")

	for _, m := range markets {
		table.Append(
			truncate(m.Slug, 40),
			m.Sport,
			string(m.Status),
			fmt.Sprintf("%.3f", m.BestBid),
			fmt.Sprintf("%.3f", m.BestAsk),
			time.UnixMilli(m.LastSeenTS).UTC().Format("15:04:05"),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "cycles=%d opened=%d closed=%d signals=%d\n",
		snap.Runtime.Cycles, snap.Runtime.PositionsOpened,
		snap.Runtime.PositionsClosed, snap.Runtime.SignalsEmitted)
}

func countStatus(snap *domain.Snapshot, status domain.MarketStatus) int {
	n := 0
	for _, m := range snap.Markets {
		if m.Status == status {
			n++
		}
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
