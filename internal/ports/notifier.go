package ports

import (
	"context"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Notifier presents cycle results to the operator.
type Notifier interface {
	// Notify renders the current watchlist and any signals emitted this
	// cycle. The console implementation prints a formatted table.
	Notify(ctx context.Context, snap *domain.Snapshot, signals []domain.Signal) error
}
