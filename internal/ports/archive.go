package ports

import (
	"context"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Archive mirrors resolved positions and emitted signals into a queryable
// store. The journal remains the durability source of truth; losing the
// archive loses nothing that cannot be rebuilt.
type Archive interface {
	// SaveClosed upserts a resolved position.
	SaveClosed(ctx context.Context, pos domain.ClosedPosition) error

	// SaveSignal records an emitted signal.
	SaveSignal(ctx context.Context, sig domain.Signal) error

	// GetClosedHistory returns resolved positions, newest first.
	GetClosedHistory(ctx context.Context, limit int) ([]domain.ClosedPosition, error)

	// Close releases the underlying database.
	Close() error
}
