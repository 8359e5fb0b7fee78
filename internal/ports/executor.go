package ports

import (
	"context"

	"github.com/alejandrodnm/polywatch/internal/domain"
)

// Executor places entry and exit orders and maintains the execution ledger.
// Fill confirmation lives in the ledger, not in the return value: a returned
// record may still be pending.
type Executor interface {
	// Buy attempts to open a position for the given signal.
	Buy(ctx context.Context, sig domain.Signal) (domain.ExecutionRecord, error)

	// Sell attempts to close the position identified by sig.SignalID.
	Sell(ctx context.Context, sig domain.Signal) (domain.ExecutionRecord, error)
}
