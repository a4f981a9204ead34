package ledger

import (
	"context"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

// Repository is the consumer interface for ledger persistence (ISP).
type Repository interface {
	Load(ctx context.Context) (domain.LedgerState, error)
	Save(ctx context.Context, s domain.LedgerState) error
}
