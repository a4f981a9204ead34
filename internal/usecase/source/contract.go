package source

import (
	"context"

	"github.com/kailas-cloud/watchledger/internal/domain"
)

// Client is the concrete external source (ISP). Implementations do a single
// call per method; retry, pacing and accounting happen in Source.
type Client interface {
	ListEntityIDs(ctx context.Context) ([]string, error)
	FetchEntity(ctx context.Context, id string) (domain.SourceEntity, error)
	Authenticate(ctx context.Context) error
	Ready() bool
}
