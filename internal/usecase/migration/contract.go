package migration

import "context"

// Store is the consumer interface for raw ledger documents (ISP).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Document is the untyped ledger shape migrations operate on.
type Document = map[string]any

// Step is one versioned transformation.
type Step struct {
	Version     int
	Description string
	Apply       func(doc Document) (Document, error)
}
