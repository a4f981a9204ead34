package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/watchledger/internal/db"
	"github.com/kailas-cloud/watchledger/internal/domain"
)

// store is the consumer interface for ledger persistence (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Repo reads and writes the ledger document as one JSON blob.
type Repo struct {
	store store
	key   string
}

// New creates a ledger repository bound to key.
func New(s store, key string) *Repo {
	return &Repo{store: s, key: key}
}

// Key returns the storage key of the ledger document.
func (r *Repo) Key() string { return r.key }

// Load reads the ledger. A missing document yields domain.ErrNotFound,
// an unparseable one domain.ErrConfiguration. Load never writes.
func (r *Repo) Load(ctx context.Context) (domain.LedgerState, error) {
	data, err := r.store.Get(ctx, r.key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domain.LedgerState{}, fmt.Errorf("ledger %s: %w", r.key, domain.ErrNotFound)
		}
		return domain.LedgerState{}, fmt.Errorf("read ledger %s: %w: %w", r.key, domain.ErrPersistence, err)
	}
	return Decode(data)
}

// Save writes the full ledger document.
func (r *Repo) Save(ctx context.Context, s domain.LedgerState) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, r.key, data); err != nil {
		return fmt.Errorf("write ledger %s: %w: %w", r.key, domain.ErrPersistence, err)
	}
	return nil
}

// Encode renders the ledger document as indented JSON.
func Encode(s domain.LedgerState) ([]byte, error) {
	data, err := json.MarshalIndent(toDoc(s), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode ledger: %w: %w", domain.ErrPersistence, err)
	}
	return data, nil
}

// Decode parses a ledger document.
func Decode(data []byte) (domain.LedgerState, error) {
	var doc ledgerDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.LedgerState{}, fmt.Errorf("decode ledger: %w: %w", domain.ErrConfiguration, err)
	}
	return fromDoc(doc), nil
}
