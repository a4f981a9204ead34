package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/db"
	"github.com/kailas-cloud/watchledger/internal/domain"
)

const (
	fieldVersion       = "schema_version"
	fieldLegacyVersion = "version"
	backupTimeLayout   = "20060102_150405"
)

// Result summarizes one Run.
type Result struct {
	From    int
	To      int
	Applied []int
	Backups []string
}

// Migrator applies versioned transformations to the persisted ledger.
// Each applied step is committed before the next starts; a failing step
// stops the chain and leaves earlier steps in place.
type Migrator struct {
	store  Store
	key    string
	steps  []Step
	clock  quartz.Clock
	logger *zap.Logger
}

// New creates a migrator for the document at key.
func New(store Store, key string, steps []Step, clock quartz.Clock, logger *zap.Logger) *Migrator {
	steps = slices.Clone(steps)
	slices.SortFunc(steps, func(a, b Step) int { return a.Version - b.Version })
	return &Migrator{store: store, key: key, steps: steps, clock: clock, logger: logger}
}

// Run applies every step newer than the stored version.
func (m *Migrator) Run(ctx context.Context) (Result, error) {
	raw, doc, err := m.load(ctx)
	if err != nil {
		return Result{}, err
	}
	current := Version(doc)
	res := Result{From: current, To: current}

	for _, step := range m.steps {
		if step.Version <= current {
			continue
		}
		log := m.logger.With(zap.Int("version", step.Version), zap.String("description", step.Description))
		log.Info("Applying migration")

		next, err := step.Apply(doc)
		if err != nil {
			log.Error("Migration failed", zap.Error(err))
			return res, &domain.MigrationError{Version: step.Version, Err: err}
		}
		next[fieldVersion] = step.Version
		delete(next, fieldLegacyVersion)

		if raw != nil {
			backup := m.backupKey(step.Version)
			if err := m.store.Set(ctx, backup, raw); err != nil {
				log.Error("Backup failed", zap.String("backup", backup), zap.Error(err))
				return res, &domain.MigrationError{
					Version: step.Version,
					Err:     fmt.Errorf("backup %s: %w: %w", backup, domain.ErrPersistence, err),
				}
			}
			res.Backups = append(res.Backups, backup)
		}

		data, err := json.MarshalIndent(next, "", "  ")
		if err != nil {
			return res, &domain.MigrationError{Version: step.Version, Err: err}
		}
		if err := m.store.Set(ctx, m.key, data); err != nil {
			log.Error("Migration save failed", zap.Error(err))
			return res, &domain.MigrationError{
				Version: step.Version,
				Err:     fmt.Errorf("save %s: %w: %w", m.key, domain.ErrPersistence, err),
			}
		}

		raw, doc, current = data, next, step.Version
		res.To = current
		res.Applied = append(res.Applied, step.Version)
		log.Info("Migration applied")
	}

	if len(res.Applied) == 0 {
		m.logger.Debug("Ledger schema up to date", zap.Int("version", current))
	}
	return res, nil
}

// load returns the stored bytes (nil when absent) and the parsed document.
// A corrupt document is treated as empty; its bytes are still backed up.
func (m *Migrator) load(ctx context.Context) ([]byte, Document, error) {
	raw, err := m.store.Get(ctx, m.key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, Document{}, nil
		}
		return nil, nil, fmt.Errorf("read %s: %w: %w", m.key, domain.ErrPersistence, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		m.logger.Warn("Ledger document unreadable, migrating from empty", zap.String("key", m.key), zap.Error(err))
		return raw, Document{}, nil
	}
	return raw, doc, nil
}

func (m *Migrator) backupKey(version int) string {
	return fmt.Sprintf("%s.bak.%s.v%d", m.key, m.clock.Now().UTC().Format(backupTimeLayout), version)
}

// Version reads the schema version of a raw document, falling back to the
// legacy "version" field and then 0.
func Version(doc Document) int {
	for _, k := range []string{fieldVersion, fieldLegacyVersion} {
		switch v := doc[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}
