package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/watchledger/internal/domain"
	"github.com/kailas-cloud/watchledger/internal/metrics"
)

// RetryPolicy bounds retries of a single logical call.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Reauthenticate refreshes credentials before every retry.
	Reauthenticate bool
}

// Config configures the collaborator boundary.
type Config struct {
	Retry     RetryPolicy
	CallDelay time.Duration
	ListCost  int64
	FetchCost int64
}

// Source wraps a Client with one retry policy, call pacing and per-call
// quota accounting. Results carry the number of attempts made.
type Source struct {
	client  Client
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates the boundary around client.
func New(client Client, cfg Config, logger *zap.Logger) *Source {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = time.Second
	}
	if cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		cfg.Retry.MaxInterval = cfg.Retry.InitialInterval
	}
	limit := rate.Inf
	if cfg.CallDelay > 0 {
		limit = rate.Every(cfg.CallDelay)
	}
	return &Source{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Ready reports whether the client can serve calls.
func (s *Source) Ready() bool { return s.client != nil && s.client.Ready() }

// HealthCheck fails when the client is not ready.
func (s *Source) HealthCheck(_ context.Context) error {
	if !s.Ready() {
		return domain.ErrNotInitialized
	}
	return nil
}

// ListCurrentIDs returns the source's authoritative id set. Cost covers
// every attempt made, including failed ones.
func (s *Source) ListCurrentIDs(ctx context.Context) (domain.SourceListing, error) {
	var ids []string
	attempts, err := s.call(ctx, "list", func(ctx context.Context) error {
		var err error
		ids, err = s.client.ListEntityIDs(ctx)
		return err
	})
	listing := domain.SourceListing{IDs: ids, Cost: int64(attempts) * s.cfg.ListCost, Attempts: attempts}
	if err != nil {
		return listing, fmt.Errorf("list entity ids: %w", err)
	}
	return listing, nil
}

// FetchEntity returns one entity with its ISO-8601 duration.
func (s *Source) FetchEntity(ctx context.Context, id string) (domain.SourceEntity, error) {
	var e domain.SourceEntity
	attempts, err := s.call(ctx, "fetch", func(ctx context.Context) error {
		var err error
		e, err = s.client.FetchEntity(ctx, id)
		return err
	})
	e.Cost = int64(attempts) * s.cfg.FetchCost
	e.Attempts = attempts
	if err != nil {
		return e, fmt.Errorf("fetch entity %s: %w", id, err)
	}
	if e.ID == "" {
		e.ID = id
	}
	return e, nil
}

// call runs fn under the retry policy and returns the attempts made.
func (s *Source) call(ctx context.Context, op string, fn func(context.Context) error) (int, error) {
	if !s.Ready() {
		return 0, domain.ErrNotInitialized
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.Retry.InitialInterval
	eb.MaxInterval = s.cfg.Retry.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.cfg.Retry.MaxAttempts-1)), ctx)

	attempts := 0
	operation := func() error {
		if attempts > 0 && s.cfg.Retry.Reauthenticate {
			if err := s.client.Authenticate(ctx); err != nil {
				s.logger.Warn("Reauthentication failed", zap.String("op", op), zap.Error(err))
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		err := fn(ctx)
		if errors.Is(err, domain.ErrNotInitialized) || errors.Is(err, domain.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.SourceRetriesTotal.WithLabelValues(op).Inc()
		s.logger.Warn("Source call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil {
		metrics.SourceCallsTotal.WithLabelValues(op, "error").Inc()
		if errors.Is(err, domain.ErrNotInitialized) || errors.Is(err, domain.ErrNotFound) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attempts, err
		}
		return attempts, fmt.Errorf("%w after %d attempts: %w", domain.ErrTransport, attempts, err)
	}
	metrics.SourceCallsTotal.WithLabelValues(op, "ok").Inc()
	if attempts > 1 {
		s.logger.Info("Source call succeeded after retries", zap.String("op", op), zap.Int("attempts", attempts))
	}
	return attempts, nil
}
