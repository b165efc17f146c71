// Package core implements the reference backend for template collections: it
// lists collections and applies client batches atomically against a
// domain.PersistentStore.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"poolcore/internal/infra/persistence/memory"
	"poolcore/pkg/domain"
)

var (
	// ErrUnknownKind is returned for collection kinds the backend does not serve.
	ErrUnknownKind = errors.New("core: unknown collection kind")
	// ErrInvalidBatch is returned when a batch cannot be applied as sent.
	ErrInvalidBatch = errors.New("core: invalid batch")
)

// MetricsRecorder observes service operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithClock overrides the clock used for operation timings.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// Service exposes transactional collection operations over a persistent store.
type Service struct {
	store   domain.PersistentStore
	logger  *zap.Logger
	metrics MetricsRecorder
	clock   Clock
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  zap.NewNop(),
		metrics: noopMetrics{},
		clock:   systemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// ListCollection returns the records of kind under parentID in display
// order. Group kinds take an empty parent.
func (s *Service) ListCollection(ctx context.Context, kind domain.Kind, parentID string) (docs []domain.Document, err error) {
	start := s.clock.Now()
	defer func() { s.observe(ctx, "list", err, start) }()
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		if err := CheckParent(view, kind, parentID); err != nil {
			return err
		}
		docs = view.List(kind, parentID)
		return nil
	})
	return docs, err
}

// run executes fn in a store transaction, logging and observing the outcome.
func (s *Service) run(ctx context.Context, op string, fn func(tx domain.Transaction) error) (domain.Result, error) {
	start := s.clock.Now()
	res, err := s.store.RunInTransaction(ctx, fn)
	s.observe(ctx, op, err, start)
	if err != nil {
		s.logger.Warn("transaction failed", zap.String("operation", op), zap.Error(err))
		return res, err
	}
	s.logger.Info("transaction committed",
		zap.String("operation", op),
		zap.Int("changes", len(res.Changes)),
		zap.Bool("structural", res.Structural()),
		zap.Uint64("revision", res.Revision))
	return res, nil
}

func (s *Service) observe(ctx context.Context, op string, err error, start time.Time) {
	s.metrics.Observe(ctx, "core."+op, err == nil, s.clock.Now().Sub(start))
}

// CheckParent validates kind and that parentID names an existing parent.
func CheckParent(view domain.TransactionView, kind domain.Kind, parentID string) error {
	if _, ok := domain.ParseKind(string(kind)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	parentKind, hasParent := domain.ParentKind(kind)
	if !hasParent {
		if parentID != "" {
			return fmt.Errorf("%w: %s has no parent", ErrInvalidBatch, kind)
		}
		return nil
	}
	if _, ok := view.Find(parentKind, parentID); !ok {
		return domain.ErrNotFound{Kind: parentKind, ID: parentID}
	}
	return nil
}
