package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNotConfirmed is returned when the user declines the save prompt.
var ErrNotConfirmed = errors.New("reconcile: save not confirmed")

// Backend is the server side of one collection kind.
type Backend[T any] interface {
	// Fetch returns the authoritative collection under parentID.
	Fetch(ctx context.Context, parentID string) ([]Item[T], error)
	// SubmitBatch applies a batch and returns the new collection. A nil
	// slice means the caller must refetch.
	SubmitBatch(ctx context.Context, parentID string, batch Batch[T]) ([]Item[T], error)
}

// ConfirmFunc is asked before anything is sent. Returning false cancels the
// save without I/O.
type ConfirmFunc func(Summary) bool

// Confirmed accepts every prompt. Intended for tests and scripted callers
// that already asked the user.
func Confirmed(Summary) bool { return true }

// MetricsRecorder observes editor round trips.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures an Editor.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics MetricsRecorder
	clock   Clock
	name    string
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(o *options) {
		if rec != nil {
			o.metrics = rec
		}
	}
}

// WithClock overrides the clock used for timings.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithName labels log lines and metrics, e.g. "consumables".
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), metrics: noopMetrics{}, clock: systemClock{}, name: "collection"}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Editor couples a Collection with its backend: Load seeds the mirror, Submit
// sends one optimized batch, Discard restores the snapshot without I/O.
type Editor[T any] struct {
	*Collection[T]
	backend Backend[T]
	opts    options
}

// NewEditor constructs an editor for one collection kind.
func NewEditor[T any](backend Backend[T], key KeyFunc[T], opts ...Option) *Editor[T] {
	return &Editor[T]{
		Collection: NewCollection(key),
		backend:    backend,
		opts:       buildOptions(opts),
	}
}

// Name returns the editor label.
func (e *Editor[T]) Name() string { return e.opts.name }

// Load fetches the collection under parentID and seeds the mirror.
func (e *Editor[T]) Load(ctx context.Context, parentID string) (err error) {
	start := e.opts.clock.Now()
	defer func() { e.observe(ctx, "load", err, start) }()
	if e.IsSubmitting() {
		return ErrSubmitting
	}
	items, err := e.backend.Fetch(ctx, parentID)
	if err != nil {
		return fmt.Errorf("fetch %s %s: %w", e.opts.name, parentID, err)
	}
	if err := e.Seed(parentID, items); err != nil {
		return err
	}
	e.opts.logger.Debug("collection loaded",
		zap.String("collection", e.opts.name),
		zap.String("parent_id", parentID),
		zap.Int("items", len(items)))
	return nil
}

// Submit sends the pending changes as a single batch once confirm accepts
// the summary. On failure the mirror and pending set are left exactly as
// they were. An empty plan returns without prompting or I/O.
func (e *Editor[T]) Submit(ctx context.Context, confirm ConfirmFunc) (batch Batch[T], err error) {
	if !e.Loaded() {
		return Batch[T]{}, ErrNotLoaded
	}
	if e.IsSubmitting() {
		return Batch[T]{}, ErrSubmitting
	}
	plan := e.Plan()
	if plan.IsEmpty() {
		if e.HasPendingChanges() {
			// Everything cancelled out; the server already matches the snapshot.
			return plan, e.Discard()
		}
		return plan, nil
	}
	if confirm == nil || !confirm(plan.Summary()) {
		return Batch[T]{}, ErrNotConfirmed
	}

	start := e.opts.clock.Now()
	defer func() { e.observe(ctx, "submit", err, start) }()

	batch, err = e.BeginSubmit()
	if err != nil {
		return Batch[T]{}, err
	}
	parentID := e.ParentID()
	items, err := e.backend.SubmitBatch(ctx, parentID, batch)
	if err != nil {
		e.AbortSubmit()
		e.opts.logger.Warn("batch rejected",
			zap.String("collection", e.opts.name),
			zap.String("parent_id", parentID),
			zap.Error(err))
		return batch, fmt.Errorf("submit %s batch: %w", e.opts.name, err)
	}
	if items == nil {
		items, err = e.backend.Fetch(ctx, parentID)
		if err != nil {
			e.MarkStale()
			return batch, fmt.Errorf("refetch %s after submit: %w", e.opts.name, err)
		}
	}
	e.CompleteSubmit(items)
	summary := batch.Summary()
	e.opts.logger.Info("batch saved",
		zap.String("collection", e.opts.name),
		zap.String("parent_id", parentID),
		zap.Int("creates", summary.Creates),
		zap.Int("updates", summary.Updates),
		zap.Int("deletes", summary.Deletes))
	return batch, nil
}

func (e *Editor[T]) observe(ctx context.Context, op string, err error, start time.Time) {
	e.opts.metrics.Observe(ctx, e.opts.name+"."+op, err == nil, e.opts.clock.Now().Sub(start))
}
