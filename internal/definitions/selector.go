package definitions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poolcore/internal/client"
	"poolcore/pkg/api"
	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

const optionLoadConcurrency = 4

var (
	// ErrGroupDeleted is returned for edits after DeleteGroup.
	ErrGroupDeleted = errors.New("definitions: selector group marked for deletion")
	// ErrUnknownDefinition is returned for option edits on a question that is not in the mirror.
	ErrUnknownDefinition = errors.New("definitions: unknown selector question")
)

// TreeSubmitter saves a whole selector group edit session.
type TreeSubmitter interface {
	SubmitBatch(ctx context.Context, groupID string, batch api.SelectorGroupBatch) (*api.SelectorGroupTree, error)
}

// SelectorBackend is the server side a SelectorGroupManager reads from and saves to.
type SelectorBackend struct {
	Groups      reconcile.Backend[domain.SelectorGroup]
	Definitions reconcile.Backend[domain.SelectorDefinition]
	Options     reconcile.Backend[domain.SelectorOption]
	Trees       TreeSubmitter
}

// ClientSelectorBackend returns a SelectorBackend over HTTP.
func ClientSelectorBackend(c *client.Client) SelectorBackend {
	return SelectorBackend{
		Groups:      client.Collection[domain.SelectorGroup](c, domain.KindSelectorGroups),
		Definitions: client.Collection[domain.SelectorDefinition](c, domain.KindSelectors),
		Options:     client.Collection[domain.SelectorOption](c, domain.KindSelectorOptions),
		Trees:       client.SelectorGroups(c),
	}
}

// SelectorGroupManager edits a selector group, its questions and the
// options of each persisted question as one unit. Options of a question that
// is not saved yet travel inside the question's create record.
type SelectorGroupManager struct {
	backend SelectorBackend
	logger  *zap.Logger
	metrics reconcile.MetricsRecorder

	mu          sync.Mutex
	groupID     string
	group       reconcile.Item[domain.SelectorGroup]
	groupPatch  map[string]any
	deleteGroup bool
	definitions *reconcile.Collection[domain.SelectorDefinition]
	options     map[string]*reconcile.Collection[domain.SelectorOption]
	loaded      bool
	submitting  bool
}

// ManagerOption configures a SelectorGroupManager.
type ManagerOption func(*SelectorGroupManager)

// WithSelectorLogger attaches a structured logger.
func WithSelectorLogger(logger *zap.Logger) ManagerOption {
	return func(m *SelectorGroupManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSelectorMetrics records load and submit outcomes.
func WithSelectorMetrics(rec reconcile.MetricsRecorder) ManagerOption {
	return func(m *SelectorGroupManager) {
		if rec != nil {
			m.metrics = rec
		}
	}
}

// NewSelectorGroupManager constructs an unloaded manager.
func NewSelectorGroupManager(backend SelectorBackend, opts ...ManagerOption) *SelectorGroupManager {
	m := &SelectorGroupManager{
		backend:     backend,
		logger:      zap.NewNop(),
		definitions: reconcile.NewCollection(domain.SelectorDefinition.NaturalKey),
		options:     map[string]*reconcile.Collection[domain.SelectorOption]{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load fetches the group and its questions, then the options of every
// question concurrently, and seeds all collections.
func (m *SelectorGroupManager) Load(ctx context.Context, groupID string) (err error) {
	start := time.Now()
	defer func() { m.observe(ctx, "load", err, start) }()
	m.mu.Lock()
	submitting := m.submitting
	m.mu.Unlock()
	if submitting {
		return reconcile.ErrSubmitting
	}

	var (
		group reconcile.Item[domain.SelectorGroup]
		defs  []reconcile.Item[domain.SelectorDefinition]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		groups, err := m.backend.Groups.Fetch(gctx, "")
		if err != nil {
			return fmt.Errorf("fetch selector groups: %w", err)
		}
		for _, candidate := range groups {
			if candidate.ID.Value() == groupID {
				group = candidate
				return nil
			}
		}
		return domain.ErrNotFound{Kind: domain.KindSelectorGroups, ID: groupID}
	})
	g.Go(func() error {
		var err error
		if defs, err = m.backend.Definitions.Fetch(gctx, groupID); err != nil {
			return fmt.Errorf("fetch selectors of %s: %w", groupID, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	options := make([][]reconcile.Item[domain.SelectorOption], len(defs))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(optionLoadConcurrency)
	for i, def := range defs {
		g.Go(func() error {
			items, err := m.backend.Options.Fetch(gctx, def.ID.Value())
			if err != nil {
				return fmt.Errorf("fetch options of %s: %w", def.ID.Value(), err)
			}
			options[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tree := api.SelectorGroupTree{Group: group, Definitions: defs, Options: make(map[string][]reconcile.Item[domain.SelectorOption], len(defs))}
	for i, def := range defs {
		tree.Options[def.ID.Value()] = options[i]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitting {
		return reconcile.ErrSubmitting
	}
	if err := m.seedLocked(groupID, tree, false); err != nil {
		return err
	}
	m.logger.Debug("selector group loaded",
		zap.String("group_id", groupID),
		zap.Int("definitions", len(defs)))
	return nil
}

// seedLocked reseeds the collections in place from tree and clears group
// edits. When completing, every collection is ending a submission. Option
// collections of questions that are gone are marked stale and dropped.
func (m *SelectorGroupManager) seedLocked(groupID string, tree api.SelectorGroupTree, completing bool) error {
	if completing {
		m.definitions.CompleteSubmit(tree.Definitions)
	} else if err := m.definitions.Seed(groupID, tree.Definitions); err != nil {
		return err
	}
	live := make(map[string]bool, len(tree.Definitions))
	for _, def := range tree.Definitions {
		id := def.ID.Value()
		live[id] = true
		opts, ok := m.options[id]
		switch {
		case !ok:
			opts = reconcile.NewCollection(domain.SelectorOption.NaturalKey)
			_ = opts.Seed(id, tree.Options[id])
			m.options[id] = opts
		case completing:
			opts.CompleteSubmit(tree.Options[id])
		default:
			if err := opts.Seed(id, tree.Options[id]); err != nil {
				return err
			}
		}
	}
	for id, opts := range m.options {
		if !live[id] {
			opts.MarkStale()
			delete(m.options, id)
		}
	}
	m.groupID = groupID
	m.group = tree.Group
	m.groupPatch = nil
	m.deleteGroup = false
	m.loaded = true
	return nil
}

func (m *SelectorGroupManager) editableLocked() error {
	switch {
	case !m.loaded:
		return reconcile.ErrNotLoaded
	case m.submitting:
		return reconcile.ErrSubmitting
	case m.deleteGroup:
		return ErrGroupDeleted
	}
	return nil
}

// GroupID returns the loaded group id.
func (m *SelectorGroupManager) GroupID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groupID
}

// Group returns the group with pending field edits applied.
func (m *SelectorGroupManager) Group() (reconcile.Item[domain.SelectorGroup], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.groupPatch) == 0 {
		return m.group, nil
	}
	fields, err := domain.FieldsFromValue(m.group.Fields)
	if err != nil {
		return reconcile.Item[domain.SelectorGroup]{}, err
	}
	for k, v := range m.groupPatch {
		fields[k] = v
	}
	item := m.group
	if item.Fields, err = domain.DecodeFields[domain.SelectorGroup](fields); err != nil {
		return reconcile.Item[domain.SelectorGroup]{}, err
	}
	return item, nil
}

// UpdateGroup records a field patch on the group itself.
func (m *SelectorGroupManager) UpdateGroup(patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.editableLocked(); err != nil {
		return err
	}
	if m.groupPatch == nil {
		m.groupPatch = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		m.groupPatch[k] = v
	}
	return nil
}

// DeleteGroup marks the whole group for removal on the next Submit. Other
// pending edits are not sent.
func (m *SelectorGroupManager) DeleteGroup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.editableLocked(); err != nil {
		return err
	}
	m.deleteGroup = true
	return nil
}

// Definitions returns the question collection. The handle stays valid
// across Load and Submit, which reseed it in place.
func (m *SelectorGroupManager) Definitions() *reconcile.Collection[domain.SelectorDefinition] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.definitions
}

// Options returns the option collection of a persisted question. The handle
// is reseeded in place while the question exists and is marked stale once it
// is deleted.
func (m *SelectorGroupManager) Options(definitionID reconcile.ID) (*reconcile.Collection[domain.SelectorOption], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if definitionID.IsProvisional() {
		return nil, fmt.Errorf("%w: %s is not saved yet; edit its options through the question", ErrUnknownDefinition, definitionID)
	}
	opts, ok := m.options[definitionID.Value()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDefinition, definitionID)
	}
	return opts, nil
}

// AddOption appends an option to a question. Options of unsaved questions
// are appended to the question's create record.
func (m *SelectorGroupManager) AddOption(definitionID reconcile.ID, option domain.SelectorOption) error {
	m.mu.Lock()
	if err := m.editableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	defs := m.definitions
	opts := m.options[definitionID.Value()]
	m.mu.Unlock()

	if !definitionID.IsProvisional() {
		if opts == nil {
			return fmt.Errorf("%w: %s", ErrUnknownDefinition, definitionID)
		}
		_, err := opts.Create(option)
		return err
	}
	def, ok := defs.Item(definitionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDefinition, definitionID)
	}
	for _, existing := range def.Fields.Options {
		if existing.NaturalKey() == option.NaturalKey() {
			return nil
		}
	}
	inline := append(append([]domain.SelectorOption(nil), def.Fields.Options...), option)
	return defs.Update(definitionID, reconcile.FieldPatch(map[string]any{"options": inline}))
}

// HasPendingChanges reports whether Submit would send anything.
func (m *SelectorGroupManager) HasPendingChanges() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteGroup || len(m.groupPatch) > 0 || m.definitions.HasPendingChanges() {
		return true
	}
	for _, opts := range m.options {
		if opts.HasPendingChanges() {
			return true
		}
	}
	return false
}

// Plan returns the optimized batch without submitting it.
func (m *SelectorGroupManager) Plan() api.SelectorGroupBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.planLocked()
}

// planLocked skips option batches of questions that are being deleted.
func (m *SelectorGroupManager) planLocked() api.SelectorGroupBatch {
	if m.deleteGroup {
		return api.SelectorGroupBatch{DeleteGroup: true}
	}
	var batch api.SelectorGroupBatch
	if len(m.groupPatch) > 0 {
		batch.Group = make(map[string]any, len(m.groupPatch))
		for k, v := range m.groupPatch {
			batch.Group[k] = v
		}
	}
	defs := m.definitions.Plan()
	if !defs.IsEmpty() {
		batch.Definitions = &defs
	}
	deleted := make(map[string]bool, len(defs.Deletes))
	for _, id := range defs.Deletes {
		deleted[id] = true
	}
	for _, defID := range m.optionIDsLocked() {
		if deleted[defID] {
			continue
		}
		plan := m.options[defID].Plan()
		if plan.IsEmpty() {
			continue
		}
		if batch.Options == nil {
			batch.Options = map[string]reconcile.Batch[domain.SelectorOption]{}
		}
		batch.Options[defID] = plan
	}
	return batch
}

func (m *SelectorGroupManager) optionIDsLocked() []string {
	ids := make([]string, 0, len(m.options))
	for id := range m.options {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Submit sends every pending edit as one request once confirm accepts the
// summary. confirm runs without the manager lock held; if the plan changes
// while it runs, nothing is sent. All collections stay frozen while the
// request is in flight and are left untouched when it fails.
func (m *SelectorGroupManager) Submit(ctx context.Context, confirm reconcile.ConfirmFunc) (batch api.SelectorGroupBatch, err error) {
	m.mu.Lock()
	if err := m.submittableLocked(); err != nil {
		m.mu.Unlock()
		return api.SelectorGroupBatch{}, err
	}
	batch = m.planLocked()
	if batch.IsEmpty() {
		discardErr := m.discardLocked()
		m.mu.Unlock()
		return batch, discardErr
	}
	m.mu.Unlock()

	summary := batch.Summary()
	if confirm == nil || !confirm(summary) {
		return api.SelectorGroupBatch{}, reconcile.ErrNotConfirmed
	}

	m.mu.Lock()
	if err := m.submittableLocked(); err != nil {
		m.mu.Unlock()
		return api.SelectorGroupBatch{}, err
	}
	current := m.planLocked()
	if current.Summary() != summary || current.DeleteGroup != batch.DeleteGroup {
		m.mu.Unlock()
		return api.SelectorGroupBatch{}, fmt.Errorf("%w: edits changed while confirming", reconcile.ErrNotConfirmed)
	}
	batch = current
	frozen, err := m.freezeLocked()
	if err != nil {
		m.mu.Unlock()
		return api.SelectorGroupBatch{}, err
	}
	m.submitting = true
	groupID := m.groupID
	m.mu.Unlock()

	start := time.Now()
	defer func() { m.observe(ctx, "submit", err, start) }()

	tree, err := m.backend.Trees.SubmitBatch(ctx, groupID, batch)
	if err != nil {
		m.mu.Lock()
		for _, thaw := range frozen {
			thaw()
		}
		m.submitting = false
		m.mu.Unlock()
		m.logger.Warn("selector group batch rejected", zap.String("group_id", groupID), zap.Error(err))
		return batch, fmt.Errorf("submit selector group %s: %w", groupID, err)
	}

	m.mu.Lock()
	m.submitting = false
	if batch.DeleteGroup || tree == nil {
		m.loaded = false
		m.deleteGroup = false
		m.markStaleLocked()
		m.mu.Unlock()
		if batch.DeleteGroup {
			m.logger.Info("selector group deleted", zap.String("group_id", groupID))
			return batch, nil
		}
		if err := m.Load(ctx, groupID); err != nil {
			return batch, fmt.Errorf("refetch selector group %s after submit: %w", groupID, err)
		}
	} else {
		seedErr := m.seedLocked(groupID, *tree, true)
		m.mu.Unlock()
		if seedErr != nil {
			return batch, seedErr
		}
	}
	m.logger.Info("selector group saved",
		zap.String("group_id", groupID),
		zap.Int("creates", summary.Creates),
		zap.Int("updates", summary.Updates),
		zap.Int("deletes", summary.Deletes))
	return batch, nil
}

func (m *SelectorGroupManager) submittableLocked() error {
	if err := m.editableLocked(); err != nil && !errors.Is(err, ErrGroupDeleted) {
		return err
	}
	return nil
}

// markStaleLocked ends any submission and requires a reload before further
// edits through held collection handles.
func (m *SelectorGroupManager) markStaleLocked() {
	m.definitions.MarkStale()
	for _, opts := range m.options {
		opts.MarkStale()
	}
}

// freezeLocked begins a submission on every collection and returns the
// functions that end it.
func (m *SelectorGroupManager) freezeLocked() ([]func(), error) {
	var thaws []func()
	release := func() {
		for _, thaw := range thaws {
			thaw()
		}
	}
	if _, err := m.definitions.BeginSubmit(); err != nil {
		return nil, err
	}
	thaws = append(thaws, m.definitions.AbortSubmit)
	for _, id := range m.optionIDsLocked() {
		opts := m.options[id]
		if _, err := opts.BeginSubmit(); err != nil {
			release()
			return nil, err
		}
		thaws = append(thaws, opts.AbortSubmit)
	}
	return thaws, nil
}

// Discard drops every pending edit, including a pending group delete.
func (m *SelectorGroupManager) Discard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.discardLocked()
}

func (m *SelectorGroupManager) discardLocked() error {
	if !m.loaded {
		return reconcile.ErrNotLoaded
	}
	if m.submitting {
		return reconcile.ErrSubmitting
	}
	m.groupPatch = nil
	m.deleteGroup = false
	if err := m.definitions.Discard(); err != nil {
		return err
	}
	for _, opts := range m.options {
		if err := opts.Discard(); err != nil {
			return err
		}
	}
	return nil
}

func (m *SelectorGroupManager) observe(ctx context.Context, op string, err error, start time.Time) {
	if m.metrics == nil {
		return
	}
	m.metrics.Observe(ctx, "selector-groups."+op, err == nil, time.Since(start))
}
