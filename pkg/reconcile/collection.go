package reconcile

import (
	"errors"
	"sync"
)

var (
	// ErrSubmitting is returned for any edit attempted while a batch is in flight.
	ErrSubmitting = errors.New("reconcile: submission in progress")
	// ErrNotLoaded is returned when editing a collection that was never seeded.
	ErrNotLoaded = errors.New("reconcile: collection not loaded")
)

// Collection is a mutex-guarded edit buffer for one server collection. It
// performs no I/O; Editor adds the backend round trips.
type Collection[T any] struct {
	mu         sync.RWMutex
	reducer    Reducer[T]
	state      State[T]
	loaded     bool
	submitting bool
}

// NewCollection returns an unloaded collection keyed by key.
func NewCollection[T any](key KeyFunc[T]) *Collection[T] {
	return &Collection[T]{reducer: NewReducer(key), state: NewState[T]("")}
}

// Reducer exposes the reducer driving the collection.
func (c *Collection[T]) Reducer() Reducer[T] { return c.reducer }

// Seed replaces the mirror and snapshot with a server collection.
func (c *Collection[T]) Seed(parentID string, items []Item[T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitting {
		return ErrSubmitting
	}
	c.seedLocked(parentID, items)
	return nil
}

func (c *Collection[T]) seedLocked(parentID string, items []Item[T]) {
	next, _ := c.reducer.Reduce(c.state, Seed[T]{ParentID: parentID, Items: items})
	c.state = next
	c.loaded = true
}

// Create records a new provisional item and returns its id. A duplicate of a
// pending create is ignored and returns the id of the existing draft.
func (c *Collection[T]) Create(fields T) (ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return ID{}, err
	}
	key := c.reducer.Key(fields)
	for _, d := range c.state.Pending.Creates {
		if c.reducer.Key(d.Fields) == key {
			return d.ID, nil
		}
	}
	id := c.reducer.newID()
	if err := c.applyLocked(Create[T]{ID: id, Fields: fields}); err != nil {
		return ID{}, err
	}
	return id, nil
}

// Update merges patch into the item with id.
func (c *Collection[T]) Update(id ID, patch Patch) error {
	return c.dispatch(Update{ID: id, Patch: patch})
}

// Delete removes the item with id.
func (c *Collection[T]) Delete(id ID) error {
	return c.dispatch(Delete{ID: id})
}

// Reorder moves the item at from to to.
func (c *Collection[T]) Reorder(from, to int) error {
	return c.dispatch(Reorder{From: from, To: to})
}

// Discard restores the last server snapshot. It is safe to call with no
// pending changes.
func (c *Collection[T]) Discard() error {
	return c.dispatch(Discard{})
}

// Clear drops the pending change set and keeps the mirror.
func (c *Collection[T]) Clear() error {
	return c.dispatch(Clear{})
}

func (c *Collection[T]) dispatch(a Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return err
	}
	return c.applyLocked(a)
}

func (c *Collection[T]) editableLocked() error {
	if c.submitting {
		return ErrSubmitting
	}
	if !c.loaded {
		return ErrNotLoaded
	}
	return nil
}

func (c *Collection[T]) applyLocked(a Action) error {
	next, err := c.reducer.Reduce(c.state, a)
	if err != nil {
		return err
	}
	c.state = next
	return nil
}

// State returns a copy of the full edit-buffer state.
func (c *Collection[T]) State() State[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// Items returns the local mirror in display order.
func (c *Collection[T]) Items() []Item[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneItems(c.state.Items)
}

// Item looks up a mirrored item.
func (c *Collection[T]) Item(id ID) (Item[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx := c.state.itemIndex(id); idx >= 0 {
		return c.state.Items[idx], true
	}
	return Item[T]{}, false
}

// Pending returns a copy of the pending change set.
func (c *Collection[T]) Pending() Pending[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Pending.clone()
}

// HasPendingChanges reports whether a Save would send anything.
func (c *Collection[T]) HasPendingChanges() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.HasPendingChanges()
}

// Plan returns the optimized batch without submitting it.
func (c *Collection[T]) Plan() Batch[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reducer.Plan(c.state)
}

// Loaded reports whether the collection has been seeded.
func (c *Collection[T]) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// ParentID returns the owning group id of the seeded collection.
func (c *Collection[T]) ParentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ParentID
}

// IsSubmitting reports whether a batch is in flight.
func (c *Collection[T]) IsSubmitting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.submitting
}

// BeginSubmit freezes the collection and returns the batch to send. Every
// edit fails with ErrSubmitting until CompleteSubmit or AbortSubmit.
func (c *Collection[T]) BeginSubmit() (Batch[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.editableLocked(); err != nil {
		return Batch[T]{}, err
	}
	c.submitting = true
	return c.reducer.Plan(c.state), nil
}

// CompleteSubmit reseeds from the authoritative collection and unfreezes.
func (c *Collection[T]) CompleteSubmit(items []Item[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seedLocked(c.state.ParentID, items)
	c.submitting = false
}

// AbortSubmit unfreezes the collection leaving mirror and pending untouched.
func (c *Collection[T]) AbortSubmit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
}

// MarkStale ends a submission the server accepted but whose result could not
// be read back. Pending changes are dropped and the collection must be
// reseeded before further edits.
func (c *Collection[T]) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Pending = emptyPending[T]()
	c.loaded = false
	c.submitting = false
}
