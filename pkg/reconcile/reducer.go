package reconcile

import (
	"errors"
	"fmt"
)

// KeyFunc extracts the natural key used to recognise the same logical item
// across a create and a delete, e.g. name+unit.
type KeyFunc[T any] func(T) string

// ErrIndexOutOfRange is returned by Reorder for indexes outside the mirror.
var ErrIndexOutOfRange = errors.New("reconcile: index out of range")

// ErrUnknownField is returned by Update for patch keys the record type does
// not declare. Nothing is recorded.
var ErrUnknownField = errors.New("reconcile: unknown field")

// Action is a state transition understood by Reducer.
type Action interface {
	action()
}

// Seed replaces the snapshot and mirror with a fresh server collection and
// clears the pending change set.
type Seed[T any] struct {
	ParentID string
	Items    []Item[T]
}

// Create appends a provisional item. A zero ID is replaced by a new draft id.
type Create[T any] struct {
	ID     ID
	Fields T
}

// Update merges a patch into an item.
type Update struct {
	ID    ID
	Patch Patch
}

// Delete removes an item.
type Delete struct {
	ID ID
}

// Reorder moves the item at From to To.
type Reorder struct {
	From int
	To   int
}

// Clear empties the pending change set and keeps the mirror.
type Clear struct{}

// Discard restores the mirror from the snapshot and clears pending changes.
type Discard struct{}

func (Seed[T]) action()   {}
func (Create[T]) action() {}
func (Update) action()    {}
func (Delete) action()    {}
func (Reorder) action()   {}
func (Clear) action()     {}
func (Discard) action()   {}

// Reducer applies actions to a collection state. It never mutates its input.
type Reducer[T any] struct {
	Key   KeyFunc[T]
	NewID func() ID
}

// NewReducer constructs a reducer using the given natural key.
func NewReducer[T any](key KeyFunc[T]) Reducer[T] {
	return Reducer[T]{Key: key, NewID: NewProvisional}
}

// Reduce returns the state that results from applying a to s.
func (r Reducer[T]) Reduce(s State[T], a Action) (State[T], error) {
	switch act := a.(type) {
	case Seed[T]:
		return r.seed(act), nil
	case Create[T]:
		return r.create(s, act)
	case Update:
		return r.update(s, act)
	case Delete:
		return r.remove(s, act), nil
	case Reorder:
		return r.reorder(s, act)
	case Clear:
		next := s.clone()
		next.Pending = emptyPending[T]()
		return next, nil
	case Discard:
		next := s.clone()
		next.Items = cloneItems(s.Snapshot)
		next.Pending = emptyPending[T]()
		return next, nil
	default:
		return s, fmt.Errorf("reconcile: unsupported action %T", a)
	}
}

func (r Reducer[T]) seed(act Seed[T]) State[T] {
	sorted := sortedByOrder(act.Items)
	return State[T]{
		ParentID: act.ParentID,
		Snapshot: sorted,
		Items:    cloneItems(sorted),
		Pending:  emptyPending[T](),
	}
}

func (r Reducer[T]) create(s State[T], act Create[T]) (State[T], error) {
	key := r.Key(act.Fields)
	for _, d := range s.Pending.Creates {
		if r.Key(d.Fields) == key {
			// Duplicate submissions (double clicks) are absorbed.
			return s, nil
		}
	}
	id := act.ID
	if id.IsZero() {
		id = r.newID()
	}
	if !id.IsProvisional() {
		return s, fmt.Errorf("reconcile: create requires a provisional id, got %s", id)
	}
	next := s.clone()
	order := len(next.Items)
	next.Items = append(next.Items, Item[T]{ID: id, Order: order, ParentID: s.ParentID, Fields: act.Fields})
	next.Pending.Creates = append(next.Pending.Creates, Draft[T]{ID: id, Order: order, Fields: act.Fields})
	return next, nil
}

func (r Reducer[T]) update(s State[T], act Update) (State[T], error) {
	idx := s.itemIndex(act.ID)
	if idx < 0 || act.Patch.IsEmpty() {
		return s, nil
	}
	next := s.clone()
	item := next.Items[idx]
	fields, err := applyFields(item.Fields, act.Patch.Fields)
	if err != nil {
		return s, err
	}
	item.Fields = fields
	if act.Patch.Order != nil {
		item.Order = *act.Patch.Order
	}
	next.Items[idx] = item

	if act.ID.IsProvisional() {
		// Edits to unsaved items only ever touch their create record.
		if di := next.Pending.draftIndex(act.ID); di >= 0 {
			draft := next.Pending.Creates[di]
			draft.Fields = item.Fields
			draft.Order = item.Order
			next.Pending.Creates[di] = draft
		}
		return next, nil
	}
	r.recordUpdate(&next, act.ID.Value(), act.Patch)
	return next, nil
}

// recordUpdate merges a patch into the update map, dropping order-only
// patches that move an item back to its server position.
func (r Reducer[T]) recordUpdate(s *State[T], id string, patch Patch) {
	if _, deleted := s.Pending.Deletes[id]; deleted {
		return
	}
	merged := s.Pending.Updates[id].Merge(patch)
	if len(merged.Fields) == 0 && merged.Order != nil {
		if orig, ok := s.snapshotItem(id); ok && orig.Order == *merged.Order {
			delete(s.Pending.Updates, id)
			return
		}
	}
	s.Pending.Updates[id] = merged
}

func (r Reducer[T]) remove(s State[T], act Delete) State[T] {
	idx := s.itemIndex(act.ID)
	if idx < 0 {
		return s
	}
	next := s.clone()
	next.Items = append(next.Items[:idx:idx], next.Items[idx+1:]...)
	if act.ID.IsProvisional() {
		// The create never reached the server; leave no trace.
		if di := next.Pending.draftIndex(act.ID); di >= 0 {
			next.Pending.Creates = append(next.Pending.Creates[:di:di], next.Pending.Creates[di+1:]...)
		}
		return next
	}
	id := act.ID.Value()
	next.Pending.Deletes[id] = struct{}{}
	delete(next.Pending.Updates, id)
	return next
}

func (r Reducer[T]) reorder(s State[T], act Reorder) (State[T], error) {
	n := len(s.Items)
	if act.From < 0 || act.From >= n || act.To < 0 || act.To >= n {
		return s, fmt.Errorf("%w: move %d to %d of %d", ErrIndexOutOfRange, act.From, act.To, n)
	}
	next := s.clone()
	if act.From != act.To {
		moved := next.Items[act.From]
		rest := append(next.Items[:act.From:act.From], next.Items[act.From+1:]...)
		items := make([]Item[T], 0, n)
		items = append(items, rest[:act.To]...)
		items = append(items, moved)
		items = append(items, rest[act.To:]...)
		next.Items = items
	}
	r.reindex(&next)
	return next, nil
}

// reindex makes every order match its position and records the moves.
func (r Reducer[T]) reindex(s *State[T]) {
	for i := range s.Items {
		item := s.Items[i]
		if item.Order == i {
			continue
		}
		item.Order = i
		s.Items[i] = item
		if item.ID.IsProvisional() {
			if di := s.Pending.draftIndex(item.ID); di >= 0 {
				s.Pending.Creates[di].Order = i
			}
			continue
		}
		r.recordUpdate(s, item.ID.Value(), OrderPatch(i))
	}
}

func (r Reducer[T]) newID() ID {
	if r.NewID != nil {
		return r.NewID()
	}
	return NewProvisional()
}
