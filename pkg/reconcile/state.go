package reconcile

import (
	"sort"
)

// Pending is the delta between the last server snapshot and the local mirror.
type Pending[T any] struct {
	Creates []Draft[T]
	Updates map[string]Patch
	Deletes map[string]struct{}
}

// HasChanges reports whether anything awaits submission.
func (p Pending[T]) HasChanges() bool {
	return len(p.Creates) > 0 || len(p.Updates) > 0 || len(p.Deletes) > 0
}

// DeleteIDs returns the pending delete ids in sorted order.
func (p Pending[T]) DeleteIDs() []string {
	ids := make([]string, 0, len(p.Deletes))
	for id := range p.Deletes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p Pending[T]) clone() Pending[T] {
	out := Pending[T]{
		Creates: append([]Draft[T](nil), p.Creates...),
		Updates: make(map[string]Patch, len(p.Updates)),
		Deletes: make(map[string]struct{}, len(p.Deletes)),
	}
	for id, patch := range p.Updates {
		out.Updates[id] = patch.clone()
	}
	for id := range p.Deletes {
		out.Deletes[id] = struct{}{}
	}
	return out
}

func (p Pending[T]) draftIndex(id ID) int {
	for i, d := range p.Creates {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func emptyPending[T any]() Pending[T] {
	return Pending[T]{
		Updates: map[string]Patch{},
		Deletes: map[string]struct{}{},
	}
}

// State is the full edit-buffer state of one collection.
type State[T any] struct {
	ParentID string
	// Snapshot is the last collection fetched from the server.
	Snapshot []Item[T]
	// Items is the local mirror rendered to the user.
	Items   []Item[T]
	Pending Pending[T]
}

// NewState returns an empty state for the given parent.
func NewState[T any](parentID string) State[T] {
	return State[T]{ParentID: parentID, Pending: emptyPending[T]()}
}

// HasPendingChanges reports whether the pending change set is non-empty.
func (s State[T]) HasPendingChanges() bool {
	return s.Pending.HasChanges()
}

func (s State[T]) clone() State[T] {
	return State[T]{
		ParentID: s.ParentID,
		Snapshot: cloneItems(s.Snapshot),
		Items:    cloneItems(s.Items),
		Pending:  s.Pending.clone(),
	}
}

func (s State[T]) itemIndex(id ID) int {
	for i, it := range s.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s State[T]) snapshotItem(id string) (Item[T], bool) {
	for _, it := range s.Snapshot {
		if !it.ID.IsProvisional() && it.ID.Value() == id {
			return it, true
		}
	}
	return Item[T]{}, false
}

func cloneItems[T any](items []Item[T]) []Item[T] {
	if items == nil {
		return nil
	}
	return append([]Item[T](nil), items...)
}

// sortedByOrder returns a copy of items ordered by their order field; ties
// keep server order.
func sortedByOrder[T any](items []Item[T]) []Item[T] {
	out := cloneItems(items)
	if out == nil {
		out = []Item[T]{}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
