package reconcile

import "sort"

// Optimize reduces a pending change set to the batch sent on Save.
//
// A create whose natural key equals the key of an original item that is
// pending deletion cancels against that delete: the user removed an item and
// re-added an equivalent one, so neither write is sent. Each delete cancels at
// most one create. Deletes with no original item are sent unchanged and the
// server treats them as idempotent. Updates are always sent.
func Optimize[T any](original []Item[T], pending Pending[T], key KeyFunc[T]) Batch[T] {
	deleteIDs := pending.DeleteIDs()

	originalKeys := make(map[string]string, len(original))
	for _, it := range original {
		if it.ID.IsProvisional() {
			continue
		}
		originalKeys[it.ID.Value()] = key(it.Fields)
	}

	cancelled := make(map[string]bool)
	var batch Batch[T]
	for _, draft := range pending.Creates {
		draftKey := key(draft.Fields)
		matched := false
		for _, id := range deleteIDs {
			if cancelled[id] {
				continue
			}
			if k, ok := originalKeys[id]; ok && k == draftKey {
				cancelled[id] = true
				matched = true
				break
			}
		}
		if !matched {
			batch.Creates = append(batch.Creates, CreateRecord[T]{Order: draft.Order, Fields: draft.Fields})
		}
	}

	for _, id := range deleteIDs {
		if !cancelled[id] {
			batch.Deletes = append(batch.Deletes, id)
		}
	}

	updateIDs := make([]string, 0, len(pending.Updates))
	for id := range pending.Updates {
		updateIDs = append(updateIDs, id)
	}
	sort.Strings(updateIDs)
	for _, id := range updateIDs {
		patch := pending.Updates[id]
		if patch.IsEmpty() {
			continue
		}
		batch.Updates = append(batch.Updates, UpdateRecord{ID: id, Patch: patch.clone()})
	}
	return batch
}

// Plan returns the optimized batch for the current state.
func (r Reducer[T]) Plan(s State[T]) Batch[T] {
	return Optimize(s.Snapshot, s.Pending, r.Key)
}
