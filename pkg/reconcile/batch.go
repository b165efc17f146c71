package reconcile

import (
	"encoding/json"
	"fmt"
)

// Batch is the optimized payload of one Save. Empty sections are omitted
// from the wire form.
type Batch[T any] struct {
	Updates []UpdateRecord    `json:"updates,omitempty"`
	Creates []CreateRecord[T] `json:"creates,omitempty"`
	Deletes []string          `json:"deletes,omitempty"`
}

// IsEmpty reports whether the batch carries no work.
func (b Batch[T]) IsEmpty() bool {
	return len(b.Updates) == 0 && len(b.Creates) == 0 && len(b.Deletes) == 0
}

// Summary counts the batch sections for confirmation prompts.
func (b Batch[T]) Summary() Summary {
	s := Summary{Creates: len(b.Creates), Updates: len(b.Updates), Deletes: len(b.Deletes)}
	for _, u := range b.Updates {
		if u.Patch.Order != nil {
			s.Reorders++
		}
	}
	return s
}

// Summary describes what a Save will send.
type Summary struct {
	Creates  int `json:"creates"`
	Updates  int `json:"updates"`
	Deletes  int `json:"deletes"`
	Reorders int `json:"reorders"`
}

// Add accumulates another summary.
func (s Summary) Add(other Summary) Summary {
	return Summary{
		Creates:  s.Creates + other.Creates,
		Updates:  s.Updates + other.Updates,
		Deletes:  s.Deletes + other.Deletes,
		Reorders: s.Reorders + other.Reorders,
	}
}

// Structural reports whether saving changes the shape of the template.
// Structural saves sign out other active sessions and reschedule future
// visits server-side, so callers must warn before confirming.
func (s Summary) Structural() bool {
	return s.Creates > 0 || s.Deletes > 0 || s.Reorders > 0
}

func (s Summary) String() string {
	return fmt.Sprintf("%d created, %d updated, %d deleted", s.Creates, s.Updates, s.Deletes)
}

// UpdateRecord patches one persisted item. It encodes as {id, ...fields, order}.
type UpdateRecord struct {
	ID    string
	Patch Patch
}

// MarshalJSON flattens the patch next to the id.
func (u UpdateRecord) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(u.Patch.Fields)+2)
	for _, k := range u.Patch.keys() {
		flat[k] = u.Patch.Fields[k]
	}
	flat[keyID] = u.ID
	if u.Patch.Order != nil {
		flat[keyOrder] = *u.Patch.Order
	}
	return json.Marshal(flat)
}

// UnmarshalJSON splits a flat update object back into id, order and fields.
func (u *UpdateRecord) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	var out UpdateRecord
	if raw, ok := flat[keyID]; ok {
		if err := json.Unmarshal(raw, &out.ID); err != nil {
			return fmt.Errorf("update id: %w", err)
		}
	}
	if out.ID == "" {
		return fmt.Errorf("update record requires an id")
	}
	if raw, ok := flat[keyOrder]; ok {
		var order int
		if err := json.Unmarshal(raw, &order); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		out.Patch.Order = &order
	}
	for k, raw := range flat {
		if k == keyID || k == keyOrder || k == keyParentID {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("update field %s: %w", k, err)
		}
		if out.Patch.Fields == nil {
			out.Patch.Fields = make(map[string]any, len(flat))
		}
		out.Patch.Fields[k] = v
	}
	*u = out
	return nil
}

// CreateRecord asks the server to create one item. It encodes as
// {...fields, order}.
type CreateRecord[T any] struct {
	Order  int
	Fields T
}

// MarshalJSON flattens the fields next to the order.
func (c CreateRecord[T]) MarshalJSON() ([]byte, error) {
	flat, err := toObject(c.Fields)
	if err != nil {
		return nil, err
	}
	delete(flat, keyID)
	flat[keyOrder] = c.Order
	return json.Marshal(flat)
}

// UnmarshalJSON decodes a flat create object.
func (c *CreateRecord[T]) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Order int `json:"order"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	var fields T
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*c = CreateRecord[T]{Order: envelope.Order, Fields: fields}
	return nil
}
