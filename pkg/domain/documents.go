package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Fields is the opaque field payload of a stored record, keyed by JSON name.
type Fields map[string]any

// Clone returns a shallow copy of the field map.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Reserved wire keys that never live inside Fields.
const (
	FieldID       = "id"
	FieldOrder    = "order"
	FieldParentID = "parentId"
)

// StripReserved removes envelope keys that a client may have echoed back.
func (f Fields) StripReserved() Fields {
	delete(f, FieldID)
	delete(f, FieldOrder)
	delete(f, FieldParentID)
	return f
}

// FieldsFromValue converts a typed record into its JSON field map.
func FieldsFromValue[T any](value T) (Fields, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out Fields
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("record is not a JSON object: %w", err)
	}
	return out, nil
}

// DecodeFields converts a field map back into a typed record.
func DecodeFields[T any](fields Fields) (T, error) {
	var out T
	raw, err := json.Marshal(fields)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// Document is the storage representation of any group, definition or option.
type Document struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	ParentID  string    `json:"parentId,omitempty"`
	Order     int       `json:"order"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy that does not share the field map.
func (d Document) Clone() Document {
	cp := d
	cp.Fields = d.Fields.Clone()
	return cp
}

// MarshalWire renders the document the way collection endpoints return it:
// a flat object of fields plus id, order and parentId.
func (d Document) MarshalWire() ([]byte, error) {
	flat := d.Fields.Clone()
	if flat == nil {
		flat = Fields{}
	}
	flat[FieldID] = d.ID
	flat[FieldOrder] = d.Order
	if d.ParentID != "" {
		flat[FieldParentID] = d.ParentID
	}
	return json.Marshal(flat)
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured in the audit trail.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Change records a single mutation applied within a transaction.
type Change struct {
	Kind   Kind          `json:"kind"`
	Action Action        `json:"action"`
	ID     string        `json:"id"`
	Before ChangePayload `json:"before"`
	After  ChangePayload `json:"after"`
}

// Structural reports whether the change alters the shape of a template
// (anything but a pure field edit). Structural saves invalidate other
// sessions and reschedule future work on the production backend.
func (c Change) Structural() bool {
	return c.Action != ActionUpdate
}

// Result summarises a committed transaction.
type Result struct {
	Changes  []Change `json:"changes,omitempty"`
	Revision uint64   `json:"revision"`
}

// Structural reports whether any change in the result is structural.
func (r Result) Structural() bool {
	for _, c := range r.Changes {
		if c.Structural() {
			return true
		}
	}
	return false
}

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Kind Kind
	ID   string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
