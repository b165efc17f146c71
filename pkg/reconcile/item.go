package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Wire keys of the item envelope.
const (
	keyID       = "id"
	keyOrder    = "order"
	keyParentID = "parentId"
)

// Item is one editable record of a collection.
type Item[T any] struct {
	ID       ID
	Order    int
	ParentID string
	Fields   T
}

// MarshalJSON renders the item as a flat object of its fields plus id,
// order and parentId, the same shape collection endpoints return.
func (it Item[T]) MarshalJSON() ([]byte, error) {
	flat, err := toObject(it.Fields)
	if err != nil {
		return nil, err
	}
	flat[keyID] = it.ID.String()
	flat[keyOrder] = it.Order
	if it.ParentID != "" {
		flat[keyParentID] = it.ParentID
	}
	return json.Marshal(flat)
}

// UnmarshalJSON decodes a server item. The id is always persisted.
func (it *Item[T]) UnmarshalJSON(data []byte) error {
	var envelope struct {
		ID       string `json:"id"`
		Order    int    `json:"order"`
		ParentID string `json:"parentId"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	var fields T
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*it = Item[T]{
		ID:       Persisted(envelope.ID),
		Order:    envelope.Order,
		ParentID: envelope.ParentID,
		Fields:   fields,
	}
	return nil
}

// Draft is a pending create request for a provisional item.
type Draft[T any] struct {
	ID     ID
	Order  int
	Fields T
}

// Patch is a partial update. Fields are keyed by JSON field name; Order is
// set when the item moved.
type Patch struct {
	Fields map[string]any
	Order  *int
}

// FieldPatch builds a patch touching only the given fields.
func FieldPatch(fields map[string]any) Patch {
	return Patch{Fields: cloneFields(fields)}
}

// OrderPatch builds a patch that only moves an item.
func OrderPatch(order int) Patch {
	return Patch{Order: &order}
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Fields) == 0 && p.Order == nil
}

// Merge overlays other onto p, last write wins per field.
func (p Patch) Merge(other Patch) Patch {
	out := Patch{Fields: cloneFields(p.Fields), Order: p.Order}
	if len(other.Fields) > 0 && out.Fields == nil {
		out.Fields = make(map[string]any, len(other.Fields))
	}
	for k, v := range other.Fields {
		out.Fields[k] = v
	}
	if other.Order != nil {
		order := *other.Order
		out.Order = &order
	}
	return out
}

func (p Patch) clone() Patch {
	out := Patch{Fields: cloneFields(p.Fields)}
	if p.Order != nil {
		order := *p.Order
		out.Order = &order
	}
	return out
}

// keys returns the patched field names in sorted order.
func (p Patch) keys() []string {
	keys := make([]string, 0, len(p.Fields))
	for k := range p.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// toObject encodes a record into its JSON field map.
func toObject[T any](value T) (map[string]any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("record must encode as a JSON object: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// applyFields returns a new record with the patched fields overlaid. The
// input is left untouched.
func applyFields[T any](value T, fields map[string]any) (T, error) {
	if len(fields) == 0 {
		return value, nil
	}
	obj, err := toObject(value)
	if err != nil {
		return value, err
	}
	for k, v := range fields {
		obj[k] = v
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return value, err
	}
	var out T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		if strings.HasPrefix(err.Error(), "json: unknown field") {
			return value, fmt.Errorf("%w: %v", ErrUnknownField, err)
		}
		return value, fmt.Errorf("apply patch: %w", err)
	}
	return out, nil
}
