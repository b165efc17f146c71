package domain

import "encoding/json"

// ChangePayload wraps a JSON snapshot of a document's before/after state.
// Callers should unmarshal the raw bytes into typed structures as needed.
type ChangePayload struct {
	defined bool
	raw     json.RawMessage
}

// NewChangePayload builds a payload wrapper from raw JSON. The bytes are cloned
// so callers cannot mutate the audit trail.
func NewChangePayload(raw json.RawMessage) ChangePayload {
	payload := ChangePayload{defined: true}
	if raw != nil {
		payload.raw = cloneRawMessage(raw)
	}
	return payload
}

// PayloadOf snapshots a document into a payload; marshal failures yield an
// undefined payload since Document always encodes.
func PayloadOf(doc Document) ChangePayload {
	raw, err := json.Marshal(doc)
	if err != nil {
		return ChangePayload{}
	}
	return ChangePayload{defined: true, raw: raw}
}

// Defined reports whether the payload has been initialized.
func (p ChangePayload) Defined() bool {
	return p.defined
}

// Raw returns a cloned copy of the underlying JSON bytes.
func (p ChangePayload) Raw() json.RawMessage {
	if !p.defined || len(p.raw) == 0 {
		return nil
	}
	return cloneRawMessage(p.raw)
}

// Document decodes the payload back into a document.
func (p ChangePayload) Document() (Document, bool) {
	if !p.defined || len(p.raw) == 0 {
		return Document{}, false
	}
	var doc Document
	if err := json.Unmarshal(p.raw, &doc); err != nil {
		return Document{}, false
	}
	return doc, true
}

// MarshalJSON emits the wrapped snapshot, or null when undefined.
func (p ChangePayload) MarshalJSON() ([]byte, error) {
	if !p.defined || len(p.raw) == 0 {
		return []byte("null"), nil
	}
	return cloneRawMessage(p.raw), nil
}

// UnmarshalJSON restores a payload; null stays undefined.
func (p *ChangePayload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = ChangePayload{}
		return nil
	}
	*p = NewChangePayload(data)
	return nil
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cloned := make(json.RawMessage, len(raw))
	copy(cloned, raw)
	return cloned
}
