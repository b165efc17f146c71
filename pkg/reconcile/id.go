// Package reconcile implements the optimistic edit buffer used by every
// definition manager: a local mirror of a server collection, the pending
// change set recorded against it, the conflict optimizer that reduces the
// pending set to a minimal batch, and the editor that submits that batch.
package reconcile

import (
	"encoding/json"
	"strings"

	"github.com/oklog/ulid/v2"
)

// provisionalPrefix is only used when rendering provisional ids for display.
const provisionalPrefix = "temp-"

// ID identifies an item either by its server-issued id or by a client-issued
// draft id. The two are never compared to each other.
type ID struct {
	value       string
	provisional bool
}

// Persisted wraps an id issued by the server.
func Persisted(id string) ID { return ID{value: id} }

// Provisional wraps a client-issued draft id.
func Provisional(draftID string) ID { return ID{value: draftID, provisional: true} }

// NewProvisional issues a fresh draft id. ULIDs are time ordered and
// monotonic within the process.
func NewProvisional() ID { return Provisional(ulid.Make().String()) }

// IsProvisional reports whether the item has not been acknowledged by the server.
func (id ID) IsProvisional() bool { return id.provisional }

// IsZero reports whether the id was never assigned.
func (id ID) IsZero() bool { return id.value == "" }

// Value returns the raw server or draft id.
func (id ID) Value() string { return id.value }

// String renders the id for display; provisional ids carry the temp- prefix.
func (id ID) String() string {
	if id.provisional {
		return provisionalPrefix + id.value
	}
	return id.value
}

// MarshalJSON renders the display form.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON always yields a persisted id: only the server issues ids that
// travel over the wire.
func (id *ID) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*id = Persisted(strings.TrimSpace(raw))
	return nil
}

// Equal reports whether both ids name the same item.
func (id ID) Equal(other ID) bool { return id == other }
