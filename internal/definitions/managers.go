// Package definitions wires the generic edit buffer to each template
// collection: one editor per kind, plus a selector group manager that saves
// a group, its questions and their options in one request.
package definitions

import (
	"context"
	"fmt"

	"poolcore/internal/client"
	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

// NewConsumableManager edits the consumables of one consumable group.
func NewConsumableManager(backend reconcile.Backend[domain.ConsumableDefinition], opts ...reconcile.Option) *reconcile.Editor[domain.ConsumableDefinition] {
	return reconcile.NewEditor(backend, domain.ConsumableDefinition.NaturalKey, named(domain.KindConsumables, opts)...)
}

// NewReadingManager edits the readings of one reading group.
func NewReadingManager(backend reconcile.Backend[domain.ReadingDefinition], opts ...reconcile.Option) *reconcile.Editor[domain.ReadingDefinition] {
	return reconcile.NewEditor(backend, domain.ReadingDefinition.NaturalKey, named(domain.KindReadings, opts)...)
}

// NewPhotoManager edits the photo requirements of one photo group.
func NewPhotoManager(backend reconcile.Backend[domain.PhotoDefinition], opts ...reconcile.Option) *reconcile.Editor[domain.PhotoDefinition] {
	return reconcile.NewEditor(backend, domain.PhotoDefinition.NaturalKey, named(domain.KindPhotos, opts)...)
}

// NewSelectorManager edits the questions of one selector group without
// their options. Use SelectorGroupManager to edit both together.
func NewSelectorManager(backend reconcile.Backend[domain.SelectorDefinition], opts ...reconcile.Option) *reconcile.Editor[domain.SelectorDefinition] {
	return reconcile.NewEditor(backend, domain.SelectorDefinition.NaturalKey, named(domain.KindSelectors, opts)...)
}

// NewConsumableGroupManager edits the consumable group list.
func NewConsumableGroupManager(backend reconcile.Backend[domain.ConsumableGroup], opts ...reconcile.Option) *reconcile.Editor[domain.ConsumableGroup] {
	return reconcile.NewEditor(backend, domain.ConsumableGroup.NaturalKey, named(domain.KindConsumableGroups, opts)...)
}

// NewReadingGroupManager edits the reading group list.
func NewReadingGroupManager(backend reconcile.Backend[domain.ReadingGroup], opts ...reconcile.Option) *reconcile.Editor[domain.ReadingGroup] {
	return reconcile.NewEditor(backend, domain.ReadingGroup.NaturalKey, named(domain.KindReadingGroups, opts)...)
}

// NewSelectorGroupListManager edits the selector group list.
func NewSelectorGroupListManager(backend reconcile.Backend[domain.SelectorGroup], opts ...reconcile.Option) *reconcile.Editor[domain.SelectorGroup] {
	return reconcile.NewEditor(backend, domain.SelectorGroup.NaturalKey, named(domain.KindSelectorGroups, opts)...)
}

// NewPhotoGroupManager edits the photo group list.
func NewPhotoGroupManager(backend reconcile.Backend[domain.PhotoGroup], opts ...reconcile.Option) *reconcile.Editor[domain.PhotoGroup] {
	return reconcile.NewEditor(backend, domain.PhotoGroup.NaturalKey, named(domain.KindPhotoGroups, opts)...)
}

// NewFieldsManager edits any kind as untyped fields over HTTP. Scripted
// tools use it when the kind is only known at runtime.
func NewFieldsManager(c *client.Client, kind domain.Kind, opts ...reconcile.Option) (*reconcile.Editor[domain.Fields], error) {
	if _, ok := domain.ParseKind(string(kind)); !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	backend := fieldsBackend{inner: client.Collection[domain.Fields](c, kind)}
	return reconcile.NewEditor[domain.Fields](backend, domain.FieldsKey(kind), named(kind, opts)...), nil
}

func named(kind domain.Kind, opts []reconcile.Option) []reconcile.Option {
	return append([]reconcile.Option{reconcile.WithName(string(kind))}, opts...)
}

// fieldsBackend drops the id, order and parentId keys the flat wire form
// leaves inside untyped fields.
type fieldsBackend struct {
	inner reconcile.Backend[domain.Fields]
}

func (b fieldsBackend) Fetch(ctx context.Context, parentID string) ([]reconcile.Item[domain.Fields], error) {
	items, err := b.inner.Fetch(ctx, parentID)
	return stripItems(items), err
}

func (b fieldsBackend) SubmitBatch(ctx context.Context, parentID string, batch reconcile.Batch[domain.Fields]) ([]reconcile.Item[domain.Fields], error) {
	items, err := b.inner.SubmitBatch(ctx, parentID, batch)
	return stripItems(items), err
}

func stripItems(items []reconcile.Item[domain.Fields]) []reconcile.Item[domain.Fields] {
	for i := range items {
		items[i].Fields = items[i].Fields.StripReserved()
	}
	return items
}
