package definitions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"poolcore/internal/client"
	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

func TestTypedManagersAreNamedByKind(t *testing.T) {
	c := newTestClient(t)
	assert.Equal(t, "consumables", NewConsumableManager(client.Collection[domain.ConsumableDefinition](c, domain.KindConsumables)).Name())
	assert.Equal(t, "readings", NewReadingManager(client.Collection[domain.ReadingDefinition](c, domain.KindReadings)).Name())
	assert.Equal(t, "photos", NewPhotoManager(client.Collection[domain.PhotoDefinition](c, domain.KindPhotos)).Name())
	assert.Equal(t, "selectors", NewSelectorManager(client.Collection[domain.SelectorDefinition](c, domain.KindSelectors)).Name())
	assert.Equal(t, "consumable-groups", NewConsumableGroupManager(client.Collection[domain.ConsumableGroup](c, domain.KindConsumableGroups)).Name())
	assert.Equal(t, "reading-groups", NewReadingGroupManager(client.Collection[domain.ReadingGroup](c, domain.KindReadingGroups)).Name())
	assert.Equal(t, "photo-groups", NewPhotoGroupManager(client.Collection[domain.PhotoGroup](c, domain.KindPhotoGroups)).Name())
	assert.Equal(t, "renamed", NewSelectorGroupListManager(
		client.Collection[domain.SelectorGroup](c, domain.KindSelectorGroups),
		reconcile.WithName("renamed"),
	).Name())
}

func TestConsumableManagerRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	groups := NewConsumableGroupManager(client.Collection[domain.ConsumableGroup](c, domain.KindConsumableGroups))
	require.NoError(t, groups.Load(ctx, ""))
	_, err := groups.Create(domain.ConsumableGroup{Name: "Chemicals"})
	require.NoError(t, err)
	_, err = groups.Submit(ctx, reconcile.Confirmed)
	require.NoError(t, err)
	groupID := groups.Items()[0].ID.Value()

	observed, logs := observer.New(zap.InfoLevel)
	m := NewConsumableManager(client.Collection[domain.ConsumableDefinition](c, domain.KindConsumables), reconcile.WithLogger(zap.New(observed)))
	require.NoError(t, m.Load(ctx, groupID))
	chlorine, err := m.Create(domain.ConsumableDefinition{Name: "Chlorine", Unit: "gal"})
	require.NoError(t, err)
	_, err = m.Create(domain.ConsumableDefinition{Name: "Acid", Unit: "gal"})
	require.NoError(t, err)
	require.NoError(t, m.Update(chlorine, reconcile.FieldPatch(map[string]any{"price": 4.5})))
	require.NoError(t, m.Reorder(1, 0))

	batch, err := m.Submit(ctx, reconcile.Confirmed)
	require.NoError(t, err)
	assert.Len(t, batch.Creates, 2)
	assert.Empty(t, batch.Updates)

	items := m.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "Acid", items[0].Fields.Name)
	assert.Equal(t, 4.5, items[1].Fields.Price)
	entries := logs.FilterMessage("batch saved").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "consumables", entries[0].ContextMap()["collection"])
}

func TestFieldsManagerStripsReservedKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := NewFieldsManager(c, "organisms")
	require.Error(t, err)

	groups, err := NewFieldsManager(c, domain.KindPhotoGroups)
	require.NoError(t, err)
	assert.Equal(t, "photo-groups", groups.Name())
	require.NoError(t, groups.Load(ctx, ""))
	_, err = groups.Create(domain.Fields{"name": "Deck"})
	require.NoError(t, err)
	_, err = groups.Submit(ctx, reconcile.Confirmed)
	require.NoError(t, err)

	items := groups.Items()
	require.Len(t, items, 1)
	assert.Equal(t, domain.Fields{"name": "Deck"}, items[0].Fields)

	require.NoError(t, groups.Load(ctx, ""))
	assert.Equal(t, domain.Fields{"name": "Deck"}, groups.Items()[0].Fields)
}
