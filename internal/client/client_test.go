package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobmem "poolcore/internal/blob/memory"
	"poolcore/internal/core"
	"poolcore/internal/export"
	"poolcore/internal/httpapi"
	"poolcore/pkg/api"
	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	svc := core.NewInMemoryService()
	srv := httptest.NewServer(httpapi.New(svc, httpapi.WithExporter(export.New(svc.Store(), blobmem.New()))).Handler())
	transport := &http.Transport{}
	t.Cleanup(func() {
		transport.CloseIdleConnections()
		srv.Close()
	})
	c, err := New(srv.URL, WithHTTPClient(&http.Client{Transport: transport}))
	require.NoError(t, err)
	return c
}

func TestEditorsRoundTripThroughHTTP(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	groups := reconcile.NewEditor[domain.ReadingGroup](Collection[domain.ReadingGroup](c, domain.KindReadingGroups), domain.ReadingGroup.NaturalKey)
	require.NoError(t, groups.Load(ctx, ""))
	_, err := groups.Create(domain.ReadingGroup{Name: "Water"})
	require.NoError(t, err)
	_, err = groups.Submit(ctx, reconcile.Confirmed)
	require.NoError(t, err)
	items := groups.Items()
	require.Len(t, items, 1)
	require.False(t, items[0].ID.IsProvisional())
	groupID := items[0].ID.Value()

	readings := reconcile.NewEditor[domain.ReadingDefinition](Collection[domain.ReadingDefinition](c, domain.KindReadings), domain.ReadingDefinition.NaturalKey)
	require.NoError(t, readings.Load(ctx, groupID))
	_, err = readings.Create(domain.ReadingDefinition{Name: "pH", Unit: "pH"})
	require.NoError(t, err)
	_, err = readings.Create(domain.ReadingDefinition{Name: "Free chlorine", Unit: "ppm"})
	require.NoError(t, err)
	batch, err := readings.Submit(ctx, reconcile.Confirmed)
	require.NoError(t, err)
	assert.Len(t, batch.Creates, 2)
	assert.False(t, readings.HasPendingChanges())

	fresh, err := Collection[domain.ReadingDefinition](c, domain.KindReadings).Fetch(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.Equal(t, "pH", fresh[0].Fields.Name)
	assert.Equal(t, groupID, fresh[0].ParentID)
}

func TestStatusErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := Collection[domain.PhotoDefinition](c, domain.KindPhotos).Fetch(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "photo-groups")

	_, err = Collection[domain.PhotoGroup](c, domain.KindPhotoGroups).SubmitBatch(ctx, "", reconcile.Batch[domain.PhotoGroup]{
		Updates: []reconcile.UpdateRecord{{ID: "ghost", Patch: reconcile.FieldPatch(map[string]any{"name": "x"})}},
	})
	assert.True(t, IsNotFound(err))

	plain := &StatusError{StatusCode: http.StatusBadGateway, Body: "upstream down\n"}
	assert.Equal(t, "server returned 502: upstream down", plain.Error())
	assert.False(t, IsNotFound(plain))
}

func TestSelectorGroupClient(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	created, err := Collection[domain.SelectorGroup](c, domain.KindSelectorGroups).SubmitBatch(ctx, "", reconcile.Batch[domain.SelectorGroup]{
		Creates: []reconcile.CreateRecord[domain.SelectorGroup]{{Fields: domain.SelectorGroup{Name: "Equipment"}}},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	groupID := created[0].ID.Value()

	groups := SelectorGroups(c)
	tree, err := groups.SubmitBatch(ctx, groupID, api.SelectorGroupBatch{
		Definitions: &reconcile.Batch[domain.SelectorDefinition]{
			Creates: []reconcile.CreateRecord[domain.SelectorDefinition]{{Fields: domain.SelectorDefinition{
				Question: "Filter clean?",
				Options:  []domain.SelectorOption{{Label: "Yes"}, {Label: "No"}},
			}}},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, tree)
	require.Len(t, tree.Definitions, 1)
	defID := tree.Definitions[0].ID.Value()
	assert.Len(t, tree.Options[defID], 2)

	fetched, err := groups.Tree(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, "Equipment", fetched.Group.Fields.Name)

	artifact, err := c.Export(ctx, domain.KindSelectors, groupID)
	require.NoError(t, err)
	assert.Equal(t, 3, artifact.Records)

	tree, err = groups.SubmitBatch(ctx, groupID, api.SelectorGroupBatch{DeleteGroup: true})
	require.NoError(t, err)
	assert.Nil(t, tree)
	_, err = groups.Tree(ctx, groupID)
	assert.True(t, IsNotFound(err))
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("/api")
	assert.Error(t, err)
	_, err = New("http://[::1")
	assert.Error(t, err)
}
