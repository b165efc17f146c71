package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"poolcore/pkg/domain"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestStore() *Store {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewStore(WithNowFunc(func() time.Time { return fixed }), WithIDFunc(sequentialIDs()))
}

func seedGroup(t *testing.T, store *Store) string {
	t.Helper()
	var groupID string
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		group, err := tx.Create(Document{Kind: domain.KindConsumableGroups, Fields: domain.Fields{"name": "Chemicals"}})
		if err != nil {
			return err
		}
		groupID = group.ID
		for i, name := range []string{"Chlorine", "Acid"} {
			if _, err := tx.Create(Document{
				Kind:     domain.KindConsumables,
				ParentID: group.ID,
				Order:    i,
				Fields:   domain.Fields{"name": name, "unit": "gal"},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return groupID
}

func TestStoreRunInTransactionCommitsAndCountsRevisions(t *testing.T) {
	store := newTestStore()
	groupID := seedGroup(t, store)

	if store.Revision() != 1 {
		t.Fatalf("expected revision 1, got %d", store.Revision())
	}
	docs := store.List(domain.KindConsumables, groupID)
	if len(docs) != 2 {
		t.Fatalf("expected 2 consumables, got %d", len(docs))
	}
	if docs[0].Fields["name"] != "Chlorine" || docs[1].Order != 1 {
		t.Fatalf("unexpected ordering: %+v", docs)
	}
	if docs[0].CreatedAt.IsZero() || docs[0].ParentID != groupID {
		t.Fatalf("expected timestamps and parent to be set: %+v", docs[0])
	}

	res, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil })
	if err != nil {
		t.Fatalf("empty transaction: %v", err)
	}
	if res.Revision != 1 || len(res.Changes) != 0 {
		t.Fatalf("empty transaction must not bump revision: %+v", res)
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	store := newTestStore()
	groupID := seedGroup(t, store)
	boom := errors.New("boom")

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if err := tx.Delete(domain.KindConsumableGroups, groupID); err != nil {
			return err
		}
		if len(tx.List(domain.KindConsumables, groupID)) != 0 {
			t.Fatalf("expected cascade inside the transaction")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(store.List(domain.KindConsumables, groupID)) != 2 {
		t.Fatalf("expected rollback to keep consumables")
	}
	if store.Revision() != 1 {
		t.Fatalf("rollback must not bump revision")
	}
}

func TestStoreDeleteCascadesAndRecordsChanges(t *testing.T) {
	store := newTestStore()
	groupID := seedGroup(t, store)

	res, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		return tx.Delete(domain.KindConsumableGroups, groupID)
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.Changes) != 3 {
		t.Fatalf("expected group plus two children deleted, got %d changes", len(res.Changes))
	}
	for _, change := range res.Changes {
		if change.Action != domain.ActionDelete || !change.Before.Defined() || change.After.Defined() {
			t.Fatalf("unexpected change: %+v", change)
		}
	}
	if _, ok := store.Get(domain.KindConsumableGroups, groupID); ok {
		t.Fatalf("expected group removed")
	}
}

func TestStoreCreateRequiresParent(t *testing.T) {
	store := newTestStore()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Create(Document{Kind: domain.KindReadings, ParentID: "missing", Fields: domain.Fields{"name": "pH"}})
		return err
	})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) || nf.Kind != domain.KindReadingGroups {
		t.Fatalf("expected missing reading group, got %v", err)
	}
}

func TestStoreCreateRejectsDuplicateAndUnknownKind(t *testing.T) {
	store := newTestStore()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.Create(Document{ID: "g", Kind: domain.KindPhotoGroups}); err != nil {
			return err
		}
		_, err := tx.Create(Document{ID: "g", Kind: domain.KindPhotoGroups})
		return err
	})
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Create(Document{Kind: "organisms"})
		return err
	})
	if err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestStoreUpdateKeepsIdentity(t *testing.T) {
	store := newTestStore()
	groupID := seedGroup(t, store)
	target := store.List(domain.KindConsumables, groupID)[0]

	res, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Update(domain.KindConsumables, target.ID, func(doc *Document) error {
			doc.ID = "hijack"
			doc.ParentID = "elsewhere"
			doc.Order = 5
			doc.Fields["price"] = 4.5
			return nil
		})
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, ok := store.Get(domain.KindConsumables, target.ID)
	if !ok {
		t.Fatalf("expected document under original id")
	}
	if got.ParentID != groupID || got.Order != 5 || got.Fields["price"] != 4.5 {
		t.Fatalf("unexpected update result: %+v", got)
	}
	if len(res.Changes) != 1 || res.Changes[0].Action != domain.ActionUpdate || res.Structural() {
		t.Fatalf("expected one non-structural update change: %+v", res.Changes)
	}

	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Update(domain.KindConsumables, "missing", func(*Document) error { return nil })
		return err
	})
	var nf domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreGetReturnsCopies(t *testing.T) {
	store := newTestStore()
	groupID := seedGroup(t, store)
	doc := store.List(domain.KindConsumables, groupID)[0]
	doc.Fields["name"] = "mutated"
	again, _ := store.Get(domain.KindConsumables, doc.ID)
	if again.Fields["name"] == "mutated" {
		t.Fatalf("store must not leak internal maps")
	}
}

func TestStoreExportImportMigratesOrphans(t *testing.T) {
	store := newTestStore()
	groupID := seedGroup(t, store)
	snapshot := store.ExportState()
	snapshot.Buckets[domain.KindConsumables]["orphan"] = Document{ParentID: "nope", Fields: domain.Fields{"name": "Lost"}}
	snapshot.Buckets["organisms"] = map[string]Document{"x": {}}

	restored := NewStore()
	restored.ImportState(snapshot)
	if restored.Revision() != store.Revision() {
		t.Fatalf("expected revision carried over")
	}
	if _, ok := restored.Get(domain.KindConsumables, "orphan"); ok {
		t.Fatalf("expected orphan dropped")
	}
	if len(restored.List(domain.KindConsumables, groupID)) != 2 {
		t.Fatalf("expected consumables restored")
	}
	err := restored.View(context.Background(), func(view domain.TransactionView) error {
		if _, ok := view.Find(domain.KindConsumableGroups, groupID); !ok {
			t.Fatalf("expected group visible in view")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
