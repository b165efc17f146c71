package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"poolcore/internal/infra/persistence/postgres/testutil"
	"poolcore/pkg/domain"
)

func openStub(t *testing.T) (*sql.DB, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	return db, conn
}

func TestNewStoreCreatesStateTable(t *testing.T) {
	_, conn := openStub(t)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if store.DB() == nil {
		t.Fatalf("expected db handle")
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got %v", conn.Execs)
	}
}

func TestRunInTransactionPersistsAndReloads(t *testing.T) {
	db, conn := openStub(t)
	store, err := NewStore(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var groupID string
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		group, err := tx.Create(domain.Document{Kind: domain.KindSelectorGroups, Fields: domain.Fields{"name": "Equipment"}})
		if err != nil {
			return err
		}
		groupID = group.ID
		sel, err := tx.Create(domain.Document{Kind: domain.KindSelectors, ParentID: group.ID, Fields: domain.Fields{"question": "Pump running?"}})
		if err != nil {
			return err
		}
		_, err = tx.Create(domain.Document{Kind: domain.KindSelectorOptions, ParentID: sel.ID, Fields: domain.Fields{"label": "Yes"}})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if len(conn.Buckets[string(domain.KindSelectors)]) == 0 {
		t.Fatalf("expected selectors bucket persisted")
	}
	if string(conn.Buckets["revision"]) != "1" {
		t.Fatalf("expected revision bucket, got %q", conn.Buckets["revision"])
	}

	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	reloaded, err := NewStore(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	selectors := reloaded.List(domain.KindSelectors, groupID)
	if len(selectors) != 1 {
		t.Fatalf("expected selector restored, got %d", len(selectors))
	}
	if len(reloaded.List(domain.KindSelectorOptions, selectors[0].ID)) != 1 {
		t.Fatalf("expected option restored")
	}
}

func TestRunInTransactionSurfacesPersistFailure(t *testing.T) {
	_, conn := openStub(t)
	store, err := NewStore(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailCommit = true
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.Create(domain.Document{Kind: domain.KindPhotoGroups, Fields: domain.Fields{"name": "Before"}})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit failure, got %v", err)
	}
}

func TestNewStoreErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("dial") })
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatalf("expected open error")
	}
	restore()

	_, conn := openStub(t)
	conn.FailPing = true
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatalf("expected ping error")
	}
	conn.FailPing = false
	conn.FailQuery = true
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatalf("expected select error")
	}
}
