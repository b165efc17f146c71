package testutil

import (
	"context"
	"testing"
)

func TestStubDBUpsertsAndSelectsBuckets(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	t.Cleanup(func() { _ = db.Close() })

	for _, payload := range []string{`{"a":1}`, `{"a":2}`} {
		if _, err := db.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2)`, "consumables", []byte(payload)); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if string(conn.Buckets["consumables"]) != `{"a":2}` {
		t.Fatalf("expected upsert, got %s", conn.Buckets["consumables"])
	}

	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	count := 0
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			t.Fatalf("scan: %v", err)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected one row, got %d", count)
	}
}

func TestStubDBFailureToggles(t *testing.T) {
	db, conn := NewStubDB()
	t.Cleanup(func() { _ = db.Close() })
	conn.FailPing = true
	if err := db.PingContext(context.Background()); err == nil {
		t.Fatalf("expected ping failure")
	}
	conn.FailPing = false
	conn.FailExec = true
	if _, err := db.ExecContext(context.Background(), "CREATE TABLE x (a INT)"); err == nil {
		t.Fatalf("expected exec failure")
	}
}
