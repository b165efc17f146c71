package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"poolcore/internal/blob/core"
)

func TestMockStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests(0)
	if store.Driver() != core.DriverS3 || store.Bucket() != "mock-bucket" {
		t.Fatalf("unexpected identity %s %s", store.Driver(), store.Bucket())
	}
	key := "templates/selector-groups/g1/tree.json"
	info, err := store.Put(ctx, key, bytes.NewReader([]byte(`{"group":{}}`)), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"kind": "selector-groups"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != key || info.Size != 12 || info.ContentType != "application/json" || info.ETag != "etag-"+key {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Metadata["kind"] != "selector-groups" {
		t.Fatalf("expected metadata round trip, got %+v", info.Metadata)
	}
	if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	_, rc, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"group":{}}` {
		t.Fatalf("unexpected body %q", body)
	}

	existed, err := store.Delete(ctx, key)
	if err != nil || !existed {
		t.Fatalf("delete: %v %v", existed, err)
	}
	existed, err = store.Delete(ctx, key)
	if err != nil || existed {
		t.Fatalf("delete of missing key should report false: %v %v", existed, err)
	}
	if _, err := store.Head(ctx, key); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, key); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestMockStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests(2)
	for _, key := range []string{"t/c.json", "t/a.json", "other/x.json", "t/b.json", "t/d.json"} {
		if _, err := store.Put(ctx, key, strings.NewReader("{}"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "t/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keys []string
	for _, info := range list {
		keys = append(keys, info.Key)
	}
	if strings.Join(keys, ",") != "t/a.json,t/b.json,t/c.json,t/d.json" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if list[0].Size != 2 || list[0].LastModified.Year() != 2024 {
		t.Fatalf("unexpected list info %+v", list[0])
	}
}

func TestPresignURL(t *testing.T) {
	ctx := context.Background()
	store := NewMockForTests(0)
	link, err := store.PresignURL(ctx, "templates/a.json", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(link, "mock-bucket/templates/a.json") || !strings.Contains(link, "X-Amz-Signature") {
		t.Fatalf("unexpected presigned url %q", link)
	}
	if !strings.Contains(link, "X-Amz-Expires=900") {
		t.Fatalf("expected default expiry in %q", link)
	}
	if _, err := store.PresignURL(ctx, "templates/a.json", core.SignedURLOptions{Method: "DELETE"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if _, err := store.PresignURL(ctx, "/abs", core.SignedURLOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	store, err := New(context.Background(), Config{
		Bucket:          "templates",
		Endpoint:        "http://minio.local:9000",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	link, err := store.PresignURL(context.Background(), "a.json", core.SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(link, "http://minio.local:9000/templates/a.json") {
		t.Fatalf("expected path-style endpoint url, got %q", link)
	}
}
