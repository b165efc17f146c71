// Package export writes template snapshots of definition collections to
// blob storage so they can be shared or re-imported elsewhere.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"poolcore/internal/blob/core"
	svc "poolcore/internal/core"
	"poolcore/pkg/domain"
)

const (
	contentType = "application/json"
	rootSegment = "root"
	keyPrefix   = "templates"
)

// Node is one exported record with its descendants.
type Node struct {
	ID       string        `json:"id"`
	Kind     domain.Kind   `json:"kind"`
	Order    int           `json:"order"`
	Fields   domain.Fields `json:"fields"`
	Children []Node        `json:"children,omitempty"`
}

// Template is the document stored for an export.
type Template struct {
	Kind       domain.Kind `json:"kind"`
	ParentID   string      `json:"parentId,omitempty"`
	Revision   uint64      `json:"revision"`
	ExportedAt time.Time   `json:"exportedAt"`
	Items      []Node      `json:"items"`
}

// Artifact describes a stored template.
type Artifact struct {
	ID          string      `json:"id"`
	Kind        domain.Kind `json:"kind"`
	ParentID    string      `json:"parentId,omitempty"`
	Key         string      `json:"key"`
	ContentType string      `json:"contentType"`
	SizeBytes   int64       `json:"sizeBytes"`
	Records     int         `json:"records"`
	URL         string      `json:"url,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNowFunc overrides the export timestamp source.
func WithNowFunc(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDFunc overrides artifact id generation.
func WithIDFunc(fn func() string) Option {
	return func(e *Exporter) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithURLExpiry sets how long presigned links stay valid.
func WithURLExpiry(d time.Duration) Option {
	return func(e *Exporter) { e.expiry = d }
}

// Exporter snapshots collections from a store into blob storage.
type Exporter struct {
	store  domain.PersistentStore
	blobs  core.Store
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
	expiry time.Duration
}

// New constructs an Exporter.
func New(store domain.PersistentStore, blobs core.Store, opts ...Option) *Exporter {
	e := &Exporter{
		store:  store,
		blobs:  blobs,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return ulid.Make().String() },
		expiry: core.DefaultURLExpiry,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prefix returns the blob prefix exports of kind under parentID share.
func Prefix(kind domain.Kind, parentID string) string {
	if parentID == "" {
		parentID = rootSegment
	}
	return path.Join(keyPrefix, string(kind), parentID) + "/"
}

// Export snapshots the kind collection under parentID, including every
// descendant record, and stores it as JSON. The artifact URL is empty when
// the blob driver cannot presign.
func (e *Exporter) Export(ctx context.Context, kind domain.Kind, parentID string) (Artifact, error) {
	tpl := Template{Kind: kind, ParentID: parentID, ExportedAt: e.now()}
	var records int
	err := e.store.View(ctx, func(view domain.TransactionView) error {
		if err := svc.CheckParent(view, kind, parentID); err != nil {
			return err
		}
		tpl.Items, records = collect(view, kind, parentID)
		return nil
	})
	if err != nil {
		return Artifact{}, err
	}
	tpl.Revision = e.store.Revision()
	payload, err := json.MarshalIndent(tpl, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("encode template: %w", err)
	}

	id := e.newID()
	key := Prefix(kind, parentID) + id + ".json"
	info, err := e.blobs.Put(ctx, key, bytes.NewReader(payload), core.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"kind":     string(kind),
			"parent":   parentID,
			"records":  fmt.Sprint(records),
			"revision": fmt.Sprint(tpl.Revision),
		},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store template: %w", err)
	}
	artifact := Artifact{
		ID:          id,
		Kind:        kind,
		ParentID:    parentID,
		Key:         info.Key,
		ContentType: contentType,
		SizeBytes:   info.Size,
		Records:     records,
		URL:         info.URL,
		CreatedAt:   tpl.ExportedAt,
	}
	url, err := e.blobs.PresignURL(ctx, info.Key, core.SignedURLOptions{Expiry: e.expiry})
	switch {
	case err == nil:
		artifact.URL = url
	case errors.Is(err, core.ErrUnsupported):
	default:
		e.logger.Warn("presign template failed", zap.String("key", info.Key), zap.Error(err))
	}
	e.logger.Info("template exported",
		zap.String("kind", string(kind)),
		zap.String("parent_id", parentID),
		zap.String("key", info.Key),
		zap.Int("records", records),
		zap.Uint64("revision", tpl.Revision))
	return artifact, nil
}

// Load reads a stored template back.
func (e *Exporter) Load(ctx context.Context, key string) (Template, error) {
	_, rc, err := e.blobs.Get(ctx, key)
	if err != nil {
		return Template{}, err
	}
	defer func() { _ = rc.Close() }()
	var tpl Template
	if err := json.NewDecoder(rc).Decode(&tpl); err != nil {
		return Template{}, fmt.Errorf("decode template %s: %w", key, err)
	}
	return tpl, nil
}

// List returns the stored exports of kind under parentID, oldest first.
func (e *Exporter) List(ctx context.Context, kind domain.Kind, parentID string) ([]core.Info, error) {
	return e.blobs.List(ctx, Prefix(kind, parentID))
}

// collect builds nodes for kind under parentID and counts every record visited.
func collect(view domain.TransactionView, kind domain.Kind, parentID string) ([]Node, int) {
	docs := view.List(kind, parentID)
	nodes := make([]Node, 0, len(docs))
	count := len(docs)
	child, hasChild := domain.ChildKind(kind)
	for _, doc := range docs {
		node := Node{ID: doc.ID, Kind: kind, Order: doc.Order, Fields: doc.Fields}
		if hasChild {
			var n int
			node.Children, n = collect(view, child, doc.ID)
			count += n
		}
		nodes = append(nodes, node)
	}
	return nodes, count
}
