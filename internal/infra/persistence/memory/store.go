// Package memory provides an in-memory implementation of the document store
// used by the reference backend, tests and ephemeral environments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"poolcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Document aliases domain.Document for in-memory persistence operations.
	Document = domain.Document
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing a committed transaction.
	Result = domain.Result
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// ErrDuplicateID is returned when a create reuses an existing id.
var ErrDuplicateID = errors.New("memory store: duplicate id")

type bucket map[string]Document

type memoryState struct {
	buckets  map[domain.Kind]bucket
	revision uint64
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Buckets  map[domain.Kind]map[string]Document `json:"buckets"`
	Revision uint64                              `json:"revision"`
}

func newMemoryState() memoryState {
	state := memoryState{buckets: make(map[domain.Kind]bucket, len(domain.Kinds()))}
	for _, kind := range domain.Kinds() {
		state.buckets[kind] = bucket{}
	}
	return state
}

func (s memoryState) clone() memoryState {
	out := memoryState{buckets: make(map[domain.Kind]bucket, len(s.buckets)), revision: s.revision}
	for kind, docs := range s.buckets {
		cp := make(bucket, len(docs))
		for id, doc := range docs {
			cp[id] = doc.Clone()
		}
		out.buckets[kind] = cp
	}
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	cloned := state.clone()
	s := Snapshot{Buckets: make(map[domain.Kind]map[string]Document, len(cloned.buckets)), Revision: cloned.revision}
	for kind, docs := range cloned.buckets {
		s.Buckets[kind] = docs
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	state.revision = s.Revision
	for kind, docs := range s.Buckets {
		for id, doc := range docs {
			state.buckets[kind][id] = doc.Clone()
		}
	}
	return state
}

// migrateSnapshot normalises persisted snapshots: unknown kinds are dropped,
// ids and kinds are re-derived from the bucket keys, and records whose
// parent no longer exists are removed.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	out := Snapshot{Buckets: make(map[domain.Kind]map[string]Document, len(domain.Kinds())), Revision: snapshot.Revision}
	for _, kind := range domain.Kinds() {
		docs := make(map[string]Document, len(snapshot.Buckets[kind]))
		for id, doc := range snapshot.Buckets[kind] {
			if id == "" {
				continue
			}
			doc.ID = id
			doc.Kind = kind
			if doc.Fields == nil {
				doc.Fields = domain.Fields{}
			}
			docs[id] = doc
		}
		out.Buckets[kind] = docs
	}
	// Kinds() lists parents before children so orphan removal cascades.
	for _, kind := range domain.Kinds() {
		parentKind, ok := domain.ParentKind(kind)
		if !ok {
			for id, doc := range out.Buckets[kind] {
				doc.ParentID = ""
				out.Buckets[kind][id] = doc
			}
			continue
		}
		parents := out.Buckets[parentKind]
		for id, doc := range out.Buckets[kind] {
			if _, exists := parents[doc.ParentID]; !exists {
				delete(out.Buckets[kind], id)
			}
		}
	}
	return out
}

// Option configures a Store.
type Option func(*Store)

// WithNowFunc overrides the clock used for timestamps.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithIDFunc overrides server id generation.
func WithIDFunc(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.idFn = newID
		}
	}
}

// Store provides an in-memory transactional document store.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	nowFn func() time.Time
	idFn  func() string
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newMemoryState(),
		nowFn: func() time.Time { return time.Now().UTC() },
		idFn:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// Revision returns the number of committed transactions that changed state.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.revision
}

// Get returns a single document outside of a transaction.
func (s *Store) Get(kind domain.Kind, id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findDocument(&s.state, kind, id)
}

// List returns the documents of kind under parentID in display order.
func (s *Store) List(kind domain.Kind, parentID string) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDocuments(&s.state, kind, parentID)
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the live state only when fn succeeds.
func (s *Store) RunInTransaction(_ context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	if err := fn(tx); err != nil {
		return Result{}, err
	}
	if len(tx.changes) > 0 {
		tx.state.revision++
	}
	s.state = tx.state
	return Result{Changes: tx.changes, Revision: s.state.revision}, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(transactionView{state: &snapshot})
}

type transactionView struct {
	state *memoryState
}

func (v transactionView) Find(kind domain.Kind, id string) (Document, bool) {
	return findDocument(v.state, kind, id)
}

func (v transactionView) List(kind domain.Kind, parentID string) []Document {
	return listDocuments(v.state, kind, parentID)
}

func findDocument(state *memoryState, kind domain.Kind, id string) (Document, bool) {
	doc, ok := state.buckets[kind][id]
	if !ok {
		return Document{}, false
	}
	return doc.Clone(), true
}

func listDocuments(state *memoryState, kind domain.Kind, parentID string) []Document {
	docs := state.buckets[kind]
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if doc.ParentID == parentID {
			out = append(out, doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// transaction represents a mutation set applied to a cloned store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return transactionView{state: &tx.state}
}

func (tx *transaction) Find(kind domain.Kind, id string) (Document, bool) {
	return findDocument(&tx.state, kind, id)
}

func (tx *transaction) List(kind domain.Kind, parentID string) []Document {
	return listDocuments(&tx.state, kind, parentID)
}

// Create inserts doc, assigning an id when none is set. Non-group records
// must reference an existing parent.
func (tx *transaction) Create(doc Document) (Document, error) {
	docs, ok := tx.state.buckets[doc.Kind]
	if !ok {
		return Document{}, fmt.Errorf("unknown kind %q", doc.Kind)
	}
	if parentKind, hasParent := domain.ParentKind(doc.Kind); hasParent {
		if _, exists := tx.state.buckets[parentKind][doc.ParentID]; !exists {
			return Document{}, domain.ErrNotFound{Kind: parentKind, ID: doc.ParentID}
		}
	} else {
		doc.ParentID = ""
	}
	if doc.ID == "" {
		doc.ID = tx.store.idFn()
	}
	if _, exists := docs[doc.ID]; exists {
		return Document{}, fmt.Errorf("%w: %s %s", ErrDuplicateID, doc.Kind, doc.ID)
	}
	doc = doc.Clone()
	if doc.Fields == nil {
		doc.Fields = domain.Fields{}
	}
	doc.CreatedAt = tx.now
	doc.UpdatedAt = tx.now
	docs[doc.ID] = doc
	tx.recordChange(Change{
		Kind:   doc.Kind,
		Action: domain.ActionCreate,
		ID:     doc.ID,
		After:  domain.PayloadOf(doc),
	})
	return doc.Clone(), nil
}

// Update applies mutator to a copy of the document. Identity, parent and
// creation time cannot be changed by the mutator.
func (tx *transaction) Update(kind domain.Kind, id string, mutator func(*Document) error) (Document, error) {
	current, ok := tx.state.buckets[kind][id]
	if !ok {
		return Document{}, domain.ErrNotFound{Kind: kind, ID: id}
	}
	before := current.Clone()
	updated := current.Clone()
	if err := mutator(&updated); err != nil {
		return Document{}, err
	}
	updated.ID = before.ID
	updated.Kind = before.Kind
	updated.ParentID = before.ParentID
	updated.CreatedAt = before.CreatedAt
	updated.UpdatedAt = tx.now
	if updated.Fields == nil {
		updated.Fields = domain.Fields{}
	}
	tx.state.buckets[kind][id] = updated
	tx.recordChange(Change{
		Kind:   kind,
		Action: domain.ActionUpdate,
		ID:     id,
		Before: domain.PayloadOf(before),
		After:  domain.PayloadOf(updated),
	})
	return updated.Clone(), nil
}

// Delete removes the document and, recursively, every record it parents.
func (tx *transaction) Delete(kind domain.Kind, id string) error {
	current, ok := tx.state.buckets[kind][id]
	if !ok {
		return domain.ErrNotFound{Kind: kind, ID: id}
	}
	if childKind, hasChildren := domain.ChildKind(kind); hasChildren {
		for _, child := range listDocuments(&tx.state, childKind, id) {
			if err := tx.Delete(childKind, child.ID); err != nil {
				return err
			}
		}
	}
	delete(tx.state.buckets[kind], id)
	tx.recordChange(Change{
		Kind:   kind,
		Action: domain.ActionDelete,
		ID:     id,
		Before: domain.PayloadOf(current),
	})
	return nil
}
