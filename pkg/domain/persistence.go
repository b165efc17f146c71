package domain

import "context"

// Transaction exposes the document operations that a persistence
// implementation must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	Create(doc Document) (Document, error)
	Update(kind Kind, id string, mutator func(*Document) error) (Document, error)
	Delete(kind Kind, id string) error
	Find(kind Kind, id string) (Document, bool)
	List(kind Kind, parentID string) []Document
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	Find(kind Kind, id string) (Document, bool)
	List(kind Kind, parentID string) []Document
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Get(kind Kind, id string) (Document, bool)
	List(kind Kind, parentID string) []Document
	Revision() uint64
}
