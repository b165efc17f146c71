package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

const fieldOptions = "options"

// ApplyBatch applies a client batch to the collection of kind under parentID
// in a single transaction and returns the resulting collection. Deletes of
// ids that no longer exist are ignored; updates of missing ids fail the whole
// batch.
func (s *Service) ApplyBatch(ctx context.Context, kind domain.Kind, parentID string, batch reconcile.Batch[domain.Fields]) ([]domain.Document, domain.Result, error) {
	var docs []domain.Document
	res, err := s.run(ctx, "apply_batch", func(tx domain.Transaction) error {
		if err := CheckParent(tx, kind, parentID); err != nil {
			return err
		}
		if err := applyBatch(tx, kind, parentID, batch); err != nil {
			return err
		}
		docs = tx.List(kind, parentID)
		return nil
	})
	if err != nil {
		return nil, res, err
	}
	return docs, res, nil
}

// applyBatch runs deletes, then updates, then creates, and finally closes
// any gaps in the display order.
func applyBatch(tx domain.Transaction, kind domain.Kind, parentID string, batch reconcile.Batch[domain.Fields]) error {
	for _, id := range batch.Deletes {
		if err := applyDelete(tx, kind, parentID, id); err != nil {
			return err
		}
	}
	for _, update := range batch.Updates {
		if err := applyUpdate(tx, kind, parentID, update); err != nil {
			return err
		}
	}
	created := make(map[string]bool, len(batch.Creates))
	for _, create := range batch.Creates {
		doc, err := applyCreate(tx, kind, parentID, create.Order, create.Fields)
		if err != nil {
			return err
		}
		created[doc.ID] = true
	}
	return compactOrder(tx, kind, parentID, created)
}

func applyDelete(tx domain.Transaction, kind domain.Kind, parentID, id string) error {
	doc, ok := tx.Find(kind, id)
	if !ok {
		return nil
	}
	if doc.ParentID != parentID {
		return fmt.Errorf("%w: %s %s belongs to %q", ErrInvalidBatch, kind, id, doc.ParentID)
	}
	return tx.Delete(kind, id)
}

func applyUpdate(tx domain.Transaction, kind domain.Kind, parentID string, update reconcile.UpdateRecord) error {
	doc, ok := tx.Find(kind, update.ID)
	if !ok {
		return domain.ErrNotFound{Kind: kind, ID: update.ID}
	}
	if doc.ParentID != parentID {
		return fmt.Errorf("%w: %s %s belongs to %q", ErrInvalidBatch, kind, update.ID, doc.ParentID)
	}
	patch := domain.Fields(update.Patch.Fields).Clone().StripReserved()
	if _, nested := patch[fieldOptions]; nested && kind == domain.KindSelectors {
		return fmt.Errorf("%w: options of a persisted selector are edited through its option collection", ErrInvalidBatch)
	}
	_, err := tx.Update(kind, update.ID, func(d *domain.Document) error {
		for k, v := range patch {
			if v == nil {
				delete(d.Fields, k)
				continue
			}
			d.Fields[k] = v
		}
		if update.Patch.Order != nil {
			d.Order = *update.Patch.Order
		}
		return nil
	})
	return err
}

// applyCreate stores a new record. Selector creates may carry their options
// inline; those become option records in the given order.
func applyCreate(tx domain.Transaction, kind domain.Kind, parentID string, order int, fields domain.Fields) (domain.Document, error) {
	fields = fields.Clone()
	if fields == nil {
		fields = domain.Fields{}
	}
	fields.StripReserved()
	var options []domain.Fields
	if kind == domain.KindSelectors {
		var err error
		if options, err = splitOptions(fields); err != nil {
			return domain.Document{}, err
		}
	}
	doc, err := tx.Create(domain.Document{Kind: kind, ParentID: parentID, Order: order, Fields: fields})
	if err != nil {
		return domain.Document{}, err
	}
	for i, opt := range options {
		if _, err := tx.Create(domain.Document{
			Kind:     domain.KindSelectorOptions,
			ParentID: doc.ID,
			Order:    i,
			Fields:   opt.StripReserved(),
		}); err != nil {
			return domain.Document{}, err
		}
	}
	return doc, nil
}

// splitOptions removes the inline option list from selector fields.
func splitOptions(fields domain.Fields) ([]domain.Fields, error) {
	raw, ok := fields[fieldOptions]
	if !ok {
		return nil, nil
	}
	delete(fields, fieldOptions)
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: encode options: %v", ErrInvalidBatch, err)
	}
	var options []domain.Fields
	if err := json.Unmarshal(data, &options); err != nil {
		return nil, fmt.Errorf("%w: options must be a list of objects", ErrInvalidBatch)
	}
	return options, nil
}

// compactOrder renumbers the collection 0..n-1. Records created in this
// batch sort after existing records that share their order.
func compactOrder(tx domain.Transaction, kind domain.Kind, parentID string, created map[string]bool) error {
	docs := tx.List(kind, parentID)
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Order != docs[j].Order {
			return docs[i].Order < docs[j].Order
		}
		return !created[docs[i].ID] && created[docs[j].ID]
	})
	for i, doc := range docs {
		if doc.Order == i {
			continue
		}
		order := i
		if _, err := tx.Update(kind, doc.ID, func(d *domain.Document) error {
			d.Order = order
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// FieldsBatch converts a typed batch into the untyped form the store applies.
func FieldsBatch[T any](batch reconcile.Batch[T]) (reconcile.Batch[domain.Fields], error) {
	out := reconcile.Batch[domain.Fields]{
		Updates: batch.Updates,
		Deletes: batch.Deletes,
	}
	for _, c := range batch.Creates {
		fields, err := domain.FieldsFromValue(c.Fields)
		if err != nil {
			return reconcile.Batch[domain.Fields]{}, errors.Join(ErrInvalidBatch, err)
		}
		out.Creates = append(out.Creates, reconcile.CreateRecord[domain.Fields]{Order: c.Order, Fields: fields})
	}
	return out, nil
}
