package core

import (
	"context"
	"fmt"
	"sort"

	"poolcore/pkg/api"
	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

// SelectorGroupTree returns a selector group with its questions and options.
func (s *Service) SelectorGroupTree(ctx context.Context, groupID string) (tree api.SelectorGroupTree, err error) {
	start := s.clock.Now()
	defer func() { s.observe(ctx, "selector_tree", err, start) }()
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		var buildErr error
		tree, buildErr = buildSelectorTree(view, groupID)
		return buildErr
	})
	return tree, err
}

// ApplySelectorGroupBatch saves a selector group edit session atomically and
// returns the new tree, or nil when the group was deleted.
func (s *Service) ApplySelectorGroupBatch(ctx context.Context, groupID string, batch api.SelectorGroupBatch) (*api.SelectorGroupTree, domain.Result, error) {
	var tree *api.SelectorGroupTree
	res, err := s.run(ctx, "apply_selector_group", func(tx domain.Transaction) error {
		if _, ok := tx.Find(domain.KindSelectorGroups, groupID); !ok {
			return domain.ErrNotFound{Kind: domain.KindSelectorGroups, ID: groupID}
		}
		if batch.DeleteGroup {
			return tx.Delete(domain.KindSelectorGroups, groupID)
		}
		if len(batch.Group) > 0 {
			if err := applyUpdate(tx, domain.KindSelectorGroups, "", reconcile.UpdateRecord{
				ID:    groupID,
				Patch: reconcile.FieldPatch(batch.Group),
			}); err != nil {
				return err
			}
		}
		if batch.Definitions != nil {
			defs, err := FieldsBatch(*batch.Definitions)
			if err != nil {
				return err
			}
			if err := applyBatch(tx, domain.KindSelectors, groupID, defs); err != nil {
				return err
			}
		}
		definitionIDs := make([]string, 0, len(batch.Options))
		for id := range batch.Options {
			definitionIDs = append(definitionIDs, id)
		}
		sort.Strings(definitionIDs)
		for _, defID := range definitionIDs {
			def, ok := tx.Find(domain.KindSelectors, defID)
			if !ok || def.ParentID != groupID {
				return domain.ErrNotFound{Kind: domain.KindSelectors, ID: defID}
			}
			opts, err := FieldsBatch(batch.Options[defID])
			if err != nil {
				return err
			}
			if err := applyBatch(tx, domain.KindSelectorOptions, defID, opts); err != nil {
				return err
			}
		}
		built, err := buildSelectorTree(tx, groupID)
		if err != nil {
			return err
		}
		tree = &built
		return nil
	})
	if err != nil {
		return nil, res, err
	}
	return tree, res, nil
}

func buildSelectorTree(view domain.TransactionView, groupID string) (api.SelectorGroupTree, error) {
	groupDoc, ok := view.Find(domain.KindSelectorGroups, groupID)
	if !ok {
		return api.SelectorGroupTree{}, domain.ErrNotFound{Kind: domain.KindSelectorGroups, ID: groupID}
	}
	group, err := ToItem[domain.SelectorGroup](groupDoc)
	if err != nil {
		return api.SelectorGroupTree{}, err
	}
	defDocs := view.List(domain.KindSelectors, groupID)
	tree := api.SelectorGroupTree{
		Group:       group,
		Definitions: make([]reconcile.Item[domain.SelectorDefinition], 0, len(defDocs)),
		Options:     make(map[string][]reconcile.Item[domain.SelectorOption], len(defDocs)),
	}
	for _, doc := range defDocs {
		def, err := ToItem[domain.SelectorDefinition](doc)
		if err != nil {
			return api.SelectorGroupTree{}, err
		}
		tree.Definitions = append(tree.Definitions, def)
		optDocs := view.List(domain.KindSelectorOptions, doc.ID)
		options, err := ToItems[domain.SelectorOption](optDocs)
		if err != nil {
			return api.SelectorGroupTree{}, err
		}
		tree.Options[doc.ID] = options
	}
	return tree, nil
}

// ToItem converts a stored document into a typed collection item.
func ToItem[T any](doc domain.Document) (reconcile.Item[T], error) {
	fields, err := domain.DecodeFields[T](doc.Fields)
	if err != nil {
		return reconcile.Item[T]{}, fmt.Errorf("decode %s %s: %w", doc.Kind, doc.ID, err)
	}
	return reconcile.Item[T]{
		ID:       reconcile.Persisted(doc.ID),
		Order:    doc.Order,
		ParentID: doc.ParentID,
		Fields:   fields,
	}, nil
}

// ToItems converts documents in order.
func ToItems[T any](docs []domain.Document) ([]reconcile.Item[T], error) {
	out := make([]reconcile.Item[T], 0, len(docs))
	for _, doc := range docs {
		item, err := ToItem[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
