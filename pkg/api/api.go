// Package api holds the wire contracts shared by the reference HTTP backend
// and its clients.
package api

import (
	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SelectorGroupTree is a selector group with its questions and, per
// question id, the question's options.
type SelectorGroupTree struct {
	Group       reconcile.Item[domain.SelectorGroup]               `json:"group"`
	Definitions []reconcile.Item[domain.SelectorDefinition]        `json:"definitions"`
	Options     map[string][]reconcile.Item[domain.SelectorOption] `json:"options"`
}

// SelectorGroupBatch saves a selector group and everything under it in one
// request. Options of new questions travel inside the question's create
// record; Options here only targets persisted questions.
type SelectorGroupBatch struct {
	Group       map[string]any                                    `json:"group,omitempty"`
	Definitions *reconcile.Batch[domain.SelectorDefinition]       `json:"definitions,omitempty"`
	Options     map[string]reconcile.Batch[domain.SelectorOption] `json:"options,omitempty"`
	DeleteGroup bool                                              `json:"deleteGroup,omitempty"`
}

// IsEmpty reports whether the batch carries no work.
func (b SelectorGroupBatch) IsEmpty() bool {
	if b.DeleteGroup || len(b.Group) > 0 {
		return false
	}
	if b.Definitions != nil && !b.Definitions.IsEmpty() {
		return false
	}
	for _, opts := range b.Options {
		if !opts.IsEmpty() {
			return false
		}
	}
	return true
}

// Summary totals the work across the group, its questions and options. A
// group field patch counts as one update.
func (b SelectorGroupBatch) Summary() reconcile.Summary {
	var s reconcile.Summary
	if len(b.Group) > 0 {
		s.Updates++
	}
	if b.DeleteGroup {
		s.Deletes++
	}
	if b.Definitions != nil {
		s = s.Add(b.Definitions.Summary())
	}
	for _, opts := range b.Options {
		s = s.Add(opts.Summary())
	}
	return s
}
