package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"poolcore/internal/core"
	"poolcore/pkg/api"
	"poolcore/pkg/domain"
	"poolcore/pkg/reconcile"
)

// errBadRequest wraps request body decoding failures.
var errBadRequest = errors.New("bad request")

func (s *Server) listCollection(w http.ResponseWriter, r *http.Request) {
	kind, parentID, ok := s.target(w, r)
	if !ok {
		return
	}
	docs, err := s.svc.ListCollection(r.Context(), kind, parentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeDocuments(w, docs)
}

func (s *Server) applyBatch(w http.ResponseWriter, r *http.Request) {
	kind, parentID, ok := s.target(w, r)
	if !ok {
		return
	}
	var batch reconcile.Batch[domain.Fields]
	if err := decodeBody(w, r, &batch); err != nil {
		s.writeError(w, err)
		return
	}
	docs, _, err := s.svc.ApplyBatch(r.Context(), kind, parentID, batch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeDocuments(w, docs)
}

func (s *Server) selectorTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.svc.SelectorGroupTree(r.Context(), mux.Vars(r)["groupId"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) selectorBatch(w http.ResponseWriter, r *http.Request) {
	var batch api.SelectorGroupBatch
	if err := decodeBody(w, r, &batch); err != nil {
		s.writeError(w, err)
		return
	}
	tree, _, err := s.svc.ApplySelectorGroupBatch(r.Context(), mux.Vars(r)["groupId"], batch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) exportCollection(w http.ResponseWriter, r *http.Request) {
	kind, parentID, ok := s.target(w, r)
	if !ok {
		return
	}
	artifact, err := s.exporter.Export(r.Context(), kind, parentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, artifact)
}

// target resolves the {kind} and optional {parentId} path variables.
func (s *Server) target(w http.ResponseWriter, r *http.Request) (domain.Kind, string, bool) {
	vars := mux.Vars(r)
	kind, ok := domain.ParseKind(vars["kind"])
	if !ok {
		s.writeError(w, fmt.Errorf("%w: %q", core.ErrUnknownKind, vars["kind"]))
		return "", "", false
	}
	return kind, vars["parentId"], true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func statusFor(err error) int {
	var nf domain.ErrNotFound
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, core.ErrInvalidBatch):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnknownKind), errors.As(err, &nf):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request error", zap.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

func writeDocuments(w http.ResponseWriter, docs []domain.Document) {
	out := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, err := doc.MarshalWire()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, api.ErrorResponse{Error: http.StatusText(http.StatusInternalServerError)})
			return
		}
		out = append(out, raw)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
