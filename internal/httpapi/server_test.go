package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	blobmem "poolcore/internal/blob/memory"
	"poolcore/internal/core"
	"poolcore/internal/export"
	"poolcore/pkg/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type captureMetrics struct {
	mu  sync.Mutex
	ops map[string]int
}

func (c *captureMetrics) Observe(_ context.Context, op string, _ bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops == nil {
		c.ops = map[string]int{}
	}
	c.ops[op]++
}

type harness struct {
	handler http.Handler
	svc     *core.Service
	logs    *observer.ObservedLogs
	metrics *captureMetrics
}

func newHarness(t *testing.T, opts ...Option) harness {
	t.Helper()
	svc := core.NewInMemoryService()
	observed, logs := observer.New(zap.InfoLevel)
	metrics := &captureMetrics{}
	opts = append([]Option{
		WithLogger(zap.New(observed)),
		WithMetrics(metrics),
		WithExporter(export.New(svc.Store(), blobmem.New())),
	}, opts...)
	return harness{handler: New(svc, opts...).Handler(), svc: svc, logs: logs, metrics: metrics}
}

func (h harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestGroupAndDefinitionRoundTrip(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/consumable-groups/batch", `{"creates":[{"name":"Chemicals","order":0}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	groups := decode[[]map[string]any](t, rec)
	require.Len(t, groups, 1)
	groupID := groups[0]["id"].(string)
	assert.Equal(t, "Chemicals", groups[0]["name"])
	assert.NotContains(t, groups[0], "parentId")

	rec = h.do(t, http.MethodPost, "/api/consumables/"+groupID+"/batch",
		`{"creates":[{"name":"Chlorine","unit":"gal","order":0},{"name":"Acid","unit":"gal","order":1}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := decode[[]map[string]any](t, rec)
	require.Len(t, items, 2)
	assert.Equal(t, "Chlorine", items[0]["name"])
	assert.Equal(t, groupID, items[0]["parentId"])
	chlorineID := items[0]["id"].(string)
	acidID := items[1]["id"].(string)

	rec = h.do(t, http.MethodPost, "/api/consumables/"+groupID+"/batch",
		`{"updates":[{"id":"`+acidID+`","price":12.5,"order":0},{"id":"`+chlorineID+`","order":1}],"deletes":["gone"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items = decode[[]map[string]any](t, rec)
	assert.Equal(t, "Acid", items[0]["name"])
	assert.EqualValues(t, 12.5, items[0]["price"])
	assert.EqualValues(t, 1, items[1]["order"])

	rec = h.do(t, http.MethodGet, "/api/consumables/"+groupID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	rec = h.do(t, http.MethodGet, "/api/consumable-groups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	assert.Positive(t, h.metrics.ops["http.POST /api/{kind}/{parentId}/batch"])
	assert.Positive(t, h.logs.FilterMessage("handled").Len())
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		name, method, path, body string
		status                   int
	}{
		{"unknown kind", http.MethodGet, "/api/organisms", "", http.StatusNotFound},
		{"missing parent", http.MethodGet, "/api/readings/nope", "", http.StatusNotFound},
		{"unrouted path", http.MethodGet, "/api/photos/nope/extra", "", http.StatusNotFound},
		{"malformed body", http.MethodPost, "/api/photo-groups/batch", `{"creates":`, http.StatusBadRequest},
		{"update without id", http.MethodPost, "/api/photo-groups/batch", `{"updates":[{"name":"x"}]}`, http.StatusBadRequest},
		{"update of missing id", http.MethodPost, "/api/photo-groups/batch", `{"updates":[{"id":"ghost","name":"x"}]}`, http.StatusNotFound},
		{"missing selector group", http.MethodGet, "/api/selector-groups/ghost", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := h.do(t, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
				assert.NotEmpty(t, decode[api.ErrorResponse](t, rec).Error)
			}
		})
	}
}

func TestSelectorGroupTreeLifecycle(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/api/selector-groups/batch", `{"creates":[{"name":"Equipment","order":0}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	groupID := decode[[]map[string]any](t, rec)[0]["id"].(string)

	rec = h.do(t, http.MethodPost, "/api/selector-groups/"+groupID+"/batch", `{
		"group": {"description": "Pad equipment"},
		"definitions": {"creates": [{"question": "Pump running?", "order": 0, "options": [{"label": "Yes"}, {"label": "No"}]}]}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	tree := decode[api.SelectorGroupTree](t, rec)
	assert.Equal(t, "Pad equipment", tree.Group.Fields.Description)
	require.Len(t, tree.Definitions, 1)
	defID := tree.Definitions[0].ID.Value()
	require.Len(t, tree.Options[defID], 2)
	assert.Equal(t, "Yes", tree.Options[defID][0].Fields.Label)

	rec = h.do(t, http.MethodPost, "/api/selector-groups/"+groupID+"/batch",
		`{"options": {"`+defID+`": {"creates": [{"label": "Unsure", "order": 2}]}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/selector-groups/"+groupID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	tree = decode[api.SelectorGroupTree](t, rec)
	assert.Len(t, tree.Options[defID], 3)

	rec = h.do(t, http.MethodPost, "/api/selectors/"+groupID+"/export", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	artifact := decode[export.Artifact](t, rec)
	assert.Equal(t, 4, artifact.Records)

	rec = h.do(t, http.MethodPost, "/api/selector-groups/"+groupID+"/batch", `{"deleteGroup": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = h.do(t, http.MethodGet, "/api/selector-groups/"+groupID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetricsHandler(t *testing.T) {
	metricsHit := false
	h := newHarness(t, WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		metricsHit = true
		w.WriteHeader(http.StatusOK)
	})))
	rec := h.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])

	rec = h.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, metricsHit)
}

func TestCORS(t *testing.T) {
	h := newHarness(t, WithCORSOrigins([]string{"https://admin.example"}))
	req := httptest.NewRequest(http.MethodOptions, "/api/photo-groups/batch", nil)
	req.Header.Set("Origin", "https://admin.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://admin.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/photo-groups", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
	assert.Equal(t, http.StatusBadRequest, statusFor(core.ErrInvalidBatch))
	assert.Equal(t, http.StatusNotFound, statusFor(core.ErrUnknownKind))
}
