package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/newthinker/stratsync/internal/api/job"
	"github.com/newthinker/stratsync/internal/api/response"
	"github.com/newthinker/stratsync/internal/core"
	"github.com/newthinker/stratsync/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu         sync.Mutex
	snap       *pipeline.Snapshot
	pending    []string
	refreshErr error
	refreshes  int
}

func (f *fakeService) Snapshot() *pipeline.Snapshot { return f.snap }
func (f *fakeService) Pending() []string            { return f.pending }
func (f *fakeService) GetStats() map[string]any {
	return map[string]any{"scheduler_state": "idle"}
}
func (f *fakeService) RefreshNow(ctx context.Context) (*pipeline.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.snap, f.refreshErr
}

func sampleSnapshot() *pipeline.Snapshot {
	return &pipeline.Snapshot{
		RefreshedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Strategies: []pipeline.StrategyView{
			{ID: "s1", CombinationName: "Alpha", OptedOut: true, Stats: core.DerivedStats{TradeCount: 25, ProfitFactor: 0.667}, Dirty: true},
			{ID: "s2", CombinationName: "Beta", Stats: core.DerivedStats{TradeCount: 3, ProfitFactor: core.MaxProfitFactor}},
		},
		Dirty: []string{"s1"},
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp response.SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	return data
}

func TestStrategiesHandler_List(t *testing.T) {
	h := NewStrategiesHandler(&fakeService{snap: sampleSnapshot(), pending: []string{"s1"}}, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/strategies", nil))

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)
	assert.Equal(t, 2.0, data["total"])

	items := data["strategies"].([]any)
	first := items[0].(map[string]any)
	assert.Equal(t, "s1", first["id"])
	assert.Equal(t, true, first["pending"])
	assert.Equal(t, false, items[1].(map[string]any)["pending"])
}

func TestStrategiesHandler_ListFilters(t *testing.T) {
	h := NewStrategiesHandler(&fakeService{snap: sampleSnapshot()}, nil)

	tests := []struct {
		query string
		want  float64
	}{
		{"opted_out=true", 1},
		{"opted_out=false", 1},
		{"dirty=true", 1},
		{"dirty=true&opted_out=false", 0},
		{"opted_out=maybe", 2},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.List(w, httptest.NewRequest(http.MethodGet, "/api/strategies?"+tt.query, nil))
			assert.Equal(t, tt.want, decode(t, w)["total"])
		})
	}
}

func TestStrategiesHandler_NotReady(t *testing.T) {
	h := NewStrategiesHandler(&fakeService{}, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/strategies", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp response.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "NOT_READY", resp.Error.Code)
}

func TestStrategiesHandler_Get(t *testing.T) {
	h := NewStrategiesHandler(&fakeService{snap: sampleSnapshot()}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/strategies/s2", nil)
	req.SetPathValue("id", "s2")
	w := httptest.NewRecorder()
	h.Get(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)
	assert.Equal(t, "Beta", data["combination_name"])

	req = httptest.NewRequest(http.MethodGet, "/api/strategies/nope", nil)
	req.SetPathValue("id", "nope")
	w = httptest.NewRecorder()
	h.Get(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStrategiesHandler_Pending(t *testing.T) {
	h := NewStrategiesHandler(&fakeService{pending: []string{"s1", "s2"}}, nil)

	w := httptest.NewRecorder()
	h.Pending(w, httptest.NewRequest(http.MethodGet, "/api/pending", nil))

	data := decode(t, w)
	assert.Equal(t, 2.0, data["count"])
	assert.Equal(t, []any{"s1", "s2"}, data["pending"])
}

func TestStrategiesHandler_Refresh(t *testing.T) {
	svc := &fakeService{snap: sampleSnapshot()}
	h := NewStrategiesHandler(svc, nil)

	w := httptest.NewRecorder()
	h.Refresh(w, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, svc.refreshes)
	assert.Equal(t, []any{"s1"}, decode(t, w)["dirty"])
}

func TestStrategiesHandler_RefreshFailure(t *testing.T) {
	svc := &fakeService{refreshErr: core.WrapError(core.ErrRateLimited, nil)}
	h := NewStrategiesHandler(svc, nil)

	w := httptest.NewRecorder()
	h.Refresh(w, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestStrategiesHandler_Health(t *testing.T) {
	h := NewStrategiesHandler(&fakeService{}, nil)

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	data := decode(t, w)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "idle", data["scheduler_state"])
}

func TestStrategiesHandler_AsyncRefresh(t *testing.T) {
	jobs := job.NewStore(10, time.Hour)
	h := NewStrategiesHandler(&fakeService{snap: sampleSnapshot()}, jobs)

	w := httptest.NewRecorder()
	h.Refresh(w, httptest.NewRequest(http.MethodPost, "/api/refresh?async=true", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	id, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		j, err := jobs.Get(id)
		return err == nil && j.Done()
	}, time.Second, 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil)
	req.SetPathValue("id", id)
	w = httptest.NewRecorder()
	h.Job(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)
	assert.Equal(t, "complete", data["status"])
	assert.Equal(t, []any{"s1"}, data["result"].(map[string]any)["dirty"])
}

func TestStrategiesHandler_AsyncRefreshFailure(t *testing.T) {
	jobs := job.NewStore(10, time.Hour)
	h := NewStrategiesHandler(&fakeService{refreshErr: core.WrapError(core.ErrNetwork, nil)}, jobs)

	w := httptest.NewRecorder()
	h.Refresh(w, httptest.NewRequest(http.MethodPost, "/api/refresh?async=1", nil))
	id, _ := decode(t, w)["id"].(string)

	require.Eventually(t, func() bool {
		j, err := jobs.Get(id)
		return err == nil && j.Done()
	}, time.Second, 5*time.Millisecond)

	j, _ := jobs.Get(id)
	assert.Equal(t, job.StatusFailed, j.Status)
	assert.Equal(t, "NETWORK_ERROR", j.Error.Code)
}

func TestStrategiesHandler_AsyncWithoutJobStore(t *testing.T) {
	h := NewStrategiesHandler(&fakeService{}, nil)

	w := httptest.NewRecorder()
	h.Refresh(w, httptest.NewRequest(http.MethodPost, "/api/refresh?async=true", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestStrategiesHandler_JobNotFound(t *testing.T) {
	h := NewStrategiesHandler(&fakeService{}, job.NewStore(10, time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/nope", nil)
	req.SetPathValue("id", "nope")
	w := httptest.NewRecorder()
	h.Job(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
