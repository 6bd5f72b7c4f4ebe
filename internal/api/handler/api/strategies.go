package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/newthinker/stratsync/internal/api/job"
	"github.com/newthinker/stratsync/internal/api/response"
	"github.com/newthinker/stratsync/internal/core"
	"github.com/newthinker/stratsync/internal/pipeline"
)

// Service is the part of the application the API exposes.
type Service interface {
	Snapshot() *pipeline.Snapshot
	Pending() []string
	RefreshNow(ctx context.Context) (*pipeline.Snapshot, error)
	GetStats() map[string]any
}

// StrategyItem is a strategy as reported by the API.
type StrategyItem struct {
	pipeline.StrategyView
	Pending bool `json:"pending"`
}

// JobTypeRefresh labels jobs started by an async refresh request.
const JobTypeRefresh = "refresh"

// StrategiesHandler serves the latest refresh results.
type StrategiesHandler struct {
	svc  Service
	jobs *job.Store
}

// NewStrategiesHandler creates a new strategies handler. jobs may be nil,
// in which case async refreshes are rejected.
func NewStrategiesHandler(svc Service, jobs *job.Store) *StrategiesHandler {
	return &StrategiesHandler{svc: svc, jobs: jobs}
}

// Health reports liveness plus scheduler state.
func (h *StrategiesHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	for k, v := range h.svc.GetStats() {
		body[k] = v
	}
	response.JSON(w, http.StatusOK, body)
}

// List returns the latest derived stats. Optional query parameters
// opted_out and dirty filter by flag.
func (h *StrategiesHandler) List(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Snapshot()
	if snap == nil {
		response.Error(w, http.StatusServiceUnavailable, core.ErrNotReady)
		return
	}

	q := r.URL.Query()
	optedOut, filterOptedOut := boolParam(q.Get("opted_out"))
	dirty, filterDirty := boolParam(q.Get("dirty"))

	pending := h.pendingSet()
	items := make([]StrategyItem, 0, len(snap.Strategies))
	for _, v := range snap.Strategies {
		if filterOptedOut && v.OptedOut != optedOut {
			continue
		}
		if filterDirty && v.Dirty != dirty {
			continue
		}
		_, p := pending[v.ID]
		items = append(items, StrategyItem{StrategyView: v, Pending: p})
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"refreshed_at": snap.RefreshedAt,
		"strategies":   items,
		"total":        len(items),
		"trades":       snap.Trades,
		"malformed":    snap.Malformed,
	})
}

// Get returns one strategy by id.
func (h *StrategiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Snapshot()
	if snap == nil {
		response.Error(w, http.StatusServiceUnavailable, core.ErrNotReady)
		return
	}

	id := r.PathValue("id")
	for _, v := range snap.Strategies {
		if v.ID == id {
			_, p := h.pendingSet()[id]
			response.JSON(w, http.StatusOK, StrategyItem{StrategyView: v, Pending: p})
			return
		}
	}
	response.Error(w, http.StatusNotFound, core.ErrNotFound)
}

// Pending lists strategies with queued writes.
func (h *StrategiesHandler) Pending(w http.ResponseWriter, r *http.Request) {
	ids := h.svc.Pending()
	response.JSON(w, http.StatusOK, map[string]any{
		"pending": ids,
		"count":   len(ids),
	})
}

// Refresh runs a refresh cycle and returns its snapshot. The cycle is not
// tied to the request so a disconnecting client cannot abort it. With
// async=true it returns 202 and a job to poll instead.
func (h *StrategiesHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if async, _ := boolParam(r.URL.Query().Get("async")); async {
		h.refreshAsync(w)
		return
	}

	snap, err := h.svc.RefreshNow(context.WithoutCancel(r.Context()))
	if err != nil {
		response.Error(w, response.StatusFor(err), err)
		return
	}
	response.JSON(w, http.StatusOK, snap)
}

func (h *StrategiesHandler) refreshAsync(w http.ResponseWriter) {
	if h.jobs == nil {
		response.Error(w, http.StatusNotImplemented, core.ErrNotReady)
		return
	}

	j := h.jobs.Create(JobTypeRefresh)
	go func() {
		h.jobs.Update(j.ID, func(j *job.Job) { j.Status = job.StatusRunning })
		snap, err := h.svc.RefreshNow(context.Background())
		var result any
		if snap != nil {
			result = map[string]any{
				"refreshed_at": snap.RefreshedAt,
				"dirty":        snap.Dirty,
				"decision":     snap.Decision,
			}
		}
		h.jobs.Finish(j.ID, result, err)
	}()

	response.JSON(w, http.StatusAccepted, j)
}

// Job returns the state of an async refresh.
func (h *StrategiesHandler) Job(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		response.Error(w, http.StatusNotFound, core.ErrNotFound)
		return
	}
	j, err := h.jobs.Get(r.PathValue("id"))
	if err != nil {
		response.Error(w, http.StatusNotFound, err)
		return
	}
	response.JSON(w, http.StatusOK, j)
}

func (h *StrategiesHandler) pendingSet() map[string]struct{} {
	ids := h.svc.Pending()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func boolParam(s string) (value, ok bool) {
	if s == "" {
		return false, false
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return b, true
}
