package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func findFamily(t *testing.T, reg *Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, l := range m.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("expected non-nil registry")
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	// Should have go runtime metrics at minimum
	if len(mfs) == 0 {
		t.Error("expected some metrics to be registered")
	}
}

func TestRegistry_RecordRequest_StatusCodes(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			reg := NewRegistry()
			reg.RecordRequest("GET", "/api/strategies", tt.status, 0.01)

			mf := findFamily(t, reg, "http_requests_total")
			if mf == nil {
				t.Fatal("expected http_requests_total metric")
			}
			if got := labelValue(mf.GetMetric()[0], "status"); got != tt.expected {
				t.Errorf("status label = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestRegistry_InFlight(t *testing.T) {
	reg := NewRegistry()

	reg.InFlightInc()
	reg.InFlightInc()
	reg.InFlightDec()

	mf := findFamily(t, reg, "http_requests_in_flight")
	if mf == nil {
		t.Fatal("expected http_requests_in_flight metric")
	}
	if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Errorf("expected in-flight gauge to be 1, got %v", v)
	}
}

func TestRegistry_RecordTrades(t *testing.T) {
	reg := NewRegistry()
	reg.RecordTrades(10, 6, map[string]int{"open": 3, "duplicate": 1, "malformed": 0})

	if mf := findFamily(t, reg, "stratsync_trades_ingested_total"); mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 10 {
		t.Error("expected 10 ingested trades")
	}
	if mf := findFamily(t, reg, "stratsync_trades_kept_total"); mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 6 {
		t.Error("expected 6 kept trades")
	}

	mf := findFamily(t, reg, "stratsync_trades_dropped_total")
	if mf == nil {
		t.Fatal("expected stratsync_trades_dropped_total metric")
	}
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "reason")] = m.GetCounter().GetValue()
	}
	if got["open"] != 3 || got["duplicate"] != 1 {
		t.Errorf("unexpected drop counts: %v", got)
	}
	if _, ok := got["malformed"]; ok {
		t.Error("zero counts should not create a series")
	}
}

func TestRegistry_RecordWrite(t *testing.T) {
	reg := NewRegistry()
	reg.RecordWrite(WritePersisted)
	reg.RecordWrite(WritePersisted)
	reg.RecordWrite(WriteLost)

	mf := findFamily(t, reg, "stratsync_writes_total")
	if mf == nil {
		t.Fatal("expected stratsync_writes_total metric")
	}
	got := map[string]float64{}
	for _, m := range mf.GetMetric() {
		got[labelValue(m, "outcome")] = m.GetCounter().GetValue()
	}
	if got[WritePersisted] != 2 || got[WriteLost] != 1 {
		t.Errorf("unexpected write counts: %v", got)
	}
}

func TestRegistry_FlushHistogram(t *testing.T) {
	reg := NewRegistry()
	reg.RecordFlush(1.5)
	reg.SetPending(4)

	mf := findFamily(t, reg, "stratsync_flush_duration_seconds")
	if mf == nil {
		t.Fatal("expected stratsync_flush_duration_seconds metric")
	}
	hist := mf.GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 1 || hist.GetSampleSum() != 1.5 {
		t.Errorf("unexpected histogram: count=%d sum=%v", hist.GetSampleCount(), hist.GetSampleSum())
	}

	if mf := findFamily(t, reg, "stratsync_pending_updates"); mf == nil || mf.GetMetric()[0].GetGauge().GetValue() != 4 {
		t.Error("expected pending gauge of 4")
	}
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var reg *Registry
	reg.RecordRequest("GET", "/", 200, 0.1)
	reg.InFlightInc()
	reg.InFlightDec()
	reg.RecordTrades(1, 1, nil)
	reg.RecordRefresh("ok", 0.1)
	reg.RecordDirty(1)
	reg.SetPending(1)
	reg.RecordFlush(0.1)
	reg.RecordWrite(WriteLost)
	reg.RecordOptOuts("ok", 1)
	reg.SetStrategies(1)
}

// Ensure the registry implements prometheus.Gatherer interface
func TestRegistry_ImplementsGatherer(t *testing.T) {
	reg := NewRegistry()
	var _ prometheus.Gatherer = reg
}
