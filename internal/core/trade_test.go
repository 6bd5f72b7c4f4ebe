package core

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"rfc3339", "2024-03-01T12:30:00Z", true},
		{"rfc3339 offset", "2024-03-01T14:30:00+02:00", true},
		{"no zone", "2024-03-01T12:30:00", true},
		{"space separated", "2024-03-01 12:30:00", true},
		{"epoch millis", "1709296200000", true},
		{"empty", "", false},
		{"null literal", "null", false},
		{"garbage", "yesterday", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.input)
			if ok != tt.ok {
				t.Fatalf("ParseTimestamp(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && !got.Equal(want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.input, got, want)
			}
		})
	}
}

func TestTrade_IsClosed(t *testing.T) {
	if (Trade{ExitTimestamp: "2024-03-01T12:30:00Z"}).IsClosed() != true {
		t.Error("expected closed trade")
	}
	if (Trade{}).IsClosed() {
		t.Error("trade without exit should be open")
	}
	if (Trade{ExitTimestamp: "not-a-time"}).IsClosed() {
		t.Error("malformed exit should count as open")
	}
}

func TestTrade_Completeness(t *testing.T) {
	score := 0.7
	sparse := Trade{ID: "t1", ExitTimestamp: "2024-03-01T12:30:00Z"}
	rich := Trade{ID: "t1", ExitTimestamp: "2024-03-01T12:30:00Z", Symbol: "BTCUSDT", PnlUSD: 5, ConvictionScore: &score}

	if sparse.Completeness() != 2 {
		t.Errorf("sparse completeness = %d, want 2", sparse.Completeness())
	}
	if rich.Completeness() <= sparse.Completeness() {
		t.Error("richer record should score higher")
	}
}

func TestDerivedStats_Patch(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	conviction := 0.82
	d := DerivedStats{
		TradeCount:           4,
		SuccessRate:          75,
		AvgPnlPercent:        1.5,
		ProfitFactor:         2.5,
		AvgConvictionScore:   &conviction,
		TotalPnl:             120,
		LatestTradeTimestamp: &ts,
	}

	p := d.Patch()
	if len(p) != 7 {
		t.Fatalf("expected all 7 live fields, got %d", len(p))
	}
	if p[FieldLiveTradeCount] != 4 {
		t.Errorf("trade count = %v", p[FieldLiveTradeCount])
	}
	if p[FieldLiveLatestTradeAt] != "2024-03-01T12:30:00Z" {
		t.Errorf("latest = %v", p[FieldLiveLatestTradeAt])
	}

	empty := DerivedStats{}.Patch()
	if v, ok := empty[FieldLiveAvgConvictionScore]; !ok || v != nil {
		t.Errorf("nil conviction must be sent as explicit null, got %v (present=%v)", v, ok)
	}
}
