package core

import "time"

// MaxProfitFactor is reported when a strategy has profits and no losses.
const MaxProfitFactor = 999.0

// DerivedStats is the live performance snapshot of one strategy.
type DerivedStats struct {
	TradeCount           int        `json:"trade_count"`
	SuccessRate          float64    `json:"success_rate"`
	AvgPnlPercent        float64    `json:"avg_pnl_percent"`
	ProfitFactor         float64    `json:"profit_factor"`
	AvgConvictionScore   *float64   `json:"avg_conviction_score"`
	TotalPnl             float64    `json:"total_pnl"`
	LatestTradeTimestamp *time.Time `json:"latest_trade_timestamp"`
}

// Store field names for the live-derived strategy columns.
const (
	FieldLiveTradeCount         = "live_trade_count"
	FieldLiveSuccessRate        = "live_success_rate"
	FieldLiveAvgPnlPercent      = "live_avg_pnl_percent"
	FieldLiveProfitFactor       = "live_profit_factor"
	FieldLiveAvgConvictionScore = "live_avg_conviction_score"
	FieldLiveTotalPnl           = "live_total_pnl"
	FieldLiveLatestTradeAt      = "live_latest_trade_at"
)

// Patch returns every live field. Writers always send the full set so the
// remote record stays internally consistent.
func (d DerivedStats) Patch() map[string]any {
	var conviction any
	if d.AvgConvictionScore != nil {
		conviction = *d.AvgConvictionScore
	}
	var latest any
	if d.LatestTradeTimestamp != nil {
		latest = d.LatestTradeTimestamp.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		FieldLiveTradeCount:         d.TradeCount,
		FieldLiveSuccessRate:        d.SuccessRate,
		FieldLiveAvgPnlPercent:      d.AvgPnlPercent,
		FieldLiveProfitFactor:       d.ProfitFactor,
		FieldLiveAvgConvictionScore: conviction,
		FieldLiveTotalPnl:           d.TotalPnl,
		FieldLiveLatestTradeAt:      latest,
	}
}
