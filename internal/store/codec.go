package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/newthinker/stratsync/internal/core"
)

func decode(rec Record, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(rec))
}

// DecodeTrade converts a store record into a Trade. Records without a
// strategy name cannot be attributed and are rejected as malformed.
func DecodeTrade(rec Record) (core.Trade, error) {
	var t core.Trade
	if err := decode(rec, &t); err != nil {
		return core.Trade{}, core.WrapError(core.ErrMalformedRecord, fmt.Errorf("trade %s: %w", rec.ID(), err))
	}
	if strings.TrimSpace(t.StrategyName) == "" {
		return core.Trade{}, core.WrapError(core.ErrMalformedRecord, fmt.Errorf("trade %s: missing strategy_name", rec.ID()))
	}
	return t, nil
}

type strategyRecord struct {
	ID              string  `mapstructure:"id"`
	CombinationName string  `mapstructure:"combination_name"`
	Occurrences     int     `mapstructure:"occurrences"`
	SuccessRate     float64 `mapstructure:"success_rate"`
	ProfitFactor    float64 `mapstructure:"profit_factor"`
	OptedOut        bool    `mapstructure:"opted_out"`
	OptedOutAt      string  `mapstructure:"opted_out_at"`
	OptOutReason    string  `mapstructure:"opt_out_reason"`

	LiveTradeCount         *int     `mapstructure:"live_trade_count"`
	LiveSuccessRate        float64  `mapstructure:"live_success_rate"`
	LiveAvgPnlPercent      float64  `mapstructure:"live_avg_pnl_percent"`
	LiveProfitFactor       float64  `mapstructure:"live_profit_factor"`
	LiveAvgConvictionScore *float64 `mapstructure:"live_avg_conviction_score"`
	LiveTotalPnl           float64  `mapstructure:"live_total_pnl"`
	LiveLatestTradeAt      string   `mapstructure:"live_latest_trade_at"`
}

// DecodeStrategy converts a store record into a Strategy. Live stats are
// populated only when the record carries a live_trade_count.
func DecodeStrategy(rec Record) (core.Strategy, error) {
	var r strategyRecord
	if err := decode(rec, &r); err != nil {
		return core.Strategy{}, core.WrapError(core.ErrMalformedRecord, fmt.Errorf("strategy %s: %w", rec.ID(), err))
	}
	if r.ID == "" || strings.TrimSpace(r.CombinationName) == "" {
		return core.Strategy{}, core.WrapError(core.ErrMalformedRecord, fmt.Errorf("strategy %q: missing id or combination_name", r.ID))
	}

	s := core.Strategy{
		ID:              r.ID,
		CombinationName: r.CombinationName,
		Occurrences:     r.Occurrences,
		SuccessRate:     r.SuccessRate,
		ProfitFactor:    r.ProfitFactor,
		OptedOut:        r.OptedOut,
		OptOutReason:    r.OptOutReason,
	}
	if ts, ok := core.ParseTimestamp(r.OptedOutAt); ok {
		s.OptedOutAt = &ts
	}

	if r.LiveTradeCount != nil {
		live := &core.DerivedStats{
			TradeCount:         *r.LiveTradeCount,
			SuccessRate:        r.LiveSuccessRate,
			AvgPnlPercent:      r.LiveAvgPnlPercent,
			ProfitFactor:       r.LiveProfitFactor,
			AvgConvictionScore: r.LiveAvgConvictionScore,
			TotalPnl:           r.LiveTotalPnl,
		}
		if ts, ok := core.ParseTimestamp(r.LiveLatestTradeAt); ok {
			live.LatestTradeTimestamp = &ts
		}
		s.Live = live
	}
	return s, nil
}

// OptOutPatch is the state change issued when a strategy is opted out.
func OptOutPatch(reason string, at time.Time) Patch {
	return Patch{
		"opted_out":      true,
		"opted_out_at":   at.UTC().Format(time.RFC3339Nano),
		"opt_out_reason": reason,
	}
}
