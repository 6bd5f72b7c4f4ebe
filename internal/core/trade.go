package core

import (
	"strconv"
	"strings"
	"time"
)

// TradingMode distinguishes paper trades from live ones.
type TradingMode string

const (
	TradingModeLive  TradingMode = "live"
	TradingModePaper TradingMode = "paper"
)

// Trade is a single execution record as ingested from the trade stream.
// Timestamps are kept as received; a trade without a parsable exit
// timestamp is still open and never aggregated.
type Trade struct {
	ID              string      `mapstructure:"id" json:"id"`
	PositionID      string      `mapstructure:"position_id" json:"position_id,omitempty"`
	Symbol          string      `mapstructure:"symbol" json:"symbol"`
	StrategyName    string      `mapstructure:"strategy_name" json:"strategy_name"`
	EntryPrice      float64     `mapstructure:"entry_price" json:"entry_price"`
	ExitPrice       float64     `mapstructure:"exit_price" json:"exit_price"`
	Quantity        float64     `mapstructure:"quantity" json:"quantity"`
	EntryTimestamp  string      `mapstructure:"entry_timestamp" json:"entry_timestamp,omitempty"`
	ExitTimestamp   string      `mapstructure:"exit_timestamp" json:"exit_timestamp,omitempty"`
	PnlUSD          float64     `mapstructure:"pnl_usd" json:"pnl_usd"`
	PnlPercent      float64     `mapstructure:"pnl_percent" json:"pnl_percent"`
	ConvictionScore *float64    `mapstructure:"conviction_score" json:"conviction_score,omitempty"`
	TradingMode     TradingMode `mapstructure:"trading_mode" json:"trading_mode,omitempty"`
}

// EntryTime returns the parsed entry timestamp.
func (t Trade) EntryTime() (time.Time, bool) {
	return ParseTimestamp(t.EntryTimestamp)
}

// ExitTime returns the parsed exit timestamp.
func (t Trade) ExitTime() (time.Time, bool) {
	return ParseTimestamp(t.ExitTimestamp)
}

// IsClosed returns true if the trade has a well-formed exit timestamp.
func (t Trade) IsClosed() bool {
	_, ok := t.ExitTime()
	return ok
}

// Completeness counts populated fields. Used to prefer the richer of two
// records describing the same fill.
func (t Trade) Completeness() int {
	n := 0
	for _, s := range []string{t.ID, t.PositionID, t.Symbol, t.StrategyName, t.EntryTimestamp, t.ExitTimestamp, string(t.TradingMode)} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	for _, f := range []float64{t.EntryPrice, t.ExitPrice, t.Quantity, t.PnlUSD, t.PnlPercent} {
		if f != 0 {
			n++
		}
	}
	if t.ConvictionScore != nil {
		n++
	}
	return n
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses the timestamp formats seen in the trade stream:
// RFC3339 variants, zone-less ISO (treated as UTC) and epoch milliseconds.
// Empty or malformed input reports false.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
