// Package change decides whether freshly computed statistics need to be
// written back to the store.
package change

import (
	"math"
	"time"

	"github.com/newthinker/stratsync/internal/core"
)

// Tolerance is the absolute difference below which two float fields are
// considered equal.
const Tolerance = 1e-3

// Result of comparing computed statistics with the persisted copy.
type Result struct {
	Dirty bool
	// Target is the complete record to write. Set only when Dirty.
	Target core.DerivedStats
	// Fields lists the store fields that differ.
	Fields []string
}

// Detect compares next against the last persisted value. A nil persisted
// value means the strategy was never written and is always dirty.
func Detect(next core.DerivedStats, persisted *core.DerivedStats) Result {
	var fields []string
	if persisted == nil {
		fields = []string{
			core.FieldLiveTradeCount,
			core.FieldLiveSuccessRate,
			core.FieldLiveAvgPnlPercent,
			core.FieldLiveProfitFactor,
			core.FieldLiveAvgConvictionScore,
			core.FieldLiveTotalPnl,
			core.FieldLiveLatestTradeAt,
		}
	} else {
		fields = Diff(next, *persisted)
	}

	if len(fields) == 0 {
		return Result{}
	}
	return Result{Dirty: true, Target: next, Fields: fields}
}

// Diff returns the names of the fields that differ between a and b.
func Diff(a, b core.DerivedStats) []string {
	var fields []string
	if a.TradeCount != b.TradeCount {
		fields = append(fields, core.FieldLiveTradeCount)
	}
	if !floatEqual(a.SuccessRate, b.SuccessRate) {
		fields = append(fields, core.FieldLiveSuccessRate)
	}
	if !floatEqual(a.AvgPnlPercent, b.AvgPnlPercent) {
		fields = append(fields, core.FieldLiveAvgPnlPercent)
	}
	if !floatEqual(a.ProfitFactor, b.ProfitFactor) {
		fields = append(fields, core.FieldLiveProfitFactor)
	}
	if !optFloatEqual(a.AvgConvictionScore, b.AvgConvictionScore) {
		fields = append(fields, core.FieldLiveAvgConvictionScore)
	}
	if !floatEqual(a.TotalPnl, b.TotalPnl) {
		fields = append(fields, core.FieldLiveTotalPnl)
	}
	if !optTimeEqual(a.LatestTradeTimestamp, b.LatestTradeTimestamp) {
		fields = append(fields, core.FieldLiveLatestTradeAt)
	}
	return fields
}

func floatEqual(a, b float64) bool {
	return math.Abs(a-b) < Tolerance
}

func optFloatEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return floatEqual(*a, *b)
}

// Store round trips keep millisecond precision at best.
func optTimeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UnixMilli() == b.UnixMilli()
}
