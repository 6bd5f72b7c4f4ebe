package stats

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/newthinker/stratsync/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closed(name string, pnl float64, exit string) core.Trade {
	return core.Trade{StrategyName: name, PnlUSD: pnl, PnlPercent: pnl / 10, ExitTimestamp: exit}
}

func TestAggregate_ZeroTrades(t *testing.T) {
	strategies := []core.Strategy{{ID: "s1", CombinationName: "Alpha"}, {ID: "s2", CombinationName: "Gamma"}}
	trades := []core.Trade{closed("Alpha", 5, "2024-03-01T10:00:00Z")}

	got := Aggregate(trades, strategies)
	require.Contains(t, got, "s2")

	gamma := got["s2"]
	assert.Equal(t, 0, gamma.TradeCount)
	assert.Equal(t, 0.0, gamma.SuccessRate)
	assert.Equal(t, 0.0, gamma.AvgPnlPercent)
	assert.Equal(t, 0.0, gamma.ProfitFactor)
	assert.Nil(t, gamma.AvgConvictionScore)
	assert.Nil(t, gamma.LatestTradeTimestamp)
}

func TestAggregate_AlphaScenario(t *testing.T) {
	// 25 closed trades: 10 winners of 4 (gross 40), 15 losers of 4 (gross 60).
	var trades []core.Trade
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		pnl := -4.0
		if i < 10 {
			pnl = 4.0
		}
		exit := base.Add(time.Duration(i) * time.Hour).Format(time.RFC3339)
		trades = append(trades, closed("Alpha", pnl, exit))
	}

	got := Aggregate(trades, []core.Strategy{{ID: "alpha", CombinationName: "Alpha"}})["alpha"]

	assert.Equal(t, 25, got.TradeCount)
	assert.InDelta(t, 40.0, got.SuccessRate, 1e-9)
	assert.InDelta(t, 0.667, got.ProfitFactor, 1e-3)
	assert.InDelta(t, -20.0, got.TotalPnl, 1e-9)
	require.NotNil(t, got.LatestTradeTimestamp)
	assert.True(t, got.LatestTradeTimestamp.Equal(base.Add(24*time.Hour)))
}

func TestCompute_ZeroPnlCountsOnlyTowardTradeCount(t *testing.T) {
	trades := []core.Trade{
		closed("A", 10, "2024-03-01T10:00:00Z"),
		closed("A", 0, "2024-03-01T11:00:00Z"),
		closed("A", -5, "2024-03-01T12:00:00Z"),
	}
	got := Compute(trades)

	assert.Equal(t, 3, got.TradeCount)
	assert.InDelta(t, 100.0/3, got.SuccessRate, 1e-9)
	assert.InDelta(t, 2.0, got.ProfitFactor, 1e-9)
	assert.InDelta(t, 5.0, got.TotalPnl, 1e-9)
	assert.InDelta(t, 0.5/3, got.AvgPnlPercent, 1e-9)
}

func TestCompute_IgnoresOpenTrades(t *testing.T) {
	trades := []core.Trade{
		closed("A", 10, "2024-03-01T10:00:00Z"),
		{StrategyName: "A", PnlUSD: -100},
	}
	got := Compute(trades)
	assert.Equal(t, 1, got.TradeCount)
	assert.Equal(t, core.MaxProfitFactor, got.ProfitFactor)
}

func TestCompute_ConvictionMeanSkipsMissingScores(t *testing.T) {
	a, b := 0.2, 0.6
	trades := []core.Trade{
		{StrategyName: "A", ExitTimestamp: "2024-03-01T10:00:00Z", ConvictionScore: &a},
		{StrategyName: "A", ExitTimestamp: "2024-03-01T11:00:00Z", ConvictionScore: &b},
		{StrategyName: "A", ExitTimestamp: "2024-03-01T12:00:00Z"},
	}
	got := Compute(trades)
	require.NotNil(t, got.AvgConvictionScore)
	assert.InDelta(t, 0.4, *got.AvgConvictionScore, 1e-9)

	none := Compute(trades[2:])
	assert.Nil(t, none.AvgConvictionScore)
}

func TestCompute_ZeroConvictionIsNotMissing(t *testing.T) {
	zero := 0.0
	got := Compute([]core.Trade{{StrategyName: "A", ExitTimestamp: "2024-03-01T10:00:00Z", ConvictionScore: &zero}})
	require.NotNil(t, got.AvgConvictionScore)
	assert.Equal(t, 0.0, *got.AvgConvictionScore)
}

func TestProfitFactor(t *testing.T) {
	tests := []struct {
		profit, loss float64
		want         float64
	}{
		{0, 0, 0},
		{10, 0, core.MaxProfitFactor},
		{0, 10, 0},
		{40, 60, 40.0 / 60.0},
		{60, 40, 1.5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%g/%g", tt.profit, tt.loss), func(t *testing.T) {
			assert.InDelta(t, tt.want, ProfitFactor(tt.profit, tt.loss), 1e-9)
		})
	}
}

func TestProfitFactor_SentinelExactlyWhenNoLossAndProfit(t *testing.T) {
	pnls := [][]float64{
		{},
		{0},
		{1, 2, 3},
		{-1},
		{-1, 1},
		{5, -5, 0},
		{0.001},
		{100, -0.001},
	}
	for _, set := range pnls {
		var trades []core.Trade
		var gp, gl float64
		for _, p := range set {
			trades = append(trades, closed("A", p, "2024-03-01T10:00:00Z"))
			if p > 0 {
				gp += p
			} else {
				gl += math.Abs(p)
			}
		}
		got := Compute(trades)
		assert.GreaterOrEqual(t, got.ProfitFactor, 0.0, "pnls %v", set)
		sentinel := gl == 0 && gp > 0
		assert.Equal(t, sentinel, got.ProfitFactor == core.MaxProfitFactor, "pnls %v", set)
	}
}

func TestIndex(t *testing.T) {
	idx := Index([]core.Trade{
		closed("A", 1, "2024-03-01T10:00:00Z"),
		closed("B", 1, "2024-03-01T10:00:00Z"),
		closed("A", 1, "2024-03-01T10:00:00Z"),
	})
	assert.Len(t, idx["A"], 2)
	assert.Len(t, idx["B"], 1)
}
