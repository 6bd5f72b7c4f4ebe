// Package stats derives live performance figures for strategies from their
// closed trades.
package stats

import (
	"time"

	"github.com/newthinker/stratsync/internal/core"
)

// Aggregate computes one DerivedStats per strategy, keyed by strategy ID.
// Every strategy is present in the result, including those without trades.
// Trades are indexed by strategy name once, so the cost is linear in
// trades plus strategies.
func Aggregate(trades []core.Trade, strategies []core.Strategy) map[string]core.DerivedStats {
	byName := Index(trades)

	out := make(map[string]core.DerivedStats, len(strategies))
	for _, s := range strategies {
		out[s.ID] = Compute(byName[s.CombinationName])
	}
	return out
}

// Index groups trades by strategy name.
func Index(trades []core.Trade) map[string][]core.Trade {
	idx := make(map[string][]core.Trade)
	for _, t := range trades {
		idx[t.StrategyName] = append(idx[t.StrategyName], t)
	}
	return idx
}

// Compute derives the statistics of a single strategy's trades. Trades
// that are still open are ignored.
func Compute(trades []core.Trade) core.DerivedStats {
	var (
		count       int
		winners     int
		pnlPctSum   float64
		grossProfit float64
		grossLoss   float64
		convSum     float64
		convN       int
		latest      time.Time
		hasLatest   bool
	)

	for _, t := range trades {
		exit, ok := t.ExitTime()
		if !ok {
			continue
		}
		count++
		pnlPctSum += t.PnlPercent

		switch {
		case t.PnlUSD > 0:
			winners++
			grossProfit += t.PnlUSD
		case t.PnlUSD < 0:
			grossLoss += -t.PnlUSD
		}

		if t.ConvictionScore != nil {
			convSum += *t.ConvictionScore
			convN++
		}
		if !hasLatest || exit.After(latest) {
			latest = exit
			hasLatest = true
		}
	}

	stats := core.DerivedStats{
		TradeCount:   count,
		ProfitFactor: ProfitFactor(grossProfit, grossLoss),
		TotalPnl:     grossProfit - grossLoss,
	}
	if count > 0 {
		stats.SuccessRate = float64(winners) / float64(count) * 100
		stats.AvgPnlPercent = pnlPctSum / float64(count)
	}
	if convN > 0 {
		avg := convSum / float64(convN)
		stats.AvgConvictionScore = &avg
	}
	if hasLatest {
		stats.LatestTradeTimestamp = &latest
	}
	return stats
}

// ProfitFactor returns gross profit over gross loss. With no losses it is
// core.MaxProfitFactor if there was any profit, else 0.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	switch {
	case grossLoss > 0:
		return grossProfit / grossLoss
	case grossProfit > 0:
		return core.MaxProfitFactor
	default:
		return 0
	}
}
