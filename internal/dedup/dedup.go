// Package dedup collapses the raw trade stream into one closed record per fill.
package dedup

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/newthinker/stratsync/internal/core"
	"github.com/shopspring/decimal"
)

// EntryBucket is the granularity entry times are truncated to when no
// position id is available. Independent closures of the same fill are
// stamped within this window.
const EntryBucket = 2 * time.Second

// Report summarises one deduplication pass.
type Report struct {
	Input      int `json:"input"`
	Open       int `json:"open"` // missing or malformed exit timestamp
	Duplicates int `json:"duplicates"`
	Output     int `json:"output"`
}

type candidate struct {
	key   string
	trade core.Trade
	exit  time.Time
}

// Deduplicate returns the closed trades of the input with duplicates
// removed. The result does not depend on input order.
func Deduplicate(trades []core.Trade) []core.Trade {
	out, _ := DeduplicateWithReport(trades)
	return out
}

// DeduplicateWithReport is Deduplicate plus counts for logging and metrics.
func DeduplicateWithReport(trades []core.Trade) ([]core.Trade, Report) {
	report := Report{Input: len(trades)}
	best := make(map[string]candidate, len(trades))

	for _, t := range trades {
		exit, ok := t.ExitTime()
		if !ok {
			report.Open++
			continue
		}

		c := candidate{key: Key(t), trade: t, exit: exit}
		cur, seen := best[c.key]
		if !seen {
			best[c.key] = c
			continue
		}
		report.Duplicates++
		if prefer(c, cur) {
			best[c.key] = c
		}
	}

	kept := make([]candidate, 0, len(best))
	for _, c := range best {
		kept = append(kept, c)
	}
	sort.Slice(kept, func(i, j int) bool {
		if !kept[i].exit.Equal(kept[j].exit) {
			return kept[i].exit.Before(kept[j].exit)
		}
		return kept[i].key < kept[j].key
	})

	out := make([]core.Trade, len(kept))
	for i, c := range kept {
		out[i] = c.trade
	}
	report.Output = len(out)
	return out, report
}

// prefer reports whether a should replace b: later exit wins, then the
// more complete record, then a fixed order on the record contents so that
// the choice never depends on arrival order.
func prefer(a, b candidate) bool {
	if !a.exit.Equal(b.exit) {
		return a.exit.After(b.exit)
	}
	ca, cb := a.trade.Completeness(), b.trade.Completeness()
	if ca != cb {
		return ca > cb
	}
	return canonical(a.trade) < canonical(b.trade)
}

// Key returns the identity of the fill a trade describes.
func Key(t core.Trade) string {
	if pid := strings.TrimSpace(t.PositionID); pid != "" {
		return "pos|" + pid
	}

	entry := strings.TrimSpace(t.EntryTimestamp)
	if ts, ok := t.EntryTime(); ok {
		entry = fmt.Sprintf("%d", ts.Truncate(EntryBucket).Unix())
	}

	return strings.Join([]string{
		"fill",
		t.Symbol,
		t.StrategyName,
		round(t.EntryPrice, 4),
		round(t.ExitPrice, 4),
		round(t.Quantity, 6),
		entry,
		string(t.TradingMode),
	}, "|")
}

func round(v float64, places int32) string {
	return decimal.NewFromFloat(v).Round(places).String()
}

func canonical(t core.Trade) string {
	conviction := "-"
	if t.ConvictionScore != nil {
		conviction = fmt.Sprintf("%g", *t.ConvictionScore)
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%g|%g|%g|%s|%s|%g|%g|%s",
		t.ID, t.PositionID, t.Symbol, t.StrategyName, t.TradingMode,
		t.EntryPrice, t.ExitPrice, t.Quantity, t.EntryTimestamp, t.ExitTimestamp,
		t.PnlUSD, t.PnlPercent, conviction)
}
