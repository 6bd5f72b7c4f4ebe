package core

import "time"

// Strategy is a named combination of signal conditions. Trades reference
// it by CombinationName, not by ID.
type Strategy struct {
	ID              string
	CombinationName string

	// Backtest-derived
	Occurrences  int
	SuccessRate  float64
	ProfitFactor float64

	// Live-derived values as last persisted, nil if never written.
	Live *DerivedStats

	OptedOut     bool
	OptedOutAt   *time.Time
	OptOutReason string
}
