// Package notifier delivers policy events, such as automatic opt-outs,
// to external receivers.
package notifier

import (
	"context"
	"time"
)

// EventType names what happened.
type EventType string

const (
	EventOptOut EventType = "opt_out"
)

// Event describes one strategy-level policy action.
type Event struct {
	Type            EventType `json:"type"`
	StrategyID      string    `json:"strategy_id"`
	CombinationName string    `json:"combination_name"`
	Reason          string    `json:"reason,omitempty"`
	TradeCount      int       `json:"trade_count"`
	ProfitFactor    float64   `json:"profit_factor"`
	At              time.Time `json:"at"`
}

// Notifier defines the interface for event delivery
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Notify delivers events in one call
	Notify(ctx context.Context, events []Event) error
}
