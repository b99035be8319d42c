package models

import "time"

// Event types
const (
	EventTypeStockChanged   = "STOCK_CHANGED"
	EventTypeLoanRecorded   = "LOAN_RECORDED"
	EventTypeLoanDeleted    = "LOAN_DELETED"
	EventTypeProductChanged = "PRODUCT_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// StockChangedEvent published after stock quantities change
type StockChangedEvent struct {
	BaseEvent
	Reason string           `json:"reason"`
	Items  []StockDeltaData `json:"items"`
}

// LoanRecordedEvent published after a loan event is stored
type LoanRecordedEvent struct {
	BaseEvent
	LoanID        string           `json:"loan_id"`
	Direction     string           `json:"direction"`
	Counterparty  string           `json:"counterparty"`
	StockAdjusted bool             `json:"stock_adjusted"`
	Items         []StockDeltaData `json:"items"`
}

// LoanDeletedEvent published after a loan event and its items are removed
type LoanDeletedEvent struct {
	BaseEvent
	LoanID string `json:"loan_id"`
}

// ProductChangedEvent published after a catalogue change that affects prices
type ProductChangedEvent struct {
	BaseEvent
	Name    string `json:"name"`
	OldName string `json:"old_name,omitempty"`
	Action  string `json:"action"`
}

// StockDeltaData represents one batch change in events
type StockDeltaData struct {
	Name   string `json:"name"`
	Expiry string `json:"expiry"`
	Delta  int64  `json:"delta"`
}
