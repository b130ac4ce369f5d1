package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind identifies which threshold was crossed.
type EventKind string

const (
	EventEntry      EventKind = "entry"
	EventTakeProfit EventKind = "take_profit"
	EventStopLoss   EventKind = "stop_loss"
)

// ThresholdEvent is emitted once per threshold crossing.
type ThresholdEvent struct {
	ID           string          `json:"id"`
	InstrumentID string          `json:"instrument_id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name,omitempty"`
	Kind         EventKind       `json:"kind"`
	Price        decimal.Decimal `json:"price"`
	Threshold    string          `json:"threshold"`
	Message      string          `json:"message"`
	TriggeredAt  time.Time       `json:"triggered_at"`
	Sent         bool            `json:"sent"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
}

// NotificationKind distinguishes alert payloads from batch summaries.
type NotificationKind string

const (
	NotifyThreshold    NotificationKind = "threshold"
	NotifyBatchSummary NotificationKind = "batch_summary"
)

// Notification is what notification sinks deliver.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Event     *ThresholdEvent  `json:"event,omitempty"`
	Batch     *BatchSummary    `json:"batch,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// NewEventNotification wraps a threshold event for delivery.
func NewEventNotification(ev *ThresholdEvent) *Notification {
	title := ev.Symbol
	if ev.Name != "" {
		title = ev.Name + " (" + ev.Symbol + ")"
	}
	return &Notification{
		ID:        ev.ID,
		Kind:      NotifyThreshold,
		Title:     title,
		Body:      ev.Message,
		Event:     ev,
		CreatedAt: ev.TriggeredAt,
	}
}
