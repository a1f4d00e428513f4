package port

import (
	"context"
	"time"
)

// BookingConfirmedEvent is published after a saga run commits.
type BookingConfirmedEvent struct {
	BookingID        string    `json:"booking_id"`
	BookingReference string    `json:"booking_reference"`
	EventID          string    `json:"event_id"`
	OwnerID          string    `json:"owner_id"`
	TotalAmount      float64   `json:"total_amount"`
	UnitIDs          []string  `json:"unit_ids"`
	ConfirmedAt      time.Time `json:"confirmed_at"`
}

// EventPublisher is the outbound port for booking lifecycle events.
type EventPublisher interface {
	BookingConfirmed(ctx context.Context, ev *BookingConfirmedEvent) error
}
