package port

import (
	"context"
	"time"
)

// ReservationExpiredEvent is published when the sweep reclaims a hold.
// Downstream consumers (notifications, statistics) live outside this
// service; the event is the boundary.
type ReservationExpiredEvent struct {
	ReservationID string    `json:"reservation_id"`
	EventID       string    `json:"event_id"`
	OwnerID       string    `json:"owner_id"`
	UnitIDs       []string  `json:"unit_ids"`
	ExpiredAt     time.Time `json:"expired_at"`
}

// EventPublisher is the outbound port for reservation lifecycle events.
type EventPublisher interface {
	ReservationExpired(ctx context.Context, ev *ReservationExpiredEvent) error
}
