package adapter

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"boxoffice/internal/pkg/mq"
	bookingport "boxoffice/internal/service/booking/port"
	resport "boxoffice/internal/service/reservation/port"
)

// KafkaEventPublisher publishes booking and reservation lifecycle
// events to one topic, keyed by owner so one buyer's events stay
// ordered.
type KafkaEventPublisher struct {
	writer *kafka.Writer
}

// NewKafkaEventPublisher wraps writer.
func NewKafkaEventPublisher(writer *kafka.Writer) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

type envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func (p *KafkaEventPublisher) BookingConfirmed(ctx context.Context, ev *bookingport.BookingConfirmedEvent) error {
	return p.publish(ctx, ev.OwnerID, envelope{Type: "booking.confirmed", Payload: ev})
}

func (p *KafkaEventPublisher) ReservationExpired(ctx context.Context, ev *resport.ReservationExpiredEvent) error {
	return p.publish(ctx, ev.OwnerID, envelope{Type: "reservation.expired", Payload: ev})
}

func (p *KafkaEventPublisher) publish(ctx context.Context, key string, env envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return mq.ProduceMessage(ctx, p.writer, []byte(key), value)
}
