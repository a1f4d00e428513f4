package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the lifecycle state of a finalized purchase.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
)

// BookingUnit links a booking to one inventory unit with the price the
// unit was sold at.
type BookingUnit struct {
	UnitID string
	Price  float64
}

// Booking is a finalized, paid purchase. One successful saga run creates
// exactly one booking; it is immutable once CONFIRMED apart from
// cancellation flows handled elsewhere.
type Booking struct {
	ID            string
	Reference     string
	EventID       string
	OwnerID       string
	ReservationID string
	TotalAmount   float64
	Currency      string
	Status        BookingStatus
	PaymentID     string
	PaymentStatus string
	Units         []BookingUnit
	CreatedAt     time.Time
	ConfirmedAt   time.Time
}

// NewConfirmedBooking assembles the booking produced by a successful
// payment, with per-unit price snapshots taken at finalize time.
func NewConfirmedBooking(reservationID, eventID, ownerID, reference string, units []BookingUnit, total float64, currency, paymentID, paymentStatus string, now time.Time) *Booking {
	return &Booking{
		ID:            uuid.NewString(),
		Reference:     reference,
		EventID:       eventID,
		OwnerID:       ownerID,
		ReservationID: reservationID,
		TotalAmount:   total,
		Currency:      currency,
		Status:        BookingConfirmed,
		PaymentID:     paymentID,
		PaymentStatus: paymentStatus,
		Units:         units,
		CreatedAt:     now,
		ConfirmedAt:   now,
	}
}

// UnitIDs lists the identifiers of the booked units.
func (b *Booking) UnitIDs() []string {
	ids := make([]string, len(b.Units))
	for i, u := range b.Units {
		ids[i] = u.UnitID
	}
	return ids
}
