package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of a hold.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation is one user's time-limited hold over one or more units of
// a single event. CONFIRMED, EXPIRED and CANCELLED are terminal.
type Reservation struct {
	ID        string
	EventID   string
	OwnerID   string
	UnitIDs   []string
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewReservation creates an ACTIVE reservation over the given units.
func NewReservation(eventID, ownerID string, unitIDs []string, now, expiresAt time.Time) (*Reservation, error) {
	if eventID == "" || ownerID == "" || len(unitIDs) == 0 {
		return nil, ErrEmptyReservation
	}
	return &Reservation{
		ID:        uuid.NewString(),
		EventID:   eventID,
		OwnerID:   ownerID,
		UnitIDs:   unitIDs,
		Status:    ReservationActive,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// ExpiredAt reports whether the hold has lapsed at the given instant.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Confirm transitions an ACTIVE reservation to CONFIRMED.
func (r *Reservation) Confirm() error {
	if r.Status != ReservationActive {
		return ErrReservationNotActive
	}
	r.Status = ReservationConfirmed
	return nil
}

// Expire transitions an ACTIVE reservation to EXPIRED.
func (r *Reservation) Expire() error {
	if r.Status != ReservationActive {
		return ErrReservationNotActive
	}
	r.Status = ReservationExpired
	return nil
}

// Cancel transitions an ACTIVE reservation to CANCELLED.
func (r *Reservation) Cancel() error {
	if r.Status != ReservationActive {
		return ErrReservationNotActive
	}
	r.Status = ReservationCancelled
	return nil
}

// Reactivate undoes a confirmation during saga compensation, restoring
// the hold so a paid-for reservation does not silently vanish.
func (r *Reservation) Reactivate() {
	r.Status = ReservationActive
}

// UnitLockKeys derives the lock key of every unit in the reservation.
func (r *Reservation) UnitLockKeys() []string {
	keys := make([]string, len(r.UnitIDs))
	for i, id := range r.UnitIDs {
		keys[i] = UnitLockKey(r.EventID, id)
	}
	return keys
}
