package domain

import "errors"

var (
	ErrUnitNotFound         = errors.New("inventory unit not found")
	ErrUnitNotAvailable     = errors.New("unit not available")
	ErrUnitNotReserved      = errors.New("unit not reserved")
	ErrVersionMismatch      = errors.New("version mismatch")
	ErrEmptyReservation     = errors.New("reservation needs an event, an owner and at least one unit")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrReservationNotActive = errors.New("reservation not active")
	ErrStaleReservation     = errors.New("reservation status changed concurrently")
)

// Failure reasons reported per unit in a partially successful
// reservation request.
const (
	ReasonNotFound        = "not found"
	ReasonAlreadyReserved = "already reserved"
	ReasonAlreadyBooked   = "already booked"
	ReasonBlocked         = "blocked"
	ReasonVersionMismatch = "version mismatch"
)
