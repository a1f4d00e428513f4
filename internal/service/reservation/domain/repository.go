package domain

import (
	"context"
	"time"
)

// UnitRepository persists inventory units. Implementations must honor a
// transaction carried in the context (see the infrastructure package).
type UnitRepository interface {
	// FindByIDs loads the given units of one event, missing ids simply
	// absent from the result.
	FindByIDs(ctx context.Context, eventID string, unitIDs []string) ([]*InventoryUnit, error)
	// FindAvailableBySection resolves up to limit AVAILABLE units of a
	// section, for the general-admission path.
	FindAvailableBySection(ctx context.Context, eventID, sectionID string, limit int) ([]*InventoryUnit, error)
	// Save writes back a mutated unit.
	Save(ctx context.Context, unit *InventoryUnit) error
}

// ReservationRepository persists reservations and their unit sets.
type ReservationRepository interface {
	Create(ctx context.Context, r *Reservation) error
	// FindByIDAndOwner returns ErrReservationNotFound when no
	// reservation matches both id and owner.
	FindByIDAndOwner(ctx context.Context, id, ownerID string) (*Reservation, error)
	// FindActiveExpired lists ACTIVE reservations whose expiry lies at
	// or before now, up to limit.
	FindActiveExpired(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
	// UpdateStatus transitions the reservation only while it still has
	// the expected current status, so a terminal state loaded before
	// lock acquisition can never be overwritten by a stale writer.
	// Returns ErrStaleReservation when the guard matched no row.
	UpdateStatus(ctx context.Context, id string, from, to ReservationStatus) error
}

// Transactor runs fn inside one storage transaction; every repository
// call made with the ctx passed to fn joins that transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
