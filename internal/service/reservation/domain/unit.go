package domain

import (
	"fmt"
	"time"
)

// UnitStatus is the lifecycle state of one sellable inventory unit.
type UnitStatus string

const (
	UnitAvailable UnitStatus = "AVAILABLE"
	UnitReserved  UnitStatus = "RESERVED"
	UnitBooked    UnitStatus = "BOOKED"
	UnitBlocked   UnitStatus = "BLOCKED"
)

// InventoryUnit is one sellable seat or GA allotment. Version increases
// by one on every successful mutation and backs the optimistic
// concurrency check at reservation time. Holder and HoldExpiresAt are
// set exactly while the unit is RESERVED.
//
// A unit must only be mutated while its lock key is held.
type InventoryUnit struct {
	ID            string
	EventID       string
	SectionID     string
	Price         float64
	Status        UnitStatus
	Version       int64
	HolderID      string
	HoldExpiresAt *time.Time
}

// UnitLockKey derives the distributed lock key for one unit. Event and
// unit identity together make the key, so units of different events
// never contend.
func UnitLockKey(eventID, unitID string) string {
	return fmt.Sprintf("unit:%s:%s", eventID, unitID)
}

// LockKey is UnitLockKey for this unit.
func (u *InventoryUnit) LockKey() string {
	return UnitLockKey(u.EventID, u.ID)
}

// Reserve puts an AVAILABLE unit on hold for owner until expiresAt.
func (u *InventoryUnit) Reserve(owner string, expiresAt time.Time) error {
	if u.Status != UnitAvailable {
		return ErrUnitNotAvailable
	}
	u.Status = UnitReserved
	u.HolderID = owner
	u.HoldExpiresAt = &expiresAt
	u.Version++
	return nil
}

// ReleaseHold returns a RESERVED unit to the pool.
func (u *InventoryUnit) ReleaseHold() error {
	if u.Status != UnitReserved {
		return ErrUnitNotReserved
	}
	u.Status = UnitAvailable
	u.HolderID = ""
	u.HoldExpiresAt = nil
	u.Version++
	return nil
}

// Book finalizes a RESERVED unit into a sold one.
func (u *InventoryUnit) Book() error {
	if u.Status != UnitReserved {
		return ErrUnitNotReserved
	}
	u.Status = UnitBooked
	u.HolderID = ""
	u.HoldExpiresAt = nil
	u.Version++
	return nil
}

// Rehold reverts a just-booked unit back to a hold for owner. Used by
// compensation: a hold that was already paid for must stay recoverable
// instead of reopening to other buyers.
func (u *InventoryUnit) Rehold(owner string, expiresAt time.Time) {
	u.Status = UnitReserved
	u.HolderID = owner
	u.HoldExpiresAt = &expiresAt
	u.Version++
}

// HeldBy reports whether the unit is currently on hold for owner.
func (u *InventoryUnit) HeldBy(owner string) bool {
	return u.Status == UnitReserved && u.HolderID == owner
}
