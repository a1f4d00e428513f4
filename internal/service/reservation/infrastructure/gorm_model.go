package infrastructure

import (
	"time"

	"gorm.io/gorm"
)

// InventoryUnitModel maps the inventory_units table.
type InventoryUnitModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	EventID       string `gorm:"size:64;index:idx_event_section"`
	SectionID     string `gorm:"size:64;index:idx_event_section"`
	Price         float64
	Status        string `gorm:"size:16;index"`
	Version       int64
	HolderID      *string `gorm:"size:64"`
	HoldExpiresAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (InventoryUnitModel) TableName() string { return "inventory_units" }

// ReservationModel maps the reservations table.
type ReservationModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	EventID   string `gorm:"size:64;index"`
	OwnerID   string `gorm:"size:64;index"`
	Status    string `gorm:"size:16;index:idx_status_expiry"`
	ExpiresAt time.Time `gorm:"index:idx_status_expiry"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Units []ReservationUnitModel `gorm:"foreignKey:ReservationID"`
}

func (ReservationModel) TableName() string { return "reservations" }

// ReservationUnitModel joins a reservation to its units.
type ReservationUnitModel struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	ReservationID string `gorm:"size:64;index"`
	UnitID        string `gorm:"size:64"`
}

func (ReservationUnitModel) TableName() string { return "reservation_units" }

// AutoMigrate creates or updates this service's tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&InventoryUnitModel{}, &ReservationModel{}, &ReservationUnitModel{})
}
