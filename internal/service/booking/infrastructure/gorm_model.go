package infrastructure

import (
	"time"

	"gorm.io/gorm"
)

// BookingModel maps the bookings table.
type BookingModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Reference     string `gorm:"size:32;uniqueIndex"`
	EventID       string `gorm:"size:64;index"`
	OwnerID       string `gorm:"size:64;index"`
	ReservationID string `gorm:"size:64;index"`
	TotalAmount   float64
	Currency      string `gorm:"size:8"`
	Status        string `gorm:"size:16"`
	PaymentID     string `gorm:"size:128"`
	PaymentStatus string `gorm:"size:32"`
	CreatedAt     time.Time
	ConfirmedAt   time.Time

	Units []BookingUnitModel `gorm:"foreignKey:BookingID"`
}

func (BookingModel) TableName() string { return "bookings" }

// BookingUnitModel joins a booking to a unit with the price snapshot
// taken at finalize time.
type BookingUnitModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	BookingID string `gorm:"size:64;index"`
	UnitID    string `gorm:"size:64;index"`
	Price     float64
}

func (BookingUnitModel) TableName() string { return "booking_units" }

// IdempotencyModel maps the idempotency_records table. The unique key
// column is what makes Claim an atomic insert-if-absent.
type IdempotencyModel struct {
	Key         string `gorm:"column:idem_key;primaryKey;size:128"`
	RequestHash string `gorm:"size:64"`
	Response    []byte `gorm:"type:mediumblob"`
	StatusCode  int
	InFlight    bool
	ExpiresAt   time.Time `gorm:"index"`
	CreatedAt   time.Time
}

func (IdempotencyModel) TableName() string { return "idempotency_records" }

// AutoMigrate creates or updates this service's tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&BookingModel{}, &BookingUnitModel{}, &IdempotencyModel{})
}
