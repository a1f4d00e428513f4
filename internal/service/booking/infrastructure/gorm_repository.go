package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"boxoffice/internal/pkg/database"
	"boxoffice/internal/service/booking/domain"
)

// GormBookingRepository is the GORM implementation of
// domain.BookingRepository.
type GormBookingRepository struct {
	db *gorm.DB
}

// NewGormBookingRepository binds the repository to db.
func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

func (r *GormBookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	err := database.FromContext(ctx, r.db).Create(toBookingModel(b)).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrDuplicateReference
	}
	return errors.Wrap(err, "create booking")
}

func (r *GormBookingRepository) Delete(ctx context.Context, id string) error {
	db := database.FromContext(ctx, r.db)
	if err := db.Where("booking_id = ?", id).Delete(&BookingUnitModel{}).Error; err != nil {
		return errors.Wrap(err, "detach booking units")
	}
	return errors.Wrap(db.Where("id = ?", id).Delete(&BookingModel{}).Error, "delete booking")
}

// FindByReference loads a booking with its units; used by operational
// tooling and tests rather than the confirmation path itself.
func (r *GormBookingRepository) FindByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	var model BookingModel
	err := database.FromContext(ctx, r.db).
		Preload("Units").
		Where("reference = ?", reference).
		First(&model).Error
	if err != nil {
		return nil, errors.Wrap(err, "find booking by reference")
	}
	return toDomainBooking(&model), nil
}
