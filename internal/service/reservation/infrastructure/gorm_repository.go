package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"boxoffice/internal/pkg/database"
	"boxoffice/internal/service/reservation/domain"
)

// GormUnitRepository is the GORM implementation of
// domain.UnitRepository. Every method joins a transaction carried in
// the context when one is present.
type GormUnitRepository struct {
	db *gorm.DB
}

// NewGormUnitRepository binds the repository to db.
func NewGormUnitRepository(db *gorm.DB) *GormUnitRepository {
	return &GormUnitRepository{db: db}
}

func (r *GormUnitRepository) FindByIDs(ctx context.Context, eventID string, unitIDs []string) ([]*domain.InventoryUnit, error) {
	var models []InventoryUnitModel
	err := database.FromContext(ctx, r.db).
		Where("event_id = ? AND id IN ?", eventID, unitIDs).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find units by ids")
	}
	units := make([]*domain.InventoryUnit, len(models))
	for i := range models {
		units[i] = toDomainUnit(&models[i])
	}
	return units, nil
}

func (r *GormUnitRepository) FindAvailableBySection(ctx context.Context, eventID, sectionID string, limit int) ([]*domain.InventoryUnit, error) {
	var models []InventoryUnitModel
	err := database.FromContext(ctx, r.db).
		Where("event_id = ? AND section_id = ? AND status = ?", eventID, sectionID, string(domain.UnitAvailable)).
		Order("id").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find available units by section")
	}
	units := make([]*domain.InventoryUnit, len(models))
	for i := range models {
		units[i] = toDomainUnit(&models[i])
	}
	return units, nil
}

// Save writes the unit back guarded by its previous version, so a write
// from outside the lock scope can never silently clobber a newer state.
func (r *GormUnitRepository) Save(ctx context.Context, unit *domain.InventoryUnit) error {
	model := toUnitModel(unit)
	res := database.FromContext(ctx, r.db).
		Model(&InventoryUnitModel{}).
		Where("id = ? AND version = ?", unit.ID, unit.Version-1).
		Updates(map[string]interface{}{
			"status":          model.Status,
			"version":         model.Version,
			"holder_id":       model.HolderID,
			"hold_expires_at": model.HoldExpiresAt,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "save unit")
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionMismatch
	}
	return nil
}

// GormReservationRepository is the GORM implementation of
// domain.ReservationRepository.
type GormReservationRepository struct {
	db *gorm.DB
}

// NewGormReservationRepository binds the repository to db.
func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

func (r *GormReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	return errors.Wrap(database.FromContext(ctx, r.db).Create(toReservationModel(res)).Error, "create reservation")
}

func (r *GormReservationRepository) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*domain.Reservation, error) {
	var model ReservationModel
	err := database.FromContext(ctx, r.db).
		Preload("Units").
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, errors.Wrap(err, "find reservation")
	}
	return toDomainReservation(&model), nil
}

func (r *GormReservationRepository) FindActiveExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := database.FromContext(ctx, r.db).
		Preload("Units").
		Where("status = ? AND expires_at <= ?", string(domain.ReservationActive), now).
		Order("expires_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find expired reservations")
	}
	out := make([]*domain.Reservation, len(models))
	for i := range models {
		out[i] = toDomainReservation(&models[i])
	}
	return out, nil
}

func (r *GormReservationRepository) UpdateStatus(ctx context.Context, id string, from, to domain.ReservationStatus) error {
	res := database.FromContext(ctx, r.db).
		Model(&ReservationModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return errors.Wrap(res.Error, "update reservation status")
	}
	if res.RowsAffected == 0 {
		return domain.ErrStaleReservation
	}
	return nil
}
