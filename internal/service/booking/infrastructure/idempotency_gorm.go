package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"boxoffice/internal/pkg/clock"
	"boxoffice/internal/pkg/database"
	"boxoffice/internal/service/booking/domain"
)

// GormIdempotencyStore implements domain.IdempotencyStore on the same
// database the bookings live in. The atomic insert-if-absent that backs
// Claim rides on the table's primary key.
type GormIdempotencyStore struct {
	db  *gorm.DB
	clk clock.Clock
}

// NewGormIdempotencyStore binds the store to db.
func NewGormIdempotencyStore(db *gorm.DB, clk clock.Clock) *GormIdempotencyStore {
	return &GormIdempotencyStore{db: db, clk: clk}
}

func (s *GormIdempotencyStore) Claim(ctx context.Context, key, requestHash string, ttl time.Duration) (*domain.ClaimResult, error) {
	now := s.clk.Now()
	db := database.FromContext(ctx, s.db)

	// Expired records are logically invisible; evict lazily so the
	// insert below can take the key over.
	if err := db.Where("idem_key = ? AND expires_at <= ?", key, now).Delete(&IdempotencyModel{}).Error; err != nil {
		return nil, errors.Wrap(err, "evict expired idempotency record")
	}

	model := IdempotencyModel{
		Key:         key,
		RequestHash: requestHash,
		InFlight:    true,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	err := db.Create(&model).Error
	if err == nil {
		return &domain.ClaimResult{Claimed: true}, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, errors.Wrap(err, "claim idempotency key")
	}

	// Lost the race or the key was executed before: hand the existing
	// record back.
	var existing IdempotencyModel
	if err := db.Where("idem_key = ?", key).First(&existing).Error; err != nil {
		return nil, errors.Wrap(err, "load existing idempotency record")
	}
	return &domain.ClaimResult{Existing: toDomainIdempotency(&existing)}, nil
}

func (s *GormIdempotencyStore) Complete(ctx context.Context, key string, response []byte, statusCode int) error {
	res := database.FromContext(ctx, s.db).
		Model(&IdempotencyModel{}).
		Where("idem_key = ? AND in_flight = ?", key, true).
		Updates(map[string]interface{}{
			"response":    response,
			"status_code": statusCode,
			"in_flight":   false,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "complete idempotency record")
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("idempotency key %s has no in-flight claim to complete", key)
	}
	return nil
}

func (s *GormIdempotencyStore) Abandon(ctx context.Context, key string) error {
	return errors.Wrap(
		database.FromContext(ctx, s.db).
			Where("idem_key = ? AND in_flight = ?", key, true).
			Delete(&IdempotencyModel{}).Error,
		"abandon idempotency claim")
}
