package database

import (
	"context"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to MySQL through GORM. TranslateError is on so
// duplicate-key violations surface as gorm.ErrDuplicatedKey regardless
// of driver.
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

type txKey struct{}

// Transactor runs functions inside one gorm transaction, carrying the
// transactional handle through the context so repositories join it
// transparently.
type Transactor struct {
	db *gorm.DB
}

// NewTransactor wraps db.
func NewTransactor(db *gorm.DB) *Transactor {
	return &Transactor{db: db}
}

// WithTx begins a transaction, passes a tx-carrying context to fn, and
// commits or rolls back with fn's result.
func (t *Transactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// FromContext returns the transaction carried by ctx, or base bound to
// ctx when none is.
func FromContext(ctx context.Context, base *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return base.WithContext(ctx)
}
