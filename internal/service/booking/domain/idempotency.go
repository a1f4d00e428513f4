package domain

import (
	"context"
	"errors"
	"time"
)

// DefaultIdempotencyTTL is how long a completed record keeps replaying
// its cached response.
const DefaultIdempotencyTTL = 24 * time.Hour

var (
	ErrIdempotencyInFlight = errors.New("idempotency key execution in flight")
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")
	ErrDuplicateReference  = errors.New("booking reference already taken")
)

// IdempotencyRecord deduplicates booking confirmations by the
// client-supplied key. A record starts in flight when the key is
// claimed, before any side effect runs, and is completed with the exact
// response returned to the caller. Expired records are logically
// invisible; eviction is lazy.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Response    []byte
	StatusCode  int
	InFlight    bool
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired reports whether the record is past its retention window.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ClaimResult is the outcome of claiming a key before execution.
type ClaimResult struct {
	// Claimed means this caller owns the key and must execute, then
	// Complete or Abandon it.
	Claimed bool
	// Existing is the prior record when Claimed is false.
	Existing *IdempotencyRecord
}

// IdempotencyStore claims keys atomically before side effects run, so
// two near-simultaneous confirmations with the same fresh key can never
// both reach the payment gateway.
type IdempotencyStore interface {
	// Claim inserts an in-flight marker for key if no live record
	// exists. When a record exists, it is returned instead and
	// Claimed is false.
	Claim(ctx context.Context, key, requestHash string, ttl time.Duration) (*ClaimResult, error)
	// Complete stores the response against a previously claimed key.
	Complete(ctx context.Context, key string, response []byte, statusCode int) error
	// Abandon drops an in-flight claim after a retryable failure so
	// the client can submit the same key again.
	Abandon(ctx context.Context, key string) error
}

// BookingRepository persists bookings and their unit join rows.
type BookingRepository interface {
	// Create inserts the booking with its units; a reference collision
	// returns ErrDuplicateReference.
	Create(ctx context.Context, b *Booking) error
	// Delete removes the booking and detaches its unit linkage; used
	// only by saga compensation.
	Delete(ctx context.Context, id string) error
}
