package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/lock"
	"boxoffice/internal/pkg/clock"
	"boxoffice/internal/pkg/fault"
	"boxoffice/internal/pkg/metrics"
	"boxoffice/internal/service/reservation/domain"
	"boxoffice/internal/service/reservation/port"
)

// Locker is the slice of the distributed lock manager this service uses.
type Locker interface {
	Acquire(ctx context.Context, keys []string, ttl time.Duration) (*lock.Handle, error)
	Release(ctx context.Context, h *lock.Handle)
}

// UnitSelection names one unit and the version the client saw for it.
type UnitSelection struct {
	UnitID          string
	ExpectedVersion int64
}

// CreateInput is a seat-level reservation request.
type CreateInput struct {
	EventID    string
	OwnerID    string
	Selections []UnitSelection
}

// FailedUnit reports why one unit of a request was not reserved.
type FailedUnit struct {
	UnitID string `json:"unit_id"`
	Reason string `json:"reason"`
}

// CreateResult is the outcome of a reservation request. Zero reserved
// units with populated failures is a normal outcome, not an error.
type CreateResult struct {
	ReservationID   string       `json:"reservation_id,omitempty"`
	ReservedUnitIDs []string     `json:"reserved_unit_ids"`
	ExpiresAt       time.Time    `json:"expires_at"`
	FailedUnits     []FailedUnit `json:"failed_units,omitempty"`
}

// Service is the reservation engine: it creates, cancels and expires
// holds, always inside unit lock scope, with per-unit optimistic
// concurrency validation.
type Service struct {
	units        domain.UnitRepository
	reservations domain.ReservationRepository
	tx           domain.Transactor
	locks        Locker
	publisher    port.EventPublisher
	clk          clock.Clock
	tracer       trace.Tracer

	holdTTL      time.Duration
	lockTTL      time.Duration
	sweepBatch   int
	sweepWorkers int
}

// Option tweaks a Service.
type Option func(*Service)

// WithHoldTTL overrides the default 600s hold duration.
func WithHoldTTL(d time.Duration) Option {
	return func(s *Service) { s.holdTTL = d }
}

// WithLockTTL overrides the lock ttl used for unit mutations.
func WithLockTTL(d time.Duration) Option {
	return func(s *Service) { s.lockTTL = d }
}

// WithSweepWorkers bounds the sweep's concurrency.
func WithSweepWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepWorkers = n
		}
	}
}

// NewService wires the reservation engine.
func NewService(
	units domain.UnitRepository,
	reservations domain.ReservationRepository,
	tx domain.Transactor,
	locks Locker,
	publisher port.EventPublisher,
	clk clock.Clock,
	tracer trace.Tracer,
	opts ...Option,
) *Service {
	s := &Service{
		units:        units,
		reservations: reservations,
		tx:           tx,
		locks:        locks,
		publisher:    publisher,
		clk:          clk,
		tracer:       tracer,
		holdTTL:      600 * time.Second,
		lockTTL:      10 * time.Second,
		sweepBatch:   100,
		sweepWorkers: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HoldTTL exposes the configured hold duration.
func (s *Service) HoldTTL() time.Duration { return s.holdTTL }

// Create places a hold on the selected units. All unit locks are taken
// atomically up front; validation then runs per unit, collecting
// failures instead of failing the call. A lock-busy outcome fails the
// whole call with a conflict.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", in.EventID),
		attribute.Int("units.requested", len(in.Selections)),
	)

	if in.EventID == "" || in.OwnerID == "" || len(in.Selections) == 0 {
		return nil, fault.New(fault.KindInvalidState, "reservation request needs an event, an owner and at least one unit")
	}

	selections := dedupeSelections(in.Selections)

	keys := make([]string, len(selections))
	for i, sel := range selections {
		keys[i] = domain.UnitLockKey(in.EventID, sel.UnitID)
	}

	handle, err := s.locks.Acquire(ctx, keys, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			metrics.ReservationsCreated.WithLabelValues("busy").Inc()
			return nil, fault.Wrap(fault.KindConflict, "inventory busy, try again", err)
		}
		return nil, fault.Wrap(fault.KindInternal, "lock acquisition failed", err)
	}
	defer s.locks.Release(ctx, handle)

	now := s.clk.Now()
	expiresAt := now.Add(s.holdTTL)
	result := &CreateResult{ReservedUnitIDs: []string{}, ExpiresAt: expiresAt}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		ids := make([]string, len(selections))
		for i, sel := range selections {
			ids[i] = sel.UnitID
		}
		units, err := s.units.FindByIDs(ctx, in.EventID, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]*domain.InventoryUnit, len(units))
		for _, u := range units {
			byID[u.ID] = u
		}

		for _, sel := range selections {
			unit, ok := byID[sel.UnitID]
			if !ok {
				result.FailedUnits = append(result.FailedUnits, FailedUnit{UnitID: sel.UnitID, Reason: domain.ReasonNotFound})
				continue
			}
			if reason, ok := validateSelection(unit, sel.ExpectedVersion); !ok {
				result.FailedUnits = append(result.FailedUnits, FailedUnit{UnitID: sel.UnitID, Reason: reason})
				continue
			}
			if err := unit.Reserve(in.OwnerID, expiresAt); err != nil {
				result.FailedUnits = append(result.FailedUnits, FailedUnit{UnitID: sel.UnitID, Reason: domain.ReasonAlreadyReserved})
				continue
			}
			if err := s.units.Save(ctx, unit); err != nil {
				return err
			}
			result.ReservedUnitIDs = append(result.ReservedUnitIDs, sel.UnitID)
		}

		if len(result.ReservedUnitIDs) == 0 {
			return nil
		}

		res, err := domain.NewReservation(in.EventID, in.OwnerID, result.ReservedUnitIDs, now, expiresAt)
		if err != nil {
			return err
		}
		if err := s.reservations.Create(ctx, res); err != nil {
			return err
		}
		result.ReservationID = res.ID
		return nil
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "reservation persistence failed", err)
	}

	switch {
	case len(result.ReservedUnitIDs) == 0:
		metrics.ReservationsCreated.WithLabelValues("empty").Inc()
	case len(result.FailedUnits) > 0:
		metrics.ReservationsCreated.WithLabelValues("partial").Inc()
	default:
		metrics.ReservationsCreated.WithLabelValues("full").Inc()
	}
	span.SetAttributes(
		attribute.Int("units.reserved", len(result.ReservedUnitIDs)),
		attribute.Int("units.failed", len(result.FailedUnits)),
	)
	return result, nil
}

// CreateBySection is the general-admission path: it resolves quantity
// concrete AVAILABLE units of the section server-side and runs the
// seat-level flow with their current versions.
func (s *Service) CreateBySection(ctx context.Context, eventID, sectionID string, quantity int, ownerID string) (*CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.CreateBySection")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", eventID),
		attribute.String("section.id", sectionID),
		attribute.Int("quantity", quantity),
	)

	if quantity <= 0 {
		return nil, fault.New(fault.KindInvalidState, "quantity must be positive")
	}

	candidates, err := s.units.FindAvailableBySection(ctx, eventID, sectionID, quantity)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "section lookup failed", err)
	}
	if len(candidates) == 0 {
		// Same contract as an all-failed seat-level request.
		return &CreateResult{ReservedUnitIDs: []string{}, ExpiresAt: s.clk.Now().Add(s.holdTTL)}, nil
	}

	selections := make([]UnitSelection, len(candidates))
	for i, u := range candidates {
		selections[i] = UnitSelection{UnitID: u.ID, ExpectedVersion: u.Version}
	}
	return s.Create(ctx, CreateInput{EventID: eventID, OwnerID: ownerID, Selections: selections})
}

// Cancel releases an ACTIVE reservation owned by the caller, returning
// its units to the pool.
func (s *Service) Cancel(ctx context.Context, reservationID, ownerID string) error {
	ctx, span := s.tracer.Start(ctx, "reservation.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("reservation.id", reservationID))

	res, err := s.reservations.FindByIDAndOwner(ctx, reservationID, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			return fault.New(fault.KindNotFound, "reservation not found")
		}
		return fault.Wrap(fault.KindInternal, "reservation lookup failed", err)
	}
	if res.Status != domain.ReservationActive {
		return fault.Newf(fault.KindInvalidState, "reservation is %s", res.Status)
	}

	handle, err := s.locks.Acquire(ctx, res.UnitLockKeys(), s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return fault.Wrap(fault.KindConflict, "inventory busy, try again", err)
		}
		return fault.Wrap(fault.KindInternal, "lock acquisition failed", err)
	}
	defer s.locks.Release(ctx, handle)

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		units, err := s.units.FindByIDs(ctx, res.EventID, res.UnitIDs)
		if err != nil {
			return err
		}
		for _, unit := range units {
			if !unit.HeldBy(ownerID) {
				// Already transitioned by a racing path; the lock made
				// that transition authoritative.
				continue
			}
			if err := unit.ReleaseHold(); err != nil {
				return err
			}
			if err := s.units.Save(ctx, unit); err != nil {
				return err
			}
		}
		if err := res.Cancel(); err != nil {
			return err
		}
		return s.reservations.UpdateStatus(ctx, res.ID, domain.ReservationActive, res.Status)
	})
	if err != nil {
		if errors.Is(err, domain.ErrStaleReservation) {
			// A confirm or sweep won the race between the ownership
			// check and lock acquisition.
			return fault.New(fault.KindInvalidState, "reservation is no longer active")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return fault.Wrap(fault.KindInternal, "cancellation failed", err)
	}
	return nil
}

// dedupeSelections keeps the first occurrence of each unit so a
// repeated id cannot be counted as both reserved and failed.
func dedupeSelections(in []UnitSelection) []UnitSelection {
	seen := make(map[string]struct{}, len(in))
	out := make([]UnitSelection, 0, len(in))
	for _, sel := range in {
		if _, ok := seen[sel.UnitID]; ok {
			continue
		}
		seen[sel.UnitID] = struct{}{}
		out = append(out, sel)
	}
	return out
}

func validateSelection(unit *domain.InventoryUnit, expectedVersion int64) (string, bool) {
	switch unit.Status {
	case domain.UnitReserved:
		return domain.ReasonAlreadyReserved, false
	case domain.UnitBooked:
		return domain.ReasonAlreadyBooked, false
	case domain.UnitBlocked:
		return domain.ReasonBlocked, false
	}
	if unit.Version != expectedVersion {
		return domain.ReasonVersionMismatch, false
	}
	return "", true
}
