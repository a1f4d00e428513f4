package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/lock"
	"boxoffice/internal/pkg/clock"
	"boxoffice/internal/pkg/fault"
	"boxoffice/internal/pkg/metrics"
	"boxoffice/internal/service/booking/application/saga"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/port"
	resdomain "boxoffice/internal/service/reservation/domain"
)

// Locker is the slice of the distributed lock manager this service uses.
type Locker interface {
	Acquire(ctx context.Context, keys []string, ttl time.Duration) (*lock.Handle, error)
	Release(ctx context.Context, h *lock.Handle)
}

// ConfirmInput is a booking confirmation request.
type ConfirmInput struct {
	ReservationID  string
	OwnerID        string
	PaymentMethod  string
	IdempotencyKey string
	Metadata       map[string]string
}

// ConfirmResult is the confirmation response; it is cached verbatim in
// the idempotency store and replayed for retries of the same key.
type ConfirmResult struct {
	BookingID        string    `json:"booking_id"`
	BookingReference string    `json:"booking_reference"`
	EventID          string    `json:"event_id"`
	TotalAmount      float64   `json:"total_amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	PaymentStatus    string    `json:"payment_status"`
	PaymentID        string    `json:"payment_id"`
	UnitIDs          []string  `json:"unit_ids"`
	CreatedAt        time.Time `json:"created_at"`
	ConfirmedAt      time.Time `json:"confirmed_at"`
}

// Service orchestrates payment and inventory finalization as a saga,
// fronted by the idempotency store so retried confirmations replay
// instead of re-executing.
type Service struct {
	reservations resdomain.ReservationRepository
	units        resdomain.UnitRepository
	tx           resdomain.Transactor
	bookings     domain.BookingRepository
	idem         domain.IdempotencyStore
	locks        Locker
	gateways     *port.GatewayRegistry
	publisher    port.EventPublisher
	clk          clock.Clock
	tracer       trace.Tracer

	currency string
	lockTTL  time.Duration
	idemTTL  time.Duration
}

// Option tweaks a Service.
type Option func(*Service)

// WithLockTTL overrides the lock ttl used during finalization.
func WithLockTTL(d time.Duration) Option {
	return func(s *Service) { s.lockTTL = d }
}

// WithCurrency sets the settlement currency.
func WithCurrency(c string) Option {
	return func(s *Service) { s.currency = c }
}

// NewService wires the booking saga coordinator.
func NewService(
	reservations resdomain.ReservationRepository,
	units resdomain.UnitRepository,
	tx resdomain.Transactor,
	bookings domain.BookingRepository,
	idem domain.IdempotencyStore,
	locks Locker,
	gateways *port.GatewayRegistry,
	publisher port.EventPublisher,
	clk clock.Clock,
	tracer trace.Tracer,
	opts ...Option,
) *Service {
	s := &Service{
		reservations: reservations,
		units:        units,
		tx:           tx,
		bookings:     bookings,
		idem:         idem,
		locks:        locks,
		gateways:     gateways,
		publisher:    publisher,
		clk:          clk,
		tracer:       tracer,
		currency:     "USD",
		lockTTL:      10 * time.Second,
		idemTTL:      domain.DefaultIdempotencyTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Confirm converts an ACTIVE reservation into a paid booking. The
// idempotency key is claimed before any side effect runs; replays of a
// completed key return the cached response without touching the payment
// gateway.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	ctx, span := s.tracer.Start(ctx, "booking.Confirm")
	defer span.End()
	span.SetAttributes(
		attribute.String("reservation.id", in.ReservationID),
		attribute.String("payment.method", in.PaymentMethod),
	)

	if in.IdempotencyKey == "" {
		return nil, fault.New(fault.KindInvalidState, "idempotency key required")
	}
	if in.ReservationID == "" || in.OwnerID == "" {
		return nil, fault.New(fault.KindInvalidState, "reservation id and owner required")
	}

	hash := requestHash(in)
	claim, err := s.idem.Claim(ctx, in.IdempotencyKey, hash, s.idemTTL)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "idempotency claim failed", err)
	}
	if !claim.Claimed {
		return s.replay(span, claim.Existing, hash)
	}

	result, err := s.confirmClaimed(ctx, in)
	if err != nil {
		kind := fault.KindOf(err)
		if terminalKind(kind) {
			// A terminal outcome is cached so a retry of the same key
			// replays the failure instead of re-executing.
			s.completeRecord(ctx, in.IdempotencyKey, errorPayload(err), statusForKind(kind))
		} else {
			// Retryable: free the key so the client may submit again.
			if aerr := s.idem.Abandon(ctx, in.IdempotencyKey); aerr != nil {
				log.Error().Err(aerr).Str("idempotency_key", in.IdempotencyKey).Msg("failed to abandon idempotency claim")
			}
		}
		if kind == fault.KindExternalFailure {
			metrics.BookingsConfirmed.WithLabelValues("payment_failed").Inc()
		} else {
			metrics.BookingsConfirmed.WithLabelValues("rejected").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirmation failed")
		return nil, err
	}

	metrics.BookingsConfirmed.WithLabelValues("confirmed").Inc()
	return result, nil
}

func (s *Service) confirmClaimed(ctx context.Context, in ConfirmInput) (*ConfirmResult, error) {
	res, err := s.reservations.FindByIDAndOwner(ctx, in.ReservationID, in.OwnerID)
	if err != nil {
		if errors.Is(err, resdomain.ErrReservationNotFound) {
			return nil, fault.New(fault.KindNotFound, "reservation not found")
		}
		return nil, fault.Wrap(fault.KindInternal, "reservation lookup failed", err)
	}
	if res.Status != resdomain.ReservationActive {
		return nil, fault.New(fault.KindNotFound, "no active reservation for this id and owner")
	}

	now := s.clk.Now()
	if res.ExpiredAt(now) {
		// Checked before the gateway is ever involved.
		return nil, fault.New(fault.KindInvalidState, "reservation expired")
	}

	gateway, err := s.gateways.Resolve(in.PaymentMethod)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidState, "payment method", err)
	}

	handle, err := s.locks.Acquire(ctx, res.UnitLockKeys(), s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			return nil, fault.Wrap(fault.KindConflict, "inventory busy, try again", err)
		}
		return nil, fault.Wrap(fault.KindInternal, "lock acquisition failed", err)
	}
	defer s.locks.Release(ctx, handle)

	units, err := s.units.FindByIDs(ctx, res.EventID, res.UnitIDs)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "unit lookup failed", err)
	}
	if len(units) != len(res.UnitIDs) {
		return nil, fault.New(fault.KindInternal, "reservation references missing units")
	}
	var amount float64
	bookingUnits := make([]domain.BookingUnit, len(units))
	for i, u := range units {
		if !u.HeldBy(in.OwnerID) {
			return nil, fault.Newf(fault.KindInvalidState, "unit %s is no longer held by this reservation", u.ID)
		}
		amount += u.Price
		bookingUnits[i] = domain.BookingUnit{UnitID: u.ID, Price: u.Price}
	}

	var payment *port.PaymentResult
	var booking *domain.Booking
	var result *ConfirmResult

	charge := saga.Step{
		Name: "charge",
		Run: func(ctx context.Context) error {
			result, perr := gateway.ProcessPayment(ctx, port.PaymentRequest{
				Amount:         amount,
				Currency:       s.currency,
				OwnerID:        in.OwnerID,
				IdempotencyKey: in.IdempotencyKey,
				Metadata:       in.Metadata,
			})
			if perr != nil {
				return fault.Wrap(fault.KindExternalFailure, "payment gateway error", perr)
			}
			if !result.Success {
				return fault.Wrap(fault.KindExternalFailure, "payment declined: "+result.ErrorMessage, port.ErrPaymentDeclined)
			}
			payment = result
			return nil
		},
		Compensate: func(ctx context.Context) error {
			refund, rerr := gateway.RefundPayment(ctx, payment.PaymentID, amount, "booking finalize failed")
			if rerr != nil {
				return rerr
			}
			if !refund.Success {
				return fmt.Errorf("refund of payment %s not accepted: %s", payment.PaymentID, refund.ErrorMessage)
			}
			return nil
		},
	}

	finalize := saga.Step{
		Name: "finalize",
		Run: func(ctx context.Context) error {
			err := s.tx.WithTx(ctx, func(ctx context.Context) error {
				b, berr := s.createBookingWithReference(ctx, res, bookingUnits, amount, payment, now)
				if berr != nil {
					return berr
				}
				booking = b
				for _, u := range units {
					if uerr := u.Book(); uerr != nil {
						return uerr
					}
					if uerr := s.units.Save(ctx, u); uerr != nil {
						return uerr
					}
				}
				if cerr := res.Confirm(); cerr != nil {
					return cerr
				}
				// The guarded transition keeps a reservation that a
				// sweep or cancel finalized first from being overwritten.
				if uerr := s.reservations.UpdateStatus(ctx, res.ID, resdomain.ReservationActive, res.Status); uerr != nil {
					return uerr
				}
				result = &ConfirmResult{
					BookingID:        b.ID,
					BookingReference: b.Reference,
					EventID:          b.EventID,
					TotalAmount:      b.TotalAmount,
					Currency:         b.Currency,
					Status:           string(b.Status),
					PaymentStatus:    b.PaymentStatus,
					PaymentID:        b.PaymentID,
					UnitIDs:          b.UnitIDs(),
					CreatedAt:        b.CreatedAt,
					ConfirmedAt:      b.ConfirmedAt,
				}
				payload, merr := json.Marshal(result)
				if merr != nil {
					return merr
				}
				// The cached response commits with the booking, so a
				// crash between them can never strand a completed
				// booking behind an in-flight claim.
				return s.idem.Complete(ctx, in.IdempotencyKey, payload, 200)
			})
			if err != nil {
				return fault.Wrap(fault.KindInternal, "booking finalization failed", err)
			}
			return nil
		},
		Compensate: func(ctx context.Context) error {
			// A paid-for hold must stay recoverable: units go back to
			// RESERVED for the same owner, never to AVAILABLE, and the
			// booking linkage is detached.
			return s.tx.WithTx(ctx, func(ctx context.Context) error {
				for _, u := range units {
					if u.Status == resdomain.UnitBooked {
						u.Rehold(in.OwnerID, res.ExpiresAt)
						if uerr := s.units.Save(ctx, u); uerr != nil {
							return uerr
						}
					}
				}
				res.Reactivate()
				if uerr := s.reservations.UpdateStatus(ctx, res.ID, resdomain.ReservationConfirmed, res.Status); uerr != nil {
					return uerr
				}
				if booking != nil {
					return s.bookings.Delete(ctx, booking.ID)
				}
				return nil
			})
		},
	}

	if err := saga.New("booking_confirm", s.tracer, charge, finalize).Execute(ctx); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		ev := &port.BookingConfirmedEvent{
			BookingID:        booking.ID,
			BookingReference: booking.Reference,
			EventID:          booking.EventID,
			OwnerID:          booking.OwnerID,
			TotalAmount:      booking.TotalAmount,
			UnitIDs:          booking.UnitIDs(),
			ConfirmedAt:      booking.ConfirmedAt,
		}
		if perr := s.publisher.BookingConfirmed(ctx, ev); perr != nil {
			// Best effort; the booking already committed.
			log.Warn().Err(perr).Str("booking_id", booking.ID).Msg("failed to publish booking event")
		}
	}
	return result, nil
}

// createBookingWithReference inserts the booking, regenerating the
// reference and retrying once if the generated one collides.
func (s *Service) createBookingWithReference(ctx context.Context, res *resdomain.Reservation, units []domain.BookingUnit, amount float64, payment *port.PaymentResult, now time.Time) (*domain.Booking, error) {
	for attempt := 0; ; attempt++ {
		b := domain.NewConfirmedBooking(
			res.ID, res.EventID, res.OwnerID,
			domain.NewReference(now),
			units, amount, s.currency,
			payment.PaymentID, payment.Status, now,
		)
		err := s.bookings.Create(ctx, b)
		if err == nil {
			return b, nil
		}
		if errors.Is(err, domain.ErrDuplicateReference) && attempt == 0 {
			continue
		}
		return nil, err
	}
}

// replay serves a cached response for a key that was executed before.
func (s *Service) replay(span trace.Span, rec *domain.IdempotencyRecord, hash string) (*ConfirmResult, error) {
	if rec == nil {
		return nil, fault.New(fault.KindInternal, "idempotency store returned neither claim nor record")
	}
	if rec.InFlight {
		return nil, fault.New(fault.KindConflict, "a confirmation with this idempotency key is in flight")
	}
	if rec.RequestHash != hash {
		return nil, fault.New(fault.KindConflict, "idempotency key reused with a different request")
	}

	span.SetAttributes(attribute.Bool("idempotency.replayed", true))
	metrics.BookingsConfirmed.WithLabelValues("replayed").Inc()

	if rec.StatusCode != 200 {
		var p errPayload
		if err := json.Unmarshal(rec.Response, &p); err == nil && p.Error != "" {
			return nil, fault.New(kindForStatus(rec.StatusCode), p.Error)
		}
		return nil, fault.New(kindForStatus(rec.StatusCode), "confirmation previously failed")
	}

	var result ConfirmResult
	if err := json.Unmarshal(rec.Response, &result); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "cached response unreadable", err)
	}
	return &result, nil
}

func (s *Service) completeRecord(ctx context.Context, key string, payload []byte, status int) {
	if err := s.idem.Complete(ctx, key, payload, status); err != nil {
		log.Error().Err(err).Str("idempotency_key", key).Msg("failed to complete idempotency record")
	}
}

type errPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func errorPayload(err error) []byte {
	p, _ := json.Marshal(errPayload{Error: err.Error(), Kind: fault.KindOf(err).String()})
	return p
}

// requestHash fingerprints the request so a reused key with a different
// payload is rejected instead of replayed. Metadata is folded in with
// keys in sorted order so map iteration cannot change the fingerprint.
func requestHash(in ConfirmInput) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", in.ReservationID, in.OwnerID, in.PaymentMethod)
	keys := make([]string, 0, len(in.Metadata))
	for k := range in.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%s", k, in.Metadata[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func terminalKind(k fault.Kind) bool {
	switch k {
	case fault.KindNotFound, fault.KindInvalidState, fault.KindExternalFailure:
		return true
	default:
		return false
	}
}

func statusForKind(k fault.Kind) int {
	switch k {
	case fault.KindNotFound:
		return 404
	case fault.KindConflict:
		return 409
	case fault.KindInvalidState:
		return 422
	case fault.KindExternalFailure:
		return 402
	default:
		return 500
	}
}

func kindForStatus(status int) fault.Kind {
	switch status {
	case 404:
		return fault.KindNotFound
	case 409:
		return fault.KindConflict
	case 422:
		return fault.KindInvalidState
	case 402:
		return fault.KindExternalFailure
	default:
		return fault.KindInternal
	}
}
