package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"boxoffice/internal/lock"
	"boxoffice/internal/pkg/clock"
	"boxoffice/internal/pkg/fault"
	"boxoffice/internal/service/booking/domain"
	"boxoffice/internal/service/booking/infrastructure/adapter"
	"boxoffice/internal/service/booking/port"
	resdomain "boxoffice/internal/service/reservation/domain"
)

type stubLocker struct {
	mu   sync.Mutex
	busy bool
}

func (l *stubLocker) Acquire(ctx context.Context, keys []string, ttl time.Duration) (*lock.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return nil, lock.ErrBusy
	}
	return &lock.Handle{}, nil
}

func (l *stubLocker) Release(ctx context.Context, h *lock.Handle) {}

type memUnitRepo struct {
	mu    sync.Mutex
	units map[string]*resdomain.InventoryUnit
}

func newMemUnitRepo(units ...*resdomain.InventoryUnit) *memUnitRepo {
	r := &memUnitRepo{units: make(map[string]*resdomain.InventoryUnit)}
	for _, u := range units {
		cp := *u
		r.units[u.ID] = &cp
	}
	return r
}

func (r *memUnitRepo) FindByIDs(ctx context.Context, eventID string, unitIDs []string) ([]*resdomain.InventoryUnit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*resdomain.InventoryUnit
	for _, id := range unitIDs {
		if u, ok := r.units[id]; ok && u.EventID == eventID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memUnitRepo) FindAvailableBySection(ctx context.Context, eventID, sectionID string, limit int) ([]*resdomain.InventoryUnit, error) {
	return nil, nil
}

func (r *memUnitRepo) Save(ctx context.Context, unit *resdomain.InventoryUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.units[unit.ID]
	if !ok {
		return resdomain.ErrUnitNotFound
	}
	if stored.Version != unit.Version-1 {
		return resdomain.ErrVersionMismatch
	}
	cp := *unit
	r.units[unit.ID] = &cp
	return nil
}

func (r *memUnitRepo) get(id string) resdomain.InventoryUnit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.units[id]
}

type memResRepo struct {
	mu           sync.Mutex
	reservations map[string]*resdomain.Reservation
}

func newMemResRepo(reservations ...*resdomain.Reservation) *memResRepo {
	r := &memResRepo{reservations: make(map[string]*resdomain.Reservation)}
	for _, res := range reservations {
		cp := *res
		r.reservations[res.ID] = &cp
	}
	return r
}

func (r *memResRepo) Create(ctx context.Context, res *resdomain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *res
	r.reservations[res.ID] = &cp
	return nil
}

func (r *memResRepo) FindByIDAndOwner(ctx context.Context, id, ownerID string) (*resdomain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok || res.OwnerID != ownerID {
		return nil, resdomain.ErrReservationNotFound
	}
	cp := *res
	return &cp, nil
}

func (r *memResRepo) FindActiveExpired(ctx context.Context, now time.Time, limit int) ([]*resdomain.Reservation, error) {
	return nil, nil
}

func (r *memResRepo) UpdateStatus(ctx context.Context, id string, from, to resdomain.ReservationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[id]
	if !ok {
		return resdomain.ErrReservationNotFound
	}
	if res.Status != from {
		return resdomain.ErrStaleReservation
	}
	res.Status = to
	return nil
}

func (r *memResRepo) get(id string) resdomain.Reservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.reservations[id]
}

// passTx marks the context so collaborators can tell whether a call
// ran inside transaction scope.
type passTx struct{}

type txMarker struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(context.WithValue(ctx, txMarker{}, true))
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txMarker{}).(bool)
	return v
}

type memBookingRepo struct {
	mu         sync.Mutex
	failCreate bool
	byRef      map[string]*domain.Booking
	byID       map[string]*domain.Booking
}

func newMemBookingRepo() *memBookingRepo {
	return &memBookingRepo{
		byRef: make(map[string]*domain.Booking),
		byID:  make(map[string]*domain.Booking),
	}
}

func (r *memBookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return errors.New("insert failed")
	}
	if _, ok := r.byRef[b.Reference]; ok {
		return domain.ErrDuplicateReference
	}
	cp := *b
	r.byRef[b.Reference] = &cp
	r.byID[b.ID] = &cp
	return nil
}

func (r *memBookingRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byRef, b.Reference)
	delete(r.byID, id)
	return nil
}

func (r *memBookingRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// memIdemStore mirrors the claim-before-execute contract of the
// persistent store.
type memIdemStore struct {
	mu            sync.Mutex
	clk           clock.Clock
	records       map[string]*domain.IdempotencyRecord
	completedInTx map[string]bool
}

func newMemIdemStore(clk clock.Clock) *memIdemStore {
	return &memIdemStore{
		clk:           clk,
		records:       make(map[string]*domain.IdempotencyRecord),
		completedInTx: make(map[string]bool),
	}
}

func (s *memIdemStore) Claim(ctx context.Context, key, requestHash string, ttl time.Duration) (*domain.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	if rec, ok := s.records[key]; ok && !rec.Expired(now) {
		cp := *rec
		return &domain.ClaimResult{Existing: &cp}, nil
	}
	s.records[key] = &domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		InFlight:    true,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	return &domain.ClaimResult{Claimed: true}, nil
}

func (s *memIdemStore) Complete(ctx context.Context, key string, response []byte, statusCode int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok || !rec.InFlight {
		return errors.New("no in-flight claim for key")
	}
	rec.Response = response
	rec.StatusCode = statusCode
	rec.InFlight = false
	s.completedInTx[key] = inTx(ctx)
	return nil
}

func (s *memIdemStore) Abandon(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.InFlight {
		delete(s.records, key)
	}
	return nil
}

func (s *memIdemStore) record(key string) *domain.IdempotencyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key]
}

func (s *memIdemStore) completedInTransaction(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedInTx[key]
}

// harness wires a booking service over in-memory collaborators seeded
// with one ACTIVE reservation of two held units.
type harness struct {
	svc      *Service
	units    *memUnitRepo
	resRepo  *memResRepo
	bookings *memBookingRepo
	idem     *memIdemStore
	gateway  *adapter.MemoryPaymentGateway
	locker   *stubLocker
	resID    string
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()

	expiry := now.Add(600 * time.Second)
	held := func(id string, price float64) *resdomain.InventoryUnit {
		return &resdomain.InventoryUnit{
			ID:            id,
			EventID:       "E1",
			Price:         price,
			Status:        resdomain.UnitReserved,
			Version:       1,
			HolderID:      "alice",
			HoldExpiresAt: &expiry,
		}
	}
	units := newMemUnitRepo(held("A1", 50), held("A2", 75))

	res, err := resdomain.NewReservation("E1", "alice", []string{"A1", "A2"}, now, expiry)
	if err != nil {
		t.Fatalf("seed reservation failed: %v", err)
	}
	resRepo := newMemResRepo(res)

	clk := clock.NewFixed(now)
	gateway := adapter.NewMemoryPaymentGateway(adapter.NewPaymentRecordStore())
	registry, err := port.NewGatewayRegistry("mock", map[string]port.PaymentGateway{"mock": gateway})
	if err != nil {
		t.Fatalf("registry setup failed: %v", err)
	}

	bookings := newMemBookingRepo()
	idem := newMemIdemStore(clk)
	locker := &stubLocker{}

	svc := NewService(resRepo, units, passTx{}, bookings, idem, locker, registry, nil, clk, otel.Tracer("test"))
	return &harness{
		svc:      svc,
		units:    units,
		resRepo:  resRepo,
		bookings: bookings,
		idem:     idem,
		gateway:  gateway,
		locker:   locker,
		resID:    res.ID,
	}
}

func confirmInput(h *harness, key string) ConfirmInput {
	return ConfirmInput{
		ReservationID:  h.resID,
		OwnerID:        "alice",
		PaymentMethod:  "mock",
		IdempotencyKey: key,
	}
}

func TestConfirmProducesBooking(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	result, err := h.svc.Confirm(context.Background(), confirmInput(h, "key-1"))
	if err != nil {
		t.Fatalf("expected confirmation, got %v", err)
	}
	if result.BookingReference == "" || result.BookingID == "" {
		t.Fatalf("expected booking identity, got %+v", result)
	}
	if result.TotalAmount != 125 {
		t.Fatalf("expected total 125, got %v", result.TotalAmount)
	}
	if result.Status != string(domain.BookingConfirmed) {
		t.Fatalf("expected CONFIRMED booking, got %s", result.Status)
	}
	if len(result.UnitIDs) != 2 {
		t.Fatalf("expected both units in the booking, got %v", result.UnitIDs)
	}

	for _, id := range []string{"A1", "A2"} {
		if u := h.units.get(id); u.Status != resdomain.UnitBooked {
			t.Fatalf("unit %s: expected BOOKED, got %s", id, u.Status)
		}
	}
	if res := h.resRepo.get(h.resID); res.Status != resdomain.ReservationConfirmed {
		t.Fatalf("expected CONFIRMED reservation, got %s", res.Status)
	}
	if h.gateway.ChargeCalls() != 1 {
		t.Fatalf("expected one charge, got %d", h.gateway.ChargeCalls())
	}
	rec := h.idem.record("key-1")
	if rec == nil || rec.InFlight || rec.StatusCode != 200 {
		t.Fatalf("expected completed idempotency record, got %+v", rec)
	}
	// The cached response must commit atomically with the booking so a
	// crash after finalize cannot leave the key stuck in flight.
	if !h.idem.completedInTransaction("key-1") {
		t.Fatal("expected the idempotency record completed inside the finalize transaction")
	}
}

func TestConfirmReplaysSameKey(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	first, err := h.svc.Confirm(context.Background(), confirmInput(h, "key-1"))
	if err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	second, err := h.svc.Confirm(context.Background(), confirmInput(h, "key-1"))
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}

	if second.BookingReference != first.BookingReference {
		t.Fatalf("replay must return the original reference: %s vs %s", second.BookingReference, first.BookingReference)
	}
	if second.BookingID != first.BookingID {
		t.Fatalf("replay must return the original booking id")
	}
	if h.gateway.ChargeCalls() != 1 {
		t.Fatalf("the gateway must be charged once, got %d calls", h.gateway.ChargeCalls())
	}
	if h.bookings.count() != 1 {
		t.Fatalf("expected a single booking row, got %d", h.bookings.count())
	}
}

func TestConfirmDeclinedPaymentLeavesHoldIntact(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.gateway.FailNextCharges(true)

	_, err := h.svc.Confirm(context.Background(), confirmInput(h, "key-1"))
	if !fault.IsKind(err, fault.KindExternalFailure) {
		t.Fatalf("expected external failure, got %v", err)
	}
	if !errors.Is(err, port.ErrPaymentDeclined) {
		t.Fatalf("expected decline sentinel in the chain, got %v", err)
	}

	for _, id := range []string{"A1", "A2"} {
		if u := h.units.get(id); u.Status != resdomain.UnitReserved {
			t.Fatalf("unit %s must stay RESERVED after a decline, got %s", id, u.Status)
		}
	}
	if res := h.resRepo.get(h.resID); res.Status != resdomain.ReservationActive {
		t.Fatalf("reservation must stay ACTIVE after a decline, got %s", res.Status)
	}
	if h.bookings.count() != 0 {
		t.Fatal("no booking row may exist after a decline")
	}
	if h.gateway.RefundCalls() != 0 {
		t.Fatal("nothing was charged, nothing to refund")
	}

	// A decline is terminal for this key: the retry replays it without
	// touching the gateway again.
	_, err = h.svc.Confirm(context.Background(), confirmInput(h, "key-1"))
	if !fault.IsKind(err, fault.KindExternalFailure) {
		t.Fatalf("expected replayed decline, got %v", err)
	}
	if h.gateway.ChargeCalls() != 1 {
		t.Fatalf("replayed decline must not re-charge, got %d calls", h.gateway.ChargeCalls())
	}
}

func TestConfirmExpiredReservationNeverReachesGateway(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	// Same state, but the service clock is past the hold expiry.
	lateClk := clock.NewFixed(now.Add(601 * time.Second))
	lateIdem := newMemIdemStore(lateClk)
	registry, err := port.NewGatewayRegistry("mock", map[string]port.PaymentGateway{"mock": h.gateway})
	if err != nil {
		t.Fatalf("registry setup failed: %v", err)
	}
	late := NewService(h.resRepo, h.units, passTx{}, h.bookings, lateIdem, h.locker, registry, nil, lateClk, otel.Tracer("test"))

	_, err = late.Confirm(context.Background(), confirmInput(h, "key-1"))
	if !fault.IsKind(err, fault.KindInvalidState) {
		t.Fatalf("expected invalid-state for a lapsed hold, got %v", err)
	}
	if h.gateway.ChargeCalls() != 0 {
		t.Fatalf("the gateway must not see a lapsed hold, got %d calls", h.gateway.ChargeCalls())
	}
	rec := lateIdem.record("key-1")
	if rec == nil || rec.InFlight || rec.StatusCode != 422 {
		t.Fatalf("a lapsed hold is a terminal outcome for the key, got %+v", rec)
	}
}

func TestConfirmFinalizeFailureRefundsAndKeepsHold(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.bookings.failCreate = true

	_, err := h.svc.Confirm(context.Background(), confirmInput(h, "key-1"))
	if err == nil {
		t.Fatal("expected finalize failure")
	}
	if fault.KindOf(err) != fault.KindInternal {
		t.Fatalf("expected internal kind, got %v", err)
	}

	if h.gateway.ChargeCalls() != 1 {
		t.Fatalf("expected one charge before the failure, got %d", h.gateway.ChargeCalls())
	}
	if h.gateway.RefundCalls() != 1 {
		t.Fatalf("expected the charge compensated by a refund, got %d", h.gateway.RefundCalls())
	}
	for _, id := range []string{"A1", "A2"} {
		if u := h.units.get(id); u.Status != resdomain.UnitReserved || u.HolderID != "alice" {
			t.Fatalf("unit %s must still be held for the owner, got %+v", id, u)
		}
	}
	if res := h.resRepo.get(h.resID); res.Status != resdomain.ReservationActive {
		t.Fatalf("reservation must stay ACTIVE, got %s", res.Status)
	}

	// An internal failure is retryable: the key was abandoned and a
	// retry runs the saga again.
	if rec := h.idem.record("key-1"); rec != nil {
		t.Fatalf("expected abandoned claim, got %+v", rec)
	}
	h.bookings.failCreate = false
	result, err := h.svc.Confirm(context.Background(), confirmInput(h, "key-1"))
	if err != nil {
		t.Fatalf("retry after repair failed: %v", err)
	}
	if result.BookingReference == "" {
		t.Fatal("retry must produce a booking")
	}
}

func TestConfirmInFlightKeyConflicts(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	// Another request holds the claim.
	if _, err := h.idem.Claim(context.Background(), "key-1", requestHash(confirmInput(h, "key-1")), time.Hour); err != nil {
		t.Fatalf("seed claim failed: %v", err)
	}

	_, err := h.svc.Confirm(context.Background(), confirmInput(h, "key-1"))
	if !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("expected conflict for an in-flight key, got %v", err)
	}
	if h.gateway.ChargeCalls() != 0 {
		t.Fatal("an in-flight key must not reach the gateway")
	}
}

func TestConfirmKeyReuseWithDifferentRequestConflicts(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)

	first := confirmInput(h, "key-1")
	first.Metadata = map[string]string{"channel": "web"}
	if _, err := h.svc.Confirm(context.Background(), first); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}

	t.Run("different reservation conflicts", func(t *testing.T) {
		other := first
		other.ReservationID = "some-other-reservation"
		_, err := h.svc.Confirm(context.Background(), other)
		if !fault.IsKind(err, fault.KindConflict) {
			t.Fatalf("expected conflict for a reused key, got %v", err)
		}
	})

	t.Run("different metadata conflicts", func(t *testing.T) {
		other := first
		other.Metadata = map[string]string{"channel": "pos"}
		_, err := h.svc.Confirm(context.Background(), other)
		if !fault.IsKind(err, fault.KindConflict) {
			t.Fatalf("expected conflict for changed metadata under the same key, got %v", err)
		}
	})

	t.Run("identical metadata replays", func(t *testing.T) {
		same := first
		same.Metadata = map[string]string{"channel": "web"}
		result, err := h.svc.Confirm(context.Background(), same)
		if err != nil {
			t.Fatalf("identical retry must replay, got %v", err)
		}
		if result.BookingID == "" {
			t.Fatal("replay must return the cached booking")
		}
		if h.gateway.ChargeCalls() != 1 {
			t.Fatalf("replay must not re-charge, got %d calls", h.gateway.ChargeCalls())
		}
	})
}

func TestConfirmValidation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	t.Run("missing idempotency key", func(t *testing.T) {
		h := newHarness(t, now)
		in := confirmInput(h, "")
		if _, err := h.svc.Confirm(context.Background(), in); !fault.IsKind(err, fault.KindInvalidState) {
			t.Fatalf("expected invalid-state, got %v", err)
		}
	})

	t.Run("unknown reservation", func(t *testing.T) {
		h := newHarness(t, now)
		in := confirmInput(h, "key-1")
		in.ReservationID = "nope"
		if _, err := h.svc.Confirm(context.Background(), in); !fault.IsKind(err, fault.KindNotFound) {
			t.Fatalf("expected not-found, got %v", err)
		}
	})

	t.Run("wrong owner", func(t *testing.T) {
		h := newHarness(t, now)
		in := confirmInput(h, "key-1")
		in.OwnerID = "mallory"
		if _, err := h.svc.Confirm(context.Background(), in); !fault.IsKind(err, fault.KindNotFound) {
			t.Fatalf("expected not-found for a non-owner, got %v", err)
		}
	})

	t.Run("unknown payment method", func(t *testing.T) {
		h := newHarness(t, now)
		in := confirmInput(h, "key-1")
		in.PaymentMethod = "carrier-pigeon"
		if _, err := h.svc.Confirm(context.Background(), in); !fault.IsKind(err, fault.KindInvalidState) {
			t.Fatalf("expected invalid-state for unknown method, got %v", err)
		}
		if h.gateway.ChargeCalls() != 0 {
			t.Fatal("an unknown method must not reach any gateway")
		}
	})
}

func TestConfirmLockBusyIsRetryable(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, now)
	h.locker.busy = true

	_, err := h.svc.Confirm(context.Background(), confirmInput(h, "key-1"))
	if !fault.IsKind(err, fault.KindConflict) {
		t.Fatalf("expected conflict on busy locks, got %v", err)
	}
	if h.gateway.ChargeCalls() != 0 {
		t.Fatal("a busy lock must not reach the gateway")
	}
	if rec := h.idem.record("key-1"); rec != nil {
		t.Fatalf("a retryable failure must free the key, got %+v", rec)
	}

	h.locker.busy = false
	if _, err := h.svc.Confirm(context.Background(), confirmInput(h, "key-1")); err != nil {
		t.Fatalf("retry with free locks failed: %v", err)
	}
	if h.gateway.ChargeCalls() != 1 {
		t.Fatalf("expected exactly one charge across retry, got %d", h.gateway.ChargeCalls())
	}
}
