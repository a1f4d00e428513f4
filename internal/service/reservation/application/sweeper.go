package application

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"boxoffice/internal/pkg/metrics"
	"boxoffice/internal/service/reservation/domain"
	"boxoffice/internal/service/reservation/port"
)

// ExpireSweep walks ACTIVE reservations past their expiry and reclaims
// their units. It competes for the same unit locks as live
// confirmations and cancellations: after taking a reservation's locks
// it re-checks every unit, so a confirm that slipped in between
// selection and lock acquisition wins and the sweep leaves its units
// untouched. The reservation write itself is a guarded ACTIVE to
// EXPIRED transition, so a reservation confirmed or cancelled after
// selection is skipped rather than overwritten.
//
// Returns the number of reservations marked EXPIRED.
func (s *Service) ExpireSweep(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.ExpireSweep")
	defer span.End()

	now := s.clk.Now()
	expired, err := s.reservations.FindActiveExpired(ctx, now, s.sweepBatch)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	var swept atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.sweepWorkers)

	for _, res := range expired {
		res := res
		g.Go(func() error {
			if err := s.expireOne(gctx, res); err != nil {
				if errors.Is(err, domain.ErrStaleReservation) {
					// A confirm or cancel won the race after selection;
					// the reservation is no longer ours to expire.
					return nil
				}
				// One stuck reservation must not stall the sweep; it
				// will be retried on the next tick.
				log.Warn().Err(err).Str("reservation_id", res.ID).Msg("sweep skipped reservation")
				return nil
			}
			swept.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(swept.Load()), err
	}
	return int(swept.Load()), nil
}

func (s *Service) expireOne(ctx context.Context, res *domain.Reservation) error {
	// A busy lock means a live confirm or cancel holds the units;
	// defer to it and let the next tick retry.
	handle, err := s.locks.Acquire(ctx, res.UnitLockKeys(), s.lockTTL)
	if err != nil {
		return err
	}
	defer s.locks.Release(ctx, handle)

	var reclaimed int
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		units, err := s.units.FindByIDs(ctx, res.EventID, res.UnitIDs)
		if err != nil {
			return err
		}
		for _, unit := range units {
			// Only units still on hold for this reservation's owner
			// are reclaimed; anything else already transitioned under
			// its own lock scope.
			if !unit.HeldBy(res.OwnerID) {
				continue
			}
			if err := unit.ReleaseHold(); err != nil {
				return err
			}
			if err := s.units.Save(ctx, unit); err != nil {
				return err
			}
			reclaimed++
		}
		if err := res.Expire(); err != nil {
			return err
		}
		return s.reservations.UpdateStatus(ctx, res.ID, domain.ReservationActive, res.Status)
	})
	if err != nil {
		return err
	}

	metrics.UnitsReclaimed.Add(float64(reclaimed))
	if s.publisher != nil {
		ev := &port.ReservationExpiredEvent{
			ReservationID: res.ID,
			EventID:       res.EventID,
			OwnerID:       res.OwnerID,
			UnitIDs:       res.UnitIDs,
			ExpiredAt:     s.clk.Now(),
		}
		if err := s.publisher.ReservationExpired(ctx, ev); err != nil {
			// Event delivery is best effort; the state change already
			// committed.
			log.Warn().Err(err).Str("reservation_id", res.ID).Msg("failed to publish expiry event")
		}
	}
	return nil
}

// Sweeper drives ExpireSweep on a fixed interval until the context is
// cancelled.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

// NewSweeper builds the background sweep loop.
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, interval: interval}
}

// Run blocks until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.svc.ExpireSweep(ctx)
			if err != nil {
				log.Error().Err(err).Msg("expiry sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("reservations", n).Msg("expiry sweep reclaimed holds")
			}
		}
	}
}
