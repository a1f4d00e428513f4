package lock

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/metrics"
)

// ErrBusy is returned when a lock could not be taken within the bounded
// retry budget. The manager never retries past that budget; callers
// decide whether to retry or surface a conflict.
var ErrBusy = errors.New("lock busy")

const (
	// driftFactor estimates clock drift between backends as a fraction
	// of the ttl, per the Redlock validity calculation.
	driftFactor = 0.01
	// minDrift is added on top so very short ttls still carry a margin.
	minDrift = 2 * time.Millisecond
)

// Handle proves ownership of a set of keys. The token is shared across
// the keys of one acquisition; release and extend are fenced on it.
type Handle struct {
	keys  []string
	token string
	ttl   time.Duration
}

// Keys returns the locked keys in acquisition order.
func (h *Handle) Keys() []string { return h.keys }

// Token returns the fencing token backing this handle.
func (h *Handle) Token() string { return h.token }

// Manager acquires named mutexes across a set of independent backends
// using strict-majority quorum per key. Multi-key acquisitions sort the
// keys first so every caller takes overlapping sets in the same order,
// which rules out circular waits.
type Manager struct {
	backends     []Backend
	retryCount   int
	retryBackoff time.Duration
	tracer       trace.Tracer
}

// NewManager builds a manager over the given backends. An even number of
// backends works but wastes one: quorum is len/2+1 either way.
func NewManager(backends []Backend, retryCount int, retryBackoff time.Duration, tracer trace.Tracer) *Manager {
	if len(backends) == 0 {
		panic("lock: manager needs at least one backend")
	}
	if retryCount < 1 {
		retryCount = 1
	}
	if retryBackoff <= 0 {
		retryBackoff = 50 * time.Millisecond
	}
	return &Manager{
		backends:     backends,
		retryCount:   retryCount,
		retryBackoff: retryBackoff,
		tracer:       tracer,
	}
}

func (m *Manager) quorum() int { return len(m.backends)/2 + 1 }

// Acquire takes every key in keys, or none of them. Keys are
// deduplicated and sorted before sequential acquisition; when any key
// cannot be taken, keys already taken by this call are released and
// ErrBusy is returned.
func (m *Manager) Acquire(ctx context.Context, keys []string, ttl time.Duration) (*Handle, error) {
	if len(keys) == 0 {
		return nil, errors.New("lock: no keys given")
	}

	ordered := dedupeSorted(keys)
	token := uuid.NewString()

	ctx, span := m.tracer.Start(ctx, "lock.Acquire")
	defer span.End()
	span.SetAttributes(
		attribute.StringSlice("lock.keys", ordered),
		attribute.Int64("lock.ttl_ms", ttl.Milliseconds()),
	)

	start := time.Now()
	for i, key := range ordered {
		if err := m.acquireKey(ctx, key, token, ttl); err != nil {
			m.releaseKeys(ctx, ordered[:i], token)
			if errors.Is(err, ErrBusy) {
				metrics.LockAcquisitions.WithLabelValues("busy").Inc()
			} else {
				metrics.LockAcquisitions.WithLabelValues("error").Inc()
			}
			span.RecordError(err)
			return nil, err
		}
	}

	metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	metrics.LockAcquireDuration.Observe(time.Since(start).Seconds())
	return &Handle{keys: ordered, token: token, ttl: ttl}, nil
}

// Release clears every key of the handle on every backend. Individual
// backend failures are logged and skipped: the entries expire with the
// ttl anyway, and the token fencing keeps a stale delete harmless.
func (m *Manager) Release(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	m.releaseKeys(ctx, h.keys, h.token)
}

// Extend resets the ttl on every key of the handle, requiring quorum per
// key just like acquisition. ErrBusy means the handle no longer holds a
// majority for some key and must not be relied upon.
func (m *Manager) Extend(ctx context.Context, h *Handle, ttl time.Duration) error {
	if h == nil {
		return errors.New("lock: nil handle")
	}
	for _, key := range h.keys {
		granted := 0
		for _, b := range m.backends {
			ok, err := b.Extend(ctx, key, h.token, ttl)
			if err != nil {
				log.Warn().Err(err).Str("backend", b.Name()).Str("key", key).Msg("lock extend failed on backend")
				continue
			}
			if ok {
				granted++
			}
		}
		if granted < m.quorum() {
			return ErrBusy
		}
	}
	h.ttl = ttl
	return nil
}

// acquireKey runs the quorum protocol for a single key with bounded
// exponential backoff between attempts.
func (m *Manager) acquireKey(ctx context.Context, key, token string, ttl time.Duration) error {
	backoff := m.retryBackoff
	for attempt := 0; attempt < m.retryCount; attempt++ {
		if attempt > 0 {
			// Jittered exponential backoff; context cancellation cuts
			// the wait short.
			sleep := backoff + time.Duration(rand.Int63n(int64(backoff)/2+1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			backoff *= 2
		}

		start := time.Now()
		granted := 0
		for _, b := range m.backends {
			ok, err := b.TryAcquire(ctx, key, token, ttl)
			if err != nil {
				log.Warn().Err(err).Str("backend", b.Name()).Str("key", key).Msg("lock acquire failed on backend")
				continue
			}
			if ok {
				granted++
			}
		}

		// The lock is only valid if a strict majority granted it and
		// enough of the ttl remains after subtracting elapsed time and
		// the drift margin.
		drift := time.Duration(float64(ttl)*driftFactor) + minDrift
		validity := ttl - time.Since(start) - drift
		if granted >= m.quorum() && validity > 0 {
			return nil
		}

		// Partial grants must not linger on the minority backends.
		for _, b := range m.backends {
			if _, err := b.Release(ctx, key, token); err != nil {
				log.Warn().Err(err).Str("backend", b.Name()).Str("key", key).Msg("partial lock release failed")
			}
		}
	}
	return ErrBusy
}

func (m *Manager) releaseKeys(ctx context.Context, keys []string, token string) {
	for _, key := range keys {
		for _, b := range m.backends {
			if _, err := b.Release(ctx, key, token); err != nil {
				log.Warn().Err(err).Str("backend", b.Name()).Str("key", key).Msg("lock release failed on backend")
			}
		}
	}
}

func dedupeSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
