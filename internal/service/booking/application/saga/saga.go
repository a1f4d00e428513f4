// Package saga runs an ordered list of compensable steps. Each step
// pairs a forward action with the compensation that undoes it; on any
// forward failure the compensations of all completed steps run in
// strict reverse order and the original error is propagated. Adding a
// step is safe by construction: its compensation rides along with it.
package saga

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"boxoffice/internal/pkg/metrics"
)

// Step is one compensable unit of work.
type Step struct {
	// Name labels spans and logs.
	Name string
	// Run performs the forward action.
	Run func(ctx context.Context) error
	// Compensate undoes a completed Run. Nil means the step has
	// nothing to undo. Compensation failures are logged and counted
	// for manual follow-up, never retried automatically.
	Compensate func(ctx context.Context) error
}

// Saga executes steps in order.
type Saga struct {
	name   string
	steps  []Step
	tracer trace.Tracer
}

// New builds a saga.
func New(name string, tracer trace.Tracer, steps ...Step) *Saga {
	return &Saga{name: name, steps: steps, tracer: tracer}
}

// Execute runs every step in order. On a forward failure it compensates
// the already-completed steps in reverse and returns the error of the
// failed forward action.
func (s *Saga) Execute(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "saga."+s.name)
	defer span.End()

	completed := make([]Step, 0, len(s.steps))
	for _, step := range s.steps {
		stepCtx, stepSpan := s.tracer.Start(ctx, "saga."+s.name+"."+step.Name)
		err := step.Run(stepCtx)
		if err != nil {
			stepSpan.RecordError(err)
			stepSpan.SetStatus(codes.Error, "forward action failed")
			stepSpan.End()

			span.SetAttributes(attribute.String("saga.failed_step", step.Name))
			s.compensate(ctx, completed)
			return err
		}
		stepSpan.End()
		completed = append(completed, step)
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, completed []Step) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if step.Compensate == nil {
			continue
		}
		compCtx, compSpan := s.tracer.Start(ctx, "saga."+s.name+"."+step.Name+".compensate")
		if err := step.Compensate(compCtx); err != nil {
			compSpan.RecordError(err)
			compSpan.SetStatus(codes.Error, "compensation failed")
			metrics.CompensationFailures.Inc()
			log.Error().Err(err).
				Str("saga", s.name).
				Str("step", step.Name).
				Msg("compensation failed, manual follow-up required")
		}
		compSpan.End()
	}
}
