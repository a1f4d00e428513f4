package saga

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSagaExecutesStepsInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	s := New("test", otel.Tracer("test"),
		Step{Name: "one", Run: func(ctx context.Context) error {
			order = append(order, "one")
			return nil
		}},
		Step{Name: "two", Run: func(ctx context.Context) error {
			order = append(order, "two")
			return nil
		}},
	)

	if err := s.Execute(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(order) != 2 || order[0] != "one" || order[1] != "two" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

func TestSagaCompensatesInReverseOnFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("step three failed")
	var trace []string
	s := New("test", otel.Tracer("test"),
		Step{
			Name: "one",
			Run:  func(ctx context.Context) error { trace = append(trace, "run:one"); return nil },
			Compensate: func(ctx context.Context) error {
				trace = append(trace, "comp:one")
				return nil
			},
		},
		Step{
			Name: "two",
			Run:  func(ctx context.Context) error { trace = append(trace, "run:two"); return nil },
			Compensate: func(ctx context.Context) error {
				trace = append(trace, "comp:two")
				return nil
			},
		},
		Step{
			Name: "three",
			Run:  func(ctx context.Context) error { return boom },
			Compensate: func(ctx context.Context) error {
				t.Error("compensation of the failed step itself must not run")
				return nil
			},
		},
	)

	err := s.Execute(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected the original forward error, got %v", err)
	}

	want := []string{"run:one", "run:two", "comp:two", "comp:one"}
	if len(trace) != len(want) {
		t.Fatalf("expected trace %v, got %v", want, trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("expected trace %v, got %v", want, trace)
		}
	}
}

func TestSagaFirstStepFailureCompensatesNothing(t *testing.T) {
	t.Parallel()

	boom := errors.New("charge failed")
	compensated := false
	s := New("test", otel.Tracer("test"),
		Step{
			Name:       "charge",
			Run:        func(ctx context.Context) error { return boom },
			Compensate: func(ctx context.Context) error { compensated = true; return nil },
		},
	)

	if err := s.Execute(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected charge error, got %v", err)
	}
	if compensated {
		t.Fatal("nothing completed, nothing may be compensated")
	}
}

func TestSagaCompensationFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	var trace []string
	s := New("test", otel.Tracer("test"),
		Step{
			Name: "one",
			Run:  func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error {
				trace = append(trace, "comp:one")
				return nil
			},
		},
		Step{
			Name: "two",
			Run:  func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error {
				trace = append(trace, "comp:two")
				return errors.New("refund endpoint down")
			},
		},
		Step{
			Name: "three",
			Run:  func(ctx context.Context) error { return errors.New("fail") },
		},
	)

	_ = s.Execute(context.Background())
	if len(trace) != 2 || trace[0] != "comp:two" || trace[1] != "comp:one" {
		t.Fatalf("expected both compensations to run in reverse, got %v", trace)
	}
}
