package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

type stateRecorder struct{ states []int }

func (s *stateRecorder) SetBreakerState(_ string, state int) { s.states = append(s.states, state) }

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	obs := &stateRecorder{}
	cfg := DefaultConfig("his")
	cfg.FailureThreshold = 3
	cfg.Timeout = time.Hour
	b, err := New(cfg, zerolog.Nop(), obs)
	if err != nil {
		t.Fatal(err)
	}

	upstream := errors.New("502 bad gateway")
	for i := 0; i < 3; i++ {
		if err := b.Do(context.Background(), func(context.Context) error { return upstream }); !errors.Is(err, upstream) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	called := false
	err = b.Do(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
	if len(obs.states) != 1 || obs.states[0] != int(gobreaker.StateOpen) {
		t.Errorf("observer states = %v", obs.states)
	}
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	cfg := DefaultConfig("his")
	cfg.FailureThreshold = 1
	b, err := New(cfg, zerolog.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = b.Do(context.Background(), func(context.Context) error { return context.Canceled })
	if b.State() != gobreaker.StateClosed {
		t.Errorf("expected closed after cancellation, got %v", b.State())
	}
}
