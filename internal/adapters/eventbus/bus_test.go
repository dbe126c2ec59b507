package eventbus

import (
	"context"
	"errors"
	"testing"

	"riskGate/internal/domain"
	"riskGate/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func TestPublishRouting(t *testing.T) {
	bus, err := New(nopLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var typed, all int
	bus.Subscribe(domain.EventRiskAlert, func(e domain.Event) { typed++ })
	bus.SubscribeAll(func(e domain.Event) { all++ })

	ctx := context.Background()
	if err := bus.Publish(ctx, domain.Event{Type: domain.EventRiskAlert}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := bus.Publish(ctx, domain.Event{Type: domain.EventOrderSubmitted}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if typed != 1 {
		t.Errorf("typed handler ran %d times, want 1", typed)
	}
	if all != 2 {
		t.Errorf("catch-all handler ran %d times, want 2", all)
	}
}

func TestPublishIsolatesPanics(t *testing.T) {
	bus, err := New(nopLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var survived bool
	bus.Subscribe(domain.EventRiskAlert, func(e domain.Event) { panic("subscriber bug") })
	bus.Subscribe(domain.EventRiskAlert, func(e domain.Event) { survived = true })

	if err := bus.Publish(context.Background(), domain.Event{Type: domain.EventRiskAlert}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !survived {
		t.Error("panic in one handler blocked delivery to the next")
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus, err := New(nopLogger{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bus.Close()

	err = bus.Publish(context.Background(), domain.Event{Type: domain.EventRiskAlert})
	if !errors.Is(err, ports.ErrInvalidState) {
		t.Errorf("Publish after Close returned %v, want ErrInvalidState", err)
	}
}

func TestNewRequiresLogger(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ports.ErrConfigurationError) {
		t.Errorf("New(nil) returned %v, want ErrConfigurationError", err)
	}
}
