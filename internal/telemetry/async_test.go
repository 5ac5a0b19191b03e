package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Svyat0y/form-builder-backend/internal/telemetry/domain"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.Event
	emitErr error
	done    chan struct{}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func TestEmitAsync_NilEmitterOrEvent(t *testing.T) {
	// Should not panic
	EmitAsync(nil, context.Background(), &domain.Event{EventType: "test"}, nil)
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, context.Background(), nil, nil)
	time.Sleep(10 * time.Millisecond)
	if len(emitter.getEvents()) != 0 {
		t.Error("nil event must not be emitted")
	}
}

func TestEmitAsync_EmitsAfterRequestCancelled(t *testing.T) {
	emitter := &mockEventEmitter{done: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(emitter, ctx, domain.NewEvent(domain.EventLogout, "test", "u1", "s1", nil), nil)

	select {
	case <-emitter.done:
	case <-time.After(time.Second):
		t.Fatal("event was not emitted")
	}
	events := emitter.getEvents()
	if len(events) != 1 || events[0].EventType != domain.EventLogout {
		t.Fatalf("events = %+v", events)
	}
}

// gatedEmitter blocks each Emit until release is closed.
type gatedEmitter struct{ release chan struct{} }

func (g gatedEmitter) Emit(ctx context.Context, _ *domain.Event) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDrain_WaitsForPendingEmits(t *testing.T) {
	if !Drain(context.Background()) {
		t.Fatal("Drain with nothing pending should return true")
	}
	g := gatedEmitter{release: make(chan struct{})}
	EmitAsync(g, context.Background(), domain.NewEvent(domain.EventLoginSuccess, "test", "u1", "s1", nil), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if Drain(ctx) {
		t.Fatal("Drain returned while an emit was still blocked")
	}

	close(g.release)
	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !Drain(ctx) {
		t.Fatal("Drain timed out after the emit was released")
	}
}

func TestMulti(t *testing.T) {
	a := &mockEventEmitter{}
	b := &mockEventEmitter{emitErr: errors.New("kafka down")}
	m := Multi(a, nil, b)

	err := m.Emit(context.Background(), domain.NewEvent(domain.EventRegister, "test", "u1", "", map[string]string{"k": "v"}))
	if err == nil {
		t.Fatal("Multi should report the failing emitter's error")
	}
	if len(a.getEvents()) != 1 || len(b.getEvents()) != 1 {
		t.Fatal("every emitter should receive the event")
	}
	if string(a.getEvents()[0].Metadata) != `{"k":"v"}` {
		t.Errorf("metadata = %s", a.getEvents()[0].Metadata)
	}
}
