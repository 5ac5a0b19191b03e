package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// scriptedReader returns the scripted results in order, then cancels the loop.
type scriptedReader struct {
	results []error // nil yields a message
	cancel  context.CancelFunc
	calls   int
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if r.calls >= len(r.results) {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	err := r.results[r.calls]
	r.calls++
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Value: []byte(`{"event_type":"login_success"}`), Offset: int64(r.calls)}, nil
}

type countingBackOff struct {
	next, resets int
	waits        []int // value of next at each Reset
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.next++
	return time.Millisecond
}

func (b *countingBackOff) Reset() {
	b.resets++
	b.waits = append(b.waits, b.next)
	b.next = 0
}

type memPusher struct {
	mu     sync.Mutex
	pushed int
	err    error
}

func (p *memPusher) PushEventJSON(context.Context, []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed++
	return p.err
}

func TestForwardLoop_BacksOffOnReadErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broken := errors.New("broker unreachable")
	reader := &scriptedReader{results: []error{broken, broken, broken, nil, broken, nil}, cancel: cancel}
	bo := &countingBackOff{}
	pusher := &memPusher{}

	forwardLoop(ctx, reader, pusher, bo, zap.NewNop())

	if pusher.pushed != 2 {
		t.Errorf("pushed %d messages, want 2", pusher.pushed)
	}
	if bo.resets != 2 {
		t.Fatalf("resets = %d, want 2", bo.resets)
	}
	if bo.waits[0] != 3 || bo.waits[1] != 1 {
		t.Errorf("backoff steps before each success = %v, want [3 1]", bo.waits)
	}
}

func TestForwardLoop_PushFailureSkipsMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &scriptedReader{results: []error{nil, nil}, cancel: cancel}
	pusher := &memPusher{err: errors.New("loki 503")}

	forwardLoop(ctx, reader, pusher, &countingBackOff{}, zap.NewNop())

	if pusher.pushed != 2 {
		t.Errorf("pushed %d messages, want 2", pusher.pushed)
	}
}

func TestForwardLoop_StopsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reader := &scriptedReader{results: []error{errors.New("broker unreachable")}, cancel: cancel}
	bo := newReadBackoff()
	bo.InitialInterval = time.Hour
	bo.MaxInterval = time.Hour
	bo.Reset()

	done := make(chan struct{})
	go func() {
		forwardLoop(ctx, reader, &memPusher{}, bo, zap.NewNop())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwardLoop kept waiting after cancel")
	}
}

func TestNewReadBackoff_Bounded(t *testing.T) {
	bo := newReadBackoff()
	bo.RandomizationFactor = 0
	var last time.Duration
	for i := 0; i < 20; i++ {
		last = bo.NextBackOff()
		if last > 5*time.Second {
			t.Fatalf("step %d: interval %v exceeds cap", i, last)
		}
	}
	if last != 5*time.Second {
		t.Errorf("interval after many failures = %v, want 5s", last)
	}
	bo.Reset()
	if got := bo.NextBackOff(); got != 100*time.Millisecond {
		t.Errorf("interval after reset = %v, want 100ms", got)
	}
}
