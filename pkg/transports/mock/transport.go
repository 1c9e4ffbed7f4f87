package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/vigil/pkg/events"
)

// Transport is an in-memory transport for local testing and integration.
// It implements the transports.Transport interface without any network
// dependency.
type Transport struct {
	recvCh chan events.Event
	sentCh chan events.Event
	closed atomic.Bool
	mu     sync.Mutex
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan events.Event, 256),
		sentCh: make(chan events.Event, 256),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		t.mu.Lock()
		close(t.recvCh)
		close(t.sentCh)
		t.mu.Unlock()
	}
	return nil
}

func (t *Transport) Recv() <-chan events.Event { return t.recvCh }

func (t *Transport) Send(ev events.Event) error {
	if t.closed.Load() {
		return nil
	}
	select {
	case t.sentCh <- ev:
	default:
	}
	return nil
}

// Push injects an inbound event into the transport.
func (t *Transport) Push(ev events.Event) {
	if t.closed.Load() {
		return
	}
	select {
	case t.recvCh <- ev:
	default:
	}
}

// Sent exposes outbound events for inspection.
func (t *Transport) Sent() <-chan events.Event { return t.sentCh }
