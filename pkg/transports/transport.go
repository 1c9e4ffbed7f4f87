package transports

import (
	"context"

	"github.com/harunnryd/vigil/pkg/events"
)

// Transport defines a vendor-agnostic push channel for session and frame
// events. Implementations are responsible for their own network lifecycle,
// including reconnection.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan events.Event
	Send(events.Event) error
}

// ReadyReporter allows transports to expose readiness metadata for
// informational logging.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
