// Package capture turns a browser screen share into an ordered stream of media chunks.
//
// The browser owns the actual capture. It reaches the agent either over a WebSocket carrying
// MediaRecorder chunks or as a WebRTC video track; both end up as a Pending offer on the Broker,
// which a recording session claims with Open.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPermissionDenied = errors.New("screen capture permission denied")
	ErrNoSource         = errors.New("no screen capture source")
)

// EventKind tells chunk deliveries apart from the end of the share.
type EventKind int

const (
	EventChunk EventKind = iota
	EventEnded           // the share was ended outside the agent, e.g. the user revoked it in the browser
)

func (k EventKind) String() string {
	switch k {
	case EventChunk:
		return "chunk"
	case EventEnded:
		return "ended"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one message from a capture stream. Data may be empty for chunk events.
type Event struct {
	Kind EventKind
	Data []byte
	At   time.Time
}

// Constraints are sent to the browser when a capture starts.
type Constraints struct {
	Audio     bool
	Timeslice time.Duration
}

// Stream is a live capture.
//
// Events are delivered in production order. The channel is closed once the stream is finished,
// either after Close returns or right after an EventEnded. Consumers must drain it until closed.
// Close releases the underlying tracks and is safe to call more than once.
type Stream interface {
	ID() string
	MimeType() string
	Events() <-chan Event
	Close() error
}

// Source hands out capture streams.
type Source interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Pending is a browser connection waiting to be asked for a capture.
type Pending interface {
	// Start asks the browser to begin capturing. It returns ErrPermissionDenied or ErrNoSource
	// when the browser reports that capture is impossible.
	Start(ctx context.Context, c Constraints) (Stream, error)
	// Abort drops a connection that will never be started.
	Abort()
}

// Broker holds at most one pending browser connection and implements Source.
// A newer connection replaces an older unclaimed one.
type Broker struct {
	pending chan Pending
	logger  *zap.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{
		pending: make(chan Pending, 1),
		logger:  logger.With(zap.String("component", "capture")),
	}
}

// Offer parks p until a session opens a capture.
func (b *Broker) Offer(p Pending) {
	for {
		select {
		case b.pending <- p:
			return
		default:
		}
		select {
		case old := <-b.pending:
			b.logger.Debug("replacing unclaimed capture connection")
			old.Abort()
		default:
		}
	}
}

// Ready reports whether a browser connection is waiting.
func (b *Broker) Ready() bool {
	return len(b.pending) > 0
}

// Open waits for a browser connection and starts it. When ctx ends first the error wraps ErrNoSource.
func (b *Broker) Open(ctx context.Context, c Constraints) (Stream, error) {
	select {
	case p := <-b.pending:
		return p.Start(ctx, c)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNoSource, ctx.Err())
	}
}
