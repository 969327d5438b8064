package logbus

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberBuffer is the per-subscriber channel capacity. A subscriber that
// falls this far behind starts losing lines rather than stalling publishers.
const subscriberBuffer = 64

// Broadcaster fans progress lines out to a dynamic set of subscribers. Every
// published line also goes to the underlying logger, so the broadcast path is
// purely additive.
type Broadcaster struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]chan string
}

func New(logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		logger: logger,
		subs:   make(map[uuid.UUID]chan string),
	}
}

// NewNop returns a broadcaster that logs nowhere. Useful as a default in
// constructors and tests.
func NewNop() *Broadcaster {
	return New(zap.NewNop())
}

// Publish delivers line to every current subscriber. A subscriber with a full
// buffer loses the line; that is logged locally and never surfaces to the
// publisher or affects other subscribers.
func (b *Broadcaster) Publish(line string) {
	b.logger.Info(line)

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- line:
		default:
			b.logger.Warn("subscriber lagging, dropping line", zap.String("subscriber_id", id.String()))
		}
	}
}

// Publishf is Publish with fmt formatting.
func (b *Broadcaster) Publishf(format string, args ...any) {
	b.Publish(fmt.Sprintf(format, args...))
}

// Subscribe registers a new subscriber and returns its id plus a channel of
// future lines. Lines published before the call are not replayed.
func (b *Broadcaster) Subscribe() (uuid.UUID, <-chan string) {
	id := uuid.New()
	ch := make(chan string, subscriberBuffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown or
// already-removed ids are a no-op.
func (b *Broadcaster) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(ch)
	}
}
