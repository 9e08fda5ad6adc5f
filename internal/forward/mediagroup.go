package forward

import (
	"sync"
	"time"

	"github.com/magisk317/napgram/internal/message"
	"github.com/magisk317/napgram/internal/telegram"
)

// DefaultQuietPeriod is how long a media group buffer waits after the last
// arrival before flushing.
const DefaultQuietPeriod = time.Second

// GroupKey identifies one in-flight media-group burst.
type GroupKey struct {
	Platform message.Platform
	GroupID  string
}

// FlushFunc receives a completed burst in arrival order.
type FlushFunc func(key GroupKey, items []*telegram.Incoming)

// Batcher accumulates a platform's multi-attachment burst and flushes it as
// one combined message after a quiet period. Buffers live in a map owned by
// the batcher; removal from the map and timer cancellation happen atomically
// before any flush work starts, so late arrivals can never inject into an
// in-flight flush.
type Batcher struct {
	mu      sync.Mutex
	buffers map[GroupKey]*groupBuffer
	quiet   time.Duration
	flush   FlushFunc
	closed  bool
}

type groupBuffer struct {
	items []*telegram.Incoming
	timer *time.Timer
}

// NewBatcher creates a batcher. quiet <= 0 selects the default period.
func NewBatcher(quiet time.Duration, flush FlushFunc) *Batcher {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Batcher{
		buffers: make(map[GroupKey]*groupBuffer),
		quiet:   quiet,
		flush:   flush,
	}
}

// Add appends one message to the burst for key, starting the buffer on the
// first item and resetting the quiet-period timer on every subsequent one.
func (b *Batcher) Add(key GroupKey, item *telegram.Incoming) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	buf, ok := b.buffers[key]
	if !ok {
		buf = &groupBuffer{}
		buf.timer = time.AfterFunc(b.quiet, func() { b.fire(key) })
		b.buffers[key] = buf
		buf.items = append(buf.items, item)
		return
	}

	buf.items = append(buf.items, item)
	// stop-then-reset so exactly one timer is ever live for the key
	buf.timer.Stop()
	buf.timer.Reset(b.quiet)
}

// fire removes the buffer from the live map before processing it.
func (b *Batcher) fire(key GroupKey) {
	b.mu.Lock()
	buf, ok := b.buffers[key]
	if ok {
		delete(b.buffers, key)
	}
	b.mu.Unlock()

	if !ok || len(buf.items) == 0 {
		return
	}
	b.flush(key, buf.items)
}

// Shutdown cancels all pending timers without flushing. Buffered content is
// dropped; best-effort delivery is the accepted tradeoff.
func (b *Batcher) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for key, buf := range b.buffers {
		buf.timer.Stop()
		delete(b.buffers, key)
	}
}

// Pending returns the number of live buffers, for tests and introspection.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers)
}
