// Package forward implements the per-direction forwarding pipeline.
package forward

import "sync"

// defaultDedupSize is the length of the rolling window of recently seen
// message ids kept per pair.
const defaultDedupSize = 64

// dedupWindow suppresses exact re-delivery of recently seen message ids.
// It is an idempotency guard against duplicate upstream delivery, not an
// exactly-once mechanism.
type dedupWindow struct {
	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	idx  int
}

func newDedupWindow(size int) *dedupWindow {
	if size <= 0 {
		size = defaultDedupSize
	}
	return &dedupWindow{
		seen: make(map[string]struct{}, size),
		ring: make([]string, size),
	}
}

// Seen records the id and reports whether it was already in the window.
func (d *dedupWindow) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	if old := d.ring[d.idx]; old != "" {
		delete(d.seen, old)
	}
	d.ring[d.idx] = id
	d.idx = (d.idx + 1) % len(d.ring)
	d.seen[id] = struct{}{}
	return false
}
