package channel

import "sync"

type queued struct {
	Frame
	audio bool
}

// outbox is the single-writer send queue. Audio is bounded and sheds its
// oldest entry when full; control frames are never dropped.
type outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []queued
	audio  int
	limit  int
	closed bool
}

func newOutbox(limit int) *outbox {
	if limit <= 0 {
		limit = 1
	}
	o := &outbox{limit: limit}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// push enqueues item and reports whether an older audio frame was shed.
// Pushing to a closed outbox is a no-op.
func (o *outbox) push(item queued) (dropped bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}

	if item.audio && o.audio >= o.limit {
		for i := range o.items {
			if o.items[i].audio {
				o.items = append(o.items[:i], o.items[i+1:]...)
				o.audio--
				dropped = true
				break
			}
		}
	}

	o.items = append(o.items, item)
	if item.audio {
		o.audio++
	}
	o.cond.Signal()
	return dropped
}

// pop blocks for the next item. It returns false once the outbox is closed
// and empty.
func (o *outbox) pop() (queued, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.items) == 0 && !o.closed {
		o.cond.Wait()
	}
	if len(o.items) == 0 {
		return queued{}, false
	}
	item := o.items[0]
	o.items[0] = queued{}
	o.items = o.items[1:]
	if item.audio {
		o.audio--
	}
	return item, true
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cond.Broadcast()
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}
