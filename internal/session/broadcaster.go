package session

import "sync"

const subscriberBuffer = 16

// broadcaster fans updates out to subscribers. A lagging subscriber misses
// intermediate updates but always ends with the latest one, since every
// update carries the full state.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Update]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Update]struct{})}
}

// subscribe registers a subscriber whose channel starts with initial.
func (b *broadcaster) subscribe(initial Update) chan Update {
	ch := make(chan Update, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	ch <- initial
	b.subs[ch] = struct{}{}
	return ch
}

func (b *broadcaster) unsubscribe(ch chan Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *broadcaster) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- u:
			continue
		default:
		}
		// Full: evict the oldest so the newest is never the one lost.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// close ends every subscription.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	b.closed = true
}
