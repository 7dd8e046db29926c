// README: In-process event bus decoupling lifecycle writes from notification transports.
package events

import "sync"

// Bus fans events out to subscribers over buffered channels. Publish never
// blocks: a subscriber that falls behind loses events, which matches the
// fire-and-forget notification contract.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel receiving all future events. The channel is
// buffered; slow consumers drop rather than stall publishers.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}
