package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards events of type T to ch for SSE select loops.
// An event that finds ch full is dropped and counted in Dropped.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			bus.dropped.Add(1)
		}
	})
}

// Dropped returns how many events slow channel subscribers have missed.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
