package memory

import "sync"

// NotificationBus delivers fire-and-forget refresh signals to consumers
// (the presentation layer re-reads derived state on each signal). Sends
// never block: a subscriber that has not drained its pending signal is
// simply not queued again.
type NotificationBus struct {
	mu   sync.Mutex
	subs []chan struct{}
}

func NewNotificationBus() *NotificationBus {
	return &NotificationBus{}
}

// Subscribe returns a channel that receives at most one pending refresh
// signal at a time.
func (b *NotificationBus) Subscribe() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{}, 1)
	b.subs = append(b.subs, ch)
	return ch
}

// SignalRefresh notifies all subscribers without blocking.
func (b *NotificationBus) SignalRefresh() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
