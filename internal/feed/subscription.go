package feed

import "sync"

// Subscription delivers one thread's events on C until Close is called. C is
// closed once the backend has let go of it.
type Subscription struct {
	C <-chan Event

	once    sync.Once
	release func()
}

func newSubscription(c <-chan Event, release func()) *Subscription {
	return &Subscription{C: c, release: release}
}

// Close is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}
