package orchestrator

import (
	"sync"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
)

// Subscribe streams every transition of the run, starting from the first,
// without dropping any. The channel closes once the run has stopped and
// every event has been delivered, or after cancel is called.
func (o *Orchestrator) Subscribe(runID uuid.UUID) (<-chan domain.TransitionEvent, func(), error) {
	r, err := o.get(runID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan domain.TransitionEvent)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	go func() {
		defer close(ch)
		next := 0
		for {
			r.mu.RLock()
			pending := append([]domain.TransitionEvent(nil), r.events[next:]...)
			changed := r.changed
			r.mu.RUnlock()

			for _, ev := range pending {
				select {
				case ch <- ev:
					next++
				case <-stop:
					return
				}
			}
			if len(pending) > 0 {
				continue
			}

			select {
			case <-changed:
			case <-r.done:
				// the driver has exited; drain what it emitted last
				r.mu.RLock()
				drained := next >= len(r.events)
				r.mu.RUnlock()
				if drained {
					return
				}
			case <-stop:
				return
			}
		}
	}()
	return ch, cancel, nil
}
