package pipeline

import (
	"sync"
	"time"
)

// flushTimer periodically forces emission of the partial pending batch.
// The timer is re-armed only after a firing returns (delay-until-next-fire),
// so flush work never overlaps itself.
type flushTimer struct {
	interval time.Duration
	fire     func()
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newFlushTimer(interval time.Duration, fire func()) *flushTimer {
	return &flushTimer{
		interval: interval,
		fire:     fire,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

func (t *flushTimer) start() {
	go t.run()
}

func (t *flushTimer) run() {
	defer close(t.doneCh)

	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-timer.C:
			// stop may have raced with an already-expired tick; it
			// must still suppress the firing.
			select {
			case <-t.stopCh:
				return
			default:
			}
			t.fire()
			timer.Reset(t.interval)
		}
	}
}

// stop disarms the timer permanently. An in-flight firing is allowed to
// finish; no new firing starts once stop has been requested, even for a
// tick that already expired.
func (t *flushTimer) stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
}
