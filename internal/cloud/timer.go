package cloud

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clockTimer implements backoff.Timer on top of a clockwork.Clock so retry waits follow a fake clock in tests.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func newClockTimer(clock clockwork.Clock) *clockTimer {
	return &clockTimer{clock: clock}
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
