package scan

import "time"

// DefaultRescanDelay is the wait between the first structural change and the
// rescan it triggers.
const DefaultRescanDelay = 100 * time.Millisecond

// Rescan coalesces mutation batches into scans. The first batch with added
// nodes arms a fixed-delay timer; batches arriving while it is armed are
// absorbed. The timer is never pushed back, so a steady stream of mutations
// still yields one scan per delay.
//
// Rescan is owned by a single loop goroutine: call Notify and Fired from it
// and select on C.
type Rescan struct {
	delay   time.Duration
	timer   *time.Timer
	timerC  <-chan time.Time
	armed   bool
	batches int
}

// NewRescan returns a coalescer with the given delay. delay <= 0 uses
// DefaultRescanDelay.
func NewRescan(delay time.Duration) *Rescan {
	if delay <= 0 {
		delay = DefaultRescanDelay
	}
	return &Rescan{delay: delay}
}

// Notify records a mutation batch of added nodes. It reports whether this
// batch armed the timer.
func (r *Rescan) Notify(added int) bool {
	if added <= 0 {
		return false
	}
	r.batches++
	if r.armed {
		return false
	}
	r.armed = true
	r.timer = time.NewTimer(r.delay)
	r.timerC = r.timer.C
	return true
}

// C fires when the armed delay elapses. It is nil while disarmed.
func (r *Rescan) C() <-chan time.Time { return r.timerC }

// Fired disarms the coalescer after C fired and returns how many batches the
// scan covers.
func (r *Rescan) Fired() int {
	n := r.batches
	r.armed = false
	r.batches = 0
	r.timer = nil
	r.timerC = nil
	return n
}

// Armed reports whether a rescan is pending.
func (r *Rescan) Armed() bool { return r.armed }

// Stop disarms without firing.
func (r *Rescan) Stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.Fired()
}
