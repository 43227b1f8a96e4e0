package reconcile

import "time"

// DefaultFrameInterval approximates one 60Hz frame
const DefaultFrameInterval = 16 * time.Millisecond

// FrameScheduler runs fn once at the next frame boundary.
// The returned cancel prevents fn from running if it has not started.
// Implementations must not call fn synchronously.
type FrameScheduler interface {
	RequestFrame(fn func()) (cancel func())
}

// IntervalFrames is a FrameScheduler backed by time.AfterFunc
type IntervalFrames struct {
	Interval time.Duration
}

func (f IntervalFrames) RequestFrame(fn func()) func() {
	interval := f.Interval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	t := time.AfterFunc(interval, fn)
	return func() { t.Stop() }
}
