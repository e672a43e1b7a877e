package playback

import (
	"context"
	"sync"
	"time"
)

// FrameID identifies a pending frame request. The zero value is never issued.
type FrameID uint64

// FrameFunc is invoked once per requested frame with a monotonic timestamp.
type FrameFunc func(ts time.Duration)

// Scheduler delivers one-shot frame callbacks, in the manner of a browser's
// animation-frame loop. Callbacks that want another frame must request it.
type Scheduler interface {
	RequestFrame(fn FrameFunc) FrameID
	CancelFrame(id FrameID)
}

// frameQueue holds pending callbacks. Shared by the scheduler implementations.
type frameQueue struct {
	mu      sync.Mutex
	nextID  FrameID
	pending map[FrameID]FrameFunc
	order   []FrameID
}

func (q *frameQueue) request(fn FrameFunc) FrameID {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == nil {
		q.pending = make(map[FrameID]FrameFunc)
	}
	q.nextID++
	q.pending[q.nextID] = fn
	q.order = append(q.order, q.nextID)
	return q.nextID
}

func (q *frameQueue) cancel(id FrameID) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

// take removes and returns the callbacks pending right now, in request
// order. Callbacks requested while these run wait for the next frame.
func (q *frameQueue) take() []FrameFunc {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		q.order = q.order[:0]
		return nil
	}
	fns := make([]FrameFunc, 0, len(q.pending))
	for _, id := range q.order {
		if fn, ok := q.pending[id]; ok {
			fns = append(fns, fn)
			delete(q.pending, id)
		}
	}
	q.order = q.order[:0]
	return fns
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// TickerScheduler fires pending frames on a fixed-rate ticker. Timestamps are
// offsets from the scheduler's creation, taken from the monotonic clock.
type TickerScheduler struct {
	queue    frameQueue
	interval time.Duration
	start    time.Time
}

// NewTickerScheduler creates a scheduler running at fps frames per second.
func NewTickerScheduler(fps int) *TickerScheduler {
	if fps <= 0 {
		fps = 60
	}
	return &TickerScheduler{
		interval: time.Second / time.Duration(fps),
		start:    time.Now(),
	}
}

// RequestFrame schedules fn for the next tick.
func (s *TickerScheduler) RequestFrame(fn FrameFunc) FrameID {
	return s.queue.request(fn)
}

// CancelFrame drops a pending request. Cancelling a frame that already fired
// is a no-op.
func (s *TickerScheduler) CancelFrame(id FrameID) {
	s.queue.cancel(id)
}

// Interval returns the time between ticks.
func (s *TickerScheduler) Interval() time.Duration {
	return s.interval
}

// Run drives the ticker until ctx is done.
func (s *TickerScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ts := time.Since(s.start)
			for _, fn := range s.queue.take() {
				fn(ts)
			}
		case <-ctx.Done():
			return
		}
	}
}

// ManualScheduler fires frames only when told to. Used by tests and by
// callers that own their own loop.
type ManualScheduler struct {
	queue frameQueue
}

// NewManualScheduler creates an idle manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// RequestFrame schedules fn for the next Fire.
func (s *ManualScheduler) RequestFrame(fn FrameFunc) FrameID {
	return s.queue.request(fn)
}

// CancelFrame drops a pending request.
func (s *ManualScheduler) CancelFrame(id FrameID) {
	s.queue.cancel(id)
}

// Fire runs every callback pending at the time of the call with timestamp ts
// and returns how many ran.
func (s *ManualScheduler) Fire(ts time.Duration) int {
	fns := s.queue.take()
	for _, fn := range fns {
		fn(ts)
	}
	return len(fns)
}

// Pending returns the number of outstanding frame requests.
func (s *ManualScheduler) Pending() int {
	return s.queue.len()
}
