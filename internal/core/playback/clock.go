// Package playback implements the playback clock that advances route
// progress in real time.
//
// The clock is driven by a Scheduler. Each frame converts the elapsed
// wall-clock time into progress at the current speed, so playback runs at the
// same rate whatever the frame rate is.
package playback

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/flightviz/dronepath/internal/core/domain"
	"github.com/flightviz/dronepath/internal/core/flightpath"
	"github.com/flightviz/dronepath/internal/pkg/metrics"
)

// DefaultSpeed is the speed a new or reset clock runs at, in progress
// percentage points per second.
const DefaultSpeed = 1.0

// ErrInvalidSpeed is returned for speeds that are not positive and finite.
var ErrInvalidSpeed = errors.New("speed must be a positive finite number")

// Listener is called with the new state after every change. Listeners run on
// the goroutine that caused the change, one change at a time and in the order
// the changes happened. They may read the clock but must not change it.
type Listener func(state domain.PlaybackState)

// Option configures a Clock.
type Option func(*Clock)

// WithAutoStop makes the clock stop by itself when progress reaches 100.
// By default the clock keeps running with progress pinned at 100 until it is
// paused or reset.
func WithAutoStop(enabled bool) Option {
	return func(c *Clock) { c.autoStop = enabled }
}

// Clock owns the playback state. Safe for concurrent use.
type Clock struct {
	// notifyMu is held from a change until its listeners return, so
	// notifications go out in change order. Always taken before mu.
	notifyMu sync.Mutex
	mu       sync.Mutex

	scheduler Scheduler
	autoStop  bool

	playing  bool
	speed    float64
	progress float64

	// Each (re)started frame chain gets a new generation. A frame whose
	// generation is not current, or that fires while stopped, does nothing.
	generation  uint64
	frame       FrameID
	hasBaseline bool
	baseline    time.Duration

	listeners []Listener
}

// NewClock creates a stopped clock at progress 0 and default speed.
func NewClock(scheduler Scheduler, opts ...Option) *Clock {
	c := &Clock{
		scheduler: scheduler,
		speed:     DefaultSpeed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers a listener.
func (c *Clock) OnChange(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// State returns a copy of the current state.
func (c *Clock) State() domain.PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Play starts playback. Calling Play while running changes nothing.
func (c *Clock) Play() domain.PlaybackState {
	c.lock()
	if c.playing {
		state := c.stateLocked()
		c.unlock()
		return state
	}
	c.playing = true
	c.startChainLocked()
	return c.unlockAndNotify()
}

// Pause stops playback and keeps the current progress.
func (c *Clock) Pause() domain.PlaybackState {
	c.lock()
	c.stopLocked()
	return c.unlockAndNotify()
}

// Reset stops playback and restores progress 0 and the default speed.
func (c *Clock) Reset() domain.PlaybackState {
	c.lock()
	c.stopLocked()
	c.progress = 0
	c.speed = DefaultSpeed
	return c.unlockAndNotify()
}

// SetSpeed changes the playback speed without changing the play state. A
// running clock re-baselines on its next frame.
func (c *Clock) SetSpeed(speed float64) (domain.PlaybackState, error) {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return c.State(), ErrInvalidSpeed
	}

	c.lock()
	c.speed = speed
	if c.playing {
		c.cancelFrameLocked()
		c.startChainLocked()
	}
	return c.unlockAndNotify(), nil
}

// Seek sets progress directly, clamped to [0,100]. The play state is kept.
func (c *Clock) Seek(progress float64) domain.PlaybackState {
	c.lock()
	c.progress = flightpath.ClampProgress(progress)
	return c.unlockAndNotify()
}

// startChainLocked begins a new frame chain. The first frame of a chain only
// records the baseline timestamp.
func (c *Clock) startChainLocked() {
	c.generation++
	c.hasBaseline = false
	c.requestFrameLocked(c.generation)
}

func (c *Clock) requestFrameLocked(gen uint64) {
	c.frame = c.scheduler.RequestFrame(func(ts time.Duration) {
		c.tick(gen, ts)
	})
}

func (c *Clock) cancelFrameLocked() {
	if c.frame != 0 {
		c.scheduler.CancelFrame(c.frame)
		c.frame = 0
	}
}

func (c *Clock) stopLocked() {
	c.playing = false
	c.generation++
	c.cancelFrameLocked()
}

func (c *Clock) tick(gen uint64, ts time.Duration) {
	c.lock()
	if !c.playing || gen != c.generation {
		c.unlock()
		return
	}

	if !c.hasBaseline {
		c.hasBaseline = true
		c.baseline = ts
	}

	elapsedMs := float64(ts-c.baseline) / float64(time.Millisecond)
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	c.baseline = ts
	metrics.ClockTicks.Inc()
	c.progress = math.Min(flightpath.MaxProgress, c.progress+elapsedMs/1000*c.speed)

	if c.autoStop && c.progress >= flightpath.MaxProgress {
		c.stopLocked()
	} else {
		c.requestFrameLocked(gen)
	}
	c.unlockAndNotify()
}

func (c *Clock) stateLocked() domain.PlaybackState {
	return domain.PlaybackState{
		IsPlaying: c.playing,
		Speed:     c.speed,
		Progress:  c.progress,
	}
}

// lock takes both locks for a state change.
func (c *Clock) lock() {
	c.notifyMu.Lock()
	c.mu.Lock()
}

func (c *Clock) unlock() {
	c.mu.Unlock()
	c.notifyMu.Unlock()
}

// unlockAndNotify releases mu, hands the state to the listeners and then
// releases notifyMu.
func (c *Clock) unlockAndNotify() domain.PlaybackState {
	state := c.stateLocked()
	listeners := c.listeners
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, l := range listeners {
		l(state)
	}
	return state
}
