package timectrl

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/dumbbell-simulator/internal/logging"
)

var (
	// ErrEventCallbackFault wraps any error or panic raised by an event
	// callback. The run that observed it is aborted.
	ErrEventCallbackFault = errors.New("event callback fault")
	// ErrClockRunning is returned by Run or Destroy while the clock is running.
	ErrClockRunning = errors.New("simulation clock is running")
	// ErrClockStopped is returned when registering events after Run returned.
	ErrClockStopped = errors.New("simulation clock stopped")
	// ErrClockDestroyed is returned by every operation after Destroy.
	ErrClockDestroyed = errors.New("simulation clock destroyed")
	// ErrEventInPast is returned when an event would fire before Now().
	ErrEventInPast = errors.New("event scheduled in the past")
	// ErrInvalidHorizon is returned for a non-positive horizon.
	ErrInvalidHorizon = errors.New("invalid simulation horizon")
	// ErrNilCallback is returned when scheduling an event without a callback.
	ErrNilCallback = errors.New("nil event callback")
)

// SimClock is the read-only view of simulation time. Components that only
// need to stamp records (trace sink, launchers) depend on this rather than
// on the full clock.
type SimClock interface {
	// Now returns the current simulation time, measured from zero.
	Now() time.Duration
}

// State is the lifecycle state of a SimulationClock.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventID identifies a scheduled event so it can be cancelled before it fires.
type EventID uint64

// Callback is invoked when an event fires. A non-nil error aborts the run.
type Callback func() error

// Observer receives notifications about clock activity. It is how the
// metrics collector follows a run without the clock importing Prometheus.
type Observer interface {
	EventFired(name string, at time.Duration)
	EventsDropped(count int)
}

// event is a single scheduled callback. Events are ordered by (at, seq).
type event struct {
	id        EventID
	at        time.Duration
	seq       uint64
	name      string
	fn        Callback
	cancelled bool
}

// eventQueue implements heap.Interface as a min-heap on (at, seq), which
// keeps equal fire times in registration order.
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) {
	*q = append(*q, x.(*event))
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}

// ClockOption configures a SimulationClock.
type ClockOption func(*SimulationClock)

// WithObserver attaches an observer notified for every fired event.
func WithObserver(o Observer) ClockOption {
	return func(c *SimulationClock) {
		c.observer = o
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) ClockOption {
	return func(c *SimulationClock) {
		if log != nil {
			c.log = log
		}
	}
}

// SimulationClock is a discrete-event scheduler. Components register
// callbacks at absolute simulation times; Run pops them in time order,
// advancing Now() to each event's fire time, until the queue drains or the
// horizon is reached.
//
// The run loop is single threaded. The mutex only makes Now(), State() and
// the counters safe to read from other goroutines (e.g. a metrics handler).
type SimulationClock struct {
	mu sync.Mutex

	horizon time.Duration
	now     time.Duration
	state   State
	stopReq bool

	seq     uint64
	queue   eventQueue
	index   map[EventID]*event
	fired   uint64
	dropped int

	observer Observer
	log      logging.Logger
}

// NewSimulationClock creates an idle clock that stops at horizon.
func NewSimulationClock(horizon time.Duration, opts ...ClockOption) (*SimulationClock, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidHorizon, horizon)
	}
	c := &SimulationClock{
		horizon: horizon,
		index:   make(map[EventID]*event),
		log:     logging.Noop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	heap.Init(&c.queue)
	return c, nil
}

// Now returns the current simulation time.
func (c *SimulationClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Horizon returns the configured stop time.
func (c *SimulationClock) Horizon() time.Duration {
	return c.horizon
}

// State returns the current lifecycle state.
func (c *SimulationClock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the number of queued, non-cancelled events.
func (c *SimulationClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Fired returns how many callbacks have run so far.
func (c *SimulationClock) Fired() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Dropped returns how many events were discarded because they were queued
// beyond the horizon when the run ended.
func (c *SimulationClock) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Schedule registers fn to fire at absolute simulation time at. Events may be
// registered while Idle or, from within callbacks, while Running.
func (c *SimulationClock) Schedule(at time.Duration, name string, fn Callback) (EventID, error) {
	if fn == nil {
		return 0, fmt.Errorf("%w: %q", ErrNilCallback, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateStopped:
		return 0, fmt.Errorf("%w: cannot schedule %q", ErrClockStopped, name)
	case StateDestroyed:
		return 0, fmt.Errorf("%w: cannot schedule %q", ErrClockDestroyed, name)
	}
	if at < c.now {
		return 0, fmt.Errorf("%w: %q at %s, now %s", ErrEventInPast, name, at, c.now)
	}

	c.seq++
	ev := &event{
		id:   EventID(c.seq),
		at:   at,
		seq:  c.seq,
		name: name,
		fn:   fn,
	}
	heap.Push(&c.queue, ev)
	c.index[ev.id] = ev
	return ev.id, nil
}

// ScheduleAfter registers fn to fire delay after the current simulation time.
func (c *SimulationClock) ScheduleAfter(delay time.Duration, name string, fn Callback) (EventID, error) {
	if delay < 0 {
		return 0, fmt.Errorf("%w: %q with negative delay %s", ErrEventInPast, name, delay)
	}
	return c.Schedule(c.Now()+delay, name, fn)
}

// Cancel removes a pending event. It reports whether the event was still
// pending; already fired or unknown events are a no-op.
func (c *SimulationClock) Cancel(id EventID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ev, ok := c.index[id]
	if !ok {
		return false
	}
	// Removal from the heap is lazy; Run skips cancelled events.
	ev.cancelled = true
	delete(c.index, id)
	return true
}

// Stop asks a running clock to return after the current callback. Queued
// events are kept but will never fire.
func (c *SimulationClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopReq = true
}

// Run drains the event queue in (time, registration) order. It returns nil
// when the queue is empty or the horizon is reached, and an error wrapping
// ErrEventCallbackFault when a callback fails. ctx cancellation is checked
// between events.
func (c *SimulationClock) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	switch c.state {
	case StateRunning:
		c.mu.Unlock()
		return ErrClockRunning
	case StateStopped:
		c.mu.Unlock()
		return ErrClockStopped
	case StateDestroyed:
		c.mu.Unlock()
		return ErrClockDestroyed
	}
	c.state = StateRunning
	c.mu.Unlock()

	c.log.Debug(ctx, "simulation clock running", logging.Duration("horizon", c.horizon), logging.Int("queued", c.Pending()))

	defer func() {
		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("simulation aborted at %s: %w", c.Now(), err)
		}

		ev, done := c.next()
		if done {
			c.log.Debug(ctx, "simulation clock stopped", logging.SimTime(c.Now()), logging.Int("dropped", c.Dropped()))
			return nil
		}

		if err := invoke(ev); err != nil {
			c.log.Error(ctx, "event callback failed",
				logging.String("event", ev.name),
				logging.SimTime(ev.at),
				logging.Err(err),
			)
			return fmt.Errorf("%w: event %q at %s: %w", ErrEventCallbackFault, ev.name, ev.at, err)
		}

		c.mu.Lock()
		c.fired++
		c.mu.Unlock()
		if c.observer != nil {
			c.observer.EventFired(ev.name, ev.at)
		}
	}
}

// next pops the next runnable event and advances the clock to its fire
// time. done is true when the run should end; in that case events beyond
// the horizon are discarded and the clock is left at or before the horizon.
func (c *SimulationClock) next() (ev *event, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopReq {
		return nil, true
	}

	for c.queue.Len() > 0 {
		candidate := heap.Pop(&c.queue).(*event)
		if candidate.cancelled {
			continue
		}
		if candidate.at > c.horizon {
			c.now = c.horizon
			c.dropLocked(candidate)
			return nil, true
		}
		delete(c.index, candidate.id)
		c.now = candidate.at
		return candidate, false
	}
	return nil, true
}

// dropLocked discards first and every remaining queued event.
func (c *SimulationClock) dropLocked(first *event) {
	dropped := 1
	delete(c.index, first.id)
	for c.queue.Len() > 0 {
		ev := heap.Pop(&c.queue).(*event)
		if ev.cancelled {
			continue
		}
		delete(c.index, ev.id)
		dropped++
	}
	c.dropped += dropped
	if c.observer != nil {
		c.observer.EventsDropped(dropped)
	}
}

// invoke runs the callback, converting a panic into an error.
func invoke(ev *event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ev.fn()
}

// Destroy releases the queue. The clock accepts no further registrations
// and cannot be run again. Destroying a running clock is an error.
func (c *SimulationClock) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRunning:
		return ErrClockRunning
	case StateDestroyed:
		return nil
	}
	c.state = StateDestroyed
	c.queue = nil
	c.index = nil
	return nil
}
