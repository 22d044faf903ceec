// Package apps schedules timed applications on topology nodes. Every
// application gets a start and a stop event on the simulation clock;
// external binaries are handed to a Launcher, built-in traffic generators
// run as clock callbacks.
package apps

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/signalsfoundry/dumbbell-simulator/core"
	"github.com/signalsfoundry/dumbbell-simulator/internal/logging"
	"github.com/signalsfoundry/dumbbell-simulator/timectrl"
)

var (
	// ErrApplicationSchedule is returned for start/stop times outside
	// 0 <= start < stop <= horizon or otherwise unusable applications.
	ErrApplicationSchedule = errors.New("invalid application schedule")
	// ErrLaunch wraps launcher failures raised while the clock runs.
	ErrLaunch = errors.New("application launch failed")
)

// Clock is the part of the simulation clock the scheduler needs.
type Clock interface {
	timectrl.SimClock
	Horizon() time.Duration
	Schedule(at time.Duration, name string, fn timectrl.Callback) (timectrl.EventID, error)
	ScheduleAfter(delay time.Duration, name string, fn timectrl.Callback) (timectrl.EventID, error)
	Cancel(id timectrl.EventID) bool
}

// Application is something with a lifetime on a node. Start and Stop are
// called from clock callbacks at the scheduled times.
type Application interface {
	Start(at time.Duration) error
	Stop(at time.Duration) error
}

// Observer is notified when applications start and stop.
type Observer interface {
	ApplicationStarted(kind string)
	ApplicationStopped(kind string)
}

// State is the lifecycle state of a scheduled application.
type State int

const (
	StatePending State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Handle identifies one scheduled application instance.
type Handle struct {
	ID    string
	Kind  string
	Node  *core.Node
	Start time.Duration
	Stop  time.Duration

	mu    sync.Mutex
	state State
	app   Application
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// WithObserver attaches a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithDefaultStackSize sets the stack size handed to launched processes
// that do not specify one.
func WithDefaultStackSize(bytes int) Option {
	return func(s *Scheduler) {
		if bytes > 0 {
			s.stackSize = bytes
		}
	}
}

// DefaultStackSize is the process stack size used unless overridden.
const DefaultStackSize = 1 << 20

// Scheduler registers application start and stop events on a clock.
type Scheduler struct {
	clock     Clock
	launcher  Launcher
	log       logging.Logger
	observer  Observer
	stackSize int

	mu      sync.Mutex
	handles []*Handle
}

// NewScheduler creates a scheduler. A nil launcher records process
// lifecycles without executing anything.
func NewScheduler(clock Clock, launcher Launcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:     clock,
		launcher:  launcher,
		log:       logging.Noop(),
		stackSize: DefaultStackSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.launcher == nil {
		s.launcher = NewRecordingLauncher(s.log)
	}
	return s
}

// Spec describes an external process to run on a node.
type Spec struct {
	Node       *core.Node
	Executable string
	Args       []string
	Env        []string
	StackSize  int
	Start      time.Duration
	Stop       time.Duration
}

// Schedule runs executable on node between start and stop. args and env
// are copied, so later changes by the caller have no effect.
func (s *Scheduler) Schedule(node *core.Node, executable string, args, env []string, start, stop time.Duration) (*Handle, error) {
	return s.ScheduleSpec(Spec{
		Node:       node,
		Executable: executable,
		Args:       args,
		Env:        env,
		Start:      start,
		Stop:       stop,
	})
}

// ScheduleSpec is Schedule with an explicit stack size.
func (s *Scheduler) ScheduleSpec(spec Spec) (*Handle, error) {
	if spec.Executable == "" {
		return nil, fmt.Errorf("%w: empty executable", ErrApplicationSchedule)
	}
	stackSize := spec.StackSize
	if stackSize <= 0 {
		stackSize = s.stackSize
	}
	p := &processApp{
		launcher: s.launcher,
		proc: Process{
			Executable: spec.Executable,
			Args:       append([]string(nil), spec.Args...),
			Env:        append([]string(nil), spec.Env...),
			StackSize:  stackSize,
			Node:       spec.Node,
		},
	}
	h, err := s.ScheduleApplication(spec.Node, filepath.Base(spec.Executable), p, spec.Start, spec.Stop)
	if err != nil {
		return nil, err
	}
	p.proc.ID = h.ID
	return h, nil
}

// ScheduleApplication registers start and stop events for app on node.
// kind names the application in event names, logs and metrics.
func (s *Scheduler) ScheduleApplication(node *core.Node, kind string, app Application, start, stop time.Duration) (*Handle, error) {
	if err := s.validate(node, app, start, stop); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	h := &Handle{
		ID:    fmt.Sprintf("app-%d", len(s.handles)),
		Kind:  kind,
		Node:  node,
		Start: start,
		Stop:  stop,
		app:   app,
	}
	startID, err := s.clock.Schedule(start, "app-start", func() error { return s.start(h) })
	if err != nil {
		return nil, fmt.Errorf("%w: %s start: %w", ErrApplicationSchedule, h.ID, err)
	}
	if _, err := s.clock.Schedule(stop, "app-stop", func() error { return s.stop(h) }); err != nil {
		s.clock.Cancel(startID)
		return nil, fmt.Errorf("%w: %s stop: %w", ErrApplicationSchedule, h.ID, err)
	}
	s.handles = append(s.handles, h)

	node.AttachApplication(h.ID)
	s.log.Debug(context.Background(), "application scheduled",
		logging.String("app", h.ID),
		logging.String("kind", kind),
		logging.String("node", node.Name),
		logging.SimTime(start),
		logging.Duration("lifetime", stop-start),
	)
	return h, nil
}

func (s *Scheduler) validate(node *core.Node, app Application, start, stop time.Duration) error {
	switch {
	case node == nil:
		return fmt.Errorf("%w: nil node", ErrApplicationSchedule)
	case app == nil:
		return fmt.Errorf("%w: nil application", ErrApplicationSchedule)
	case !node.HasStack():
		return fmt.Errorf("%w: node %s has no network stack", ErrApplicationSchedule, node.Name)
	case start < 0:
		return fmt.Errorf("%w: negative start %s", ErrApplicationSchedule, start)
	case start >= stop:
		return fmt.Errorf("%w: start %s not before stop %s", ErrApplicationSchedule, start, stop)
	case stop > s.clock.Horizon():
		return fmt.Errorf("%w: stop %s beyond horizon %s", ErrApplicationSchedule, stop, s.clock.Horizon())
	}
	return nil
}

func (s *Scheduler) start(h *Handle) error {
	h.mu.Lock()
	if h.state != StatePending {
		h.mu.Unlock()
		return nil
	}
	h.state = StateRunning
	h.mu.Unlock()

	if err := h.app.Start(s.clock.Now()); err != nil {
		return fmt.Errorf("%s on %s: %w", h.ID, h.Node.Name, err)
	}
	if s.observer != nil {
		s.observer.ApplicationStarted(h.Kind)
	}
	return nil
}

// stop terminates the instance whether or not it finished on its own.
func (s *Scheduler) stop(h *Handle) error {
	h.mu.Lock()
	wasRunning := h.state == StateRunning
	h.state = StateStopped
	h.mu.Unlock()

	if !wasRunning {
		return nil
	}
	if err := h.app.Stop(s.clock.Now()); err != nil {
		return fmt.Errorf("%s on %s: %w", h.ID, h.Node.Name, err)
	}
	if s.observer != nil {
		s.observer.ApplicationStopped(h.Kind)
	}
	return nil
}

// Handles returns every scheduled application in scheduling order.
func (s *Scheduler) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Running returns how many applications are currently running.
func (s *Scheduler) Running() int {
	n := 0
	for _, h := range s.Handles() {
		if h.State() == StateRunning {
			n++
		}
	}
	return n
}
