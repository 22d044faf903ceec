package apps

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/dumbbell-simulator/core"
	"github.com/signalsfoundry/dumbbell-simulator/internal/logging"
)

// Process is what a Launcher receives for one application instance.
type Process struct {
	ID         string
	Executable string
	Args       []string
	Env        []string
	StackSize  int
	Node       *core.Node
}

// CommandLine renders the executable and its arguments.
func (p Process) CommandLine() string {
	return strings.Join(append([]string{p.Executable}, p.Args...), " ")
}

// Launcher starts and terminates guest processes on behalf of the
// scheduler.
type Launcher interface {
	Launch(p Process, at time.Duration) error
	Terminate(p Process, at time.Duration) error
}

// processApp adapts a Launcher to the Application lifecycle.
type processApp struct {
	launcher Launcher
	proc     Process
}

func (a *processApp) Start(at time.Duration) error {
	if err := a.launcher.Launch(a.proc, at); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLaunch, a.proc.Executable, err)
	}
	return nil
}

func (a *processApp) Stop(at time.Duration) error {
	return a.launcher.Terminate(a.proc, at)
}

// Process returns the process handed to the launcher.
func (h *Handle) Process() (Process, bool) {
	p, ok := h.app.(*processApp)
	if !ok {
		return Process{}, false
	}
	return p.proc, true
}

// Transition is one recorded lifecycle change.
type Transition struct {
	App     string
	Node    string
	Command string
	Kind    string // "launch" or "terminate"
	At      time.Duration
}

// RecordingLauncher logs and records lifecycle transitions instead of
// executing guest binaries.
type RecordingLauncher struct {
	log logging.Logger

	mu          sync.Mutex
	transitions []Transition
}

// NewRecordingLauncher returns a launcher that logs through log.
func NewRecordingLauncher(log logging.Logger) *RecordingLauncher {
	if log == nil {
		log = logging.Noop()
	}
	return &RecordingLauncher{log: log}
}

func (l *RecordingLauncher) Launch(p Process, at time.Duration) error {
	l.record(p, "launch", at)
	return nil
}

func (l *RecordingLauncher) Terminate(p Process, at time.Duration) error {
	l.record(p, "terminate", at)
	return nil
}

func (l *RecordingLauncher) record(p Process, kind string, at time.Duration) {
	nodeName := ""
	if p.Node != nil {
		nodeName = p.Node.Name
	}
	l.mu.Lock()
	l.transitions = append(l.transitions, Transition{
		App:     p.ID,
		Node:    nodeName,
		Command: p.CommandLine(),
		Kind:    kind,
		At:      at,
	})
	l.mu.Unlock()

	l.log.Info(context.Background(), "application "+kind,
		logging.String("app", p.ID),
		logging.String("node", nodeName),
		logging.String("command", p.CommandLine()),
		logging.Int("stack_size", p.StackSize),
		logging.SimTime(at),
	)
}

// Transitions returns the recorded transitions in order.
func (l *RecordingLauncher) Transitions() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transition, len(l.transitions))
	copy(out, l.transitions)
	return out
}
