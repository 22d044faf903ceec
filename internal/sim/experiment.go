// Package sim wires the dumbbell experiment together: topology, addressing,
// stack selection, applications, trace sink and the simulation clock.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/dumbbell-simulator/apps"
	"github.com/signalsfoundry/dumbbell-simulator/core"
	"github.com/signalsfoundry/dumbbell-simulator/internal/config"
	"github.com/signalsfoundry/dumbbell-simulator/internal/logging"
	"github.com/signalsfoundry/dumbbell-simulator/internal/observability"
	"github.com/signalsfoundry/dumbbell-simulator/internal/trace"
	"github.com/signalsfoundry/dumbbell-simulator/stack"
	"github.com/signalsfoundry/dumbbell-simulator/timectrl"
)

var (
	// ErrNotSetUp is returned by Run before a successful Setup.
	ErrNotSetUp = errors.New("experiment not set up")
	// ErrAlreadySetUp is returned by a second Setup.
	ErrAlreadySetUp = errors.New("experiment already set up")
)

// CompletionMessage prefixes the line printed once the trace is written.
const CompletionMessage = "Animation Trace file created:"

// Option configures an Experiment.
type Option func(*Experiment)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(e *Experiment) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *observability.SimCollector) Option {
	return func(e *Experiment) {
		e.metrics = m
	}
}

// WithStackRegistry resolves stack variants through reg instead of
// stack.DefaultRegistry.
func WithStackRegistry(reg *stack.Registry) Option {
	return func(e *Experiment) {
		e.registry = reg
	}
}

// WithLauncher hands guest processes to l instead of a recording launcher.
func WithLauncher(l apps.Launcher) Option {
	return func(e *Experiment) {
		e.launcher = l
	}
}

// WithOutput sets where the completion message is printed.
func WithOutput(w io.Writer) Option {
	return func(e *Experiment) {
		if w != nil {
			e.out = w
		}
	}
}

// Result summarises a finished run.
type Result struct {
	RunID            string
	TracePath        string
	SimTime          time.Duration
	Wall             time.Duration
	EventsFired      uint64
	EventsDropped    int
	PacketsSent      uint64
	PacketsDelivered uint64
	Complete         bool
}

// Experiment is one configured dumbbell run. The lifecycle is Setup, Run,
// Destroy; each step is valid once.
type Experiment struct {
	cfg      config.RunConfig
	log      logging.Logger
	metrics  *observability.SimCollector
	registry *stack.Registry
	launcher apps.Launcher
	out      io.Writer

	runID    string
	topo     *core.Topology
	addrs    *core.AddressAssignment
	selector *stack.Selector
	clock    *timectrl.SimulationClock
	sched    *apps.Scheduler
	recorder *trace.Recorder
	net      *network
	onoff    []*apps.OnOff
}

// New validates cfg and returns an experiment ready for Setup.
func New(cfg config.RunConfig, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{
		cfg: cfg,
		log: logging.Noop(),
		out: os.Stdout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Topology returns the built topology, or nil before Setup.
func (e *Experiment) Topology() *core.Topology { return e.topo }

// Addresses returns the address assignment, or nil before Setup.
func (e *Experiment) Addresses() *core.AddressAssignment { return e.addrs }

// Recorder returns the trace sink, or nil before Setup.
func (e *Experiment) Recorder() *trace.Recorder { return e.recorder }

// Scheduler returns the application scheduler, or nil before Setup.
func (e *Experiment) Scheduler() *apps.Scheduler { return e.sched }

// Setup performs every configuration step in order: build, assign
// addresses, select the stack, populate routes, lay out nodes and schedule
// applications and counter sampling. Any error surfaces here, before the
// clock runs.
func (e *Experiment) Setup(ctx context.Context) (err error) {
	if e.clock != nil {
		return ErrAlreadySetUp
	}
	ctx, e.runID = logging.EnsureRunID(ctx)
	// Components below log without a run context.
	log := e.log.With(logging.String("run_id", e.runID))

	ctx, span := observability.StartPhase(ctx, "setup", attribute.String("run_id", e.runID))
	defer func() { observability.EndPhase(span, err) }()

	if err := e.build(ctx); err != nil {
		return err
	}
	if err := e.assign(ctx); err != nil {
		return err
	}
	if err := e.selectStack(ctx); err != nil {
		return err
	}
	e.topo.PopulateRoutes()
	if !e.topo.Connected() {
		return fmt.Errorf("populate routes: %w: topology is partitioned", core.ErrNoRoute)
	}

	clockOpts := []timectrl.ClockOption{timectrl.WithLogger(e.log)}
	appOpts := []apps.Option{apps.WithLogger(log), apps.WithDefaultStackSize(e.cfg.StackSize)}
	if e.metrics != nil {
		clockOpts = append(clockOpts, timectrl.WithObserver(e.metrics))
		appOpts = append(appOpts, apps.WithObserver(e.metrics))
	}
	clock, err := timectrl.NewSimulationClock(e.cfg.Horizon, clockOpts...)
	if err != nil {
		return err
	}
	e.clock = clock
	e.sched = apps.NewScheduler(clock, e.launcher, appOpts...)
	e.recorder = trace.NewRecorder(trace.WithLogger(log))
	e.recorder.SetRunID(e.runID)
	e.net = newNetwork(e.topo, clock, e.recorder, e.metrics)

	if err := e.layout(); err != nil {
		return err
	}
	if err := e.scheduleApplications(ctx); err != nil {
		return err
	}
	if err := e.enableTracing(); err != nil {
		return err
	}

	e.log.Info(ctx, "experiment set up",
		logging.Int("nodes", e.topo.NodeCount()),
		logging.Int("links", e.topo.LinkCount()),
		logging.String("stack", e.cfg.Stack),
		logging.Int("applications", len(e.sched.Handles())),
		logging.Int("queued_events", e.clock.Pending()),
	)
	return nil
}

func (e *Experiment) build(ctx context.Context) (err error) {
	_, span := observability.StartPhase(ctx, "build")
	defer func() { observability.EndPhase(span, err) }()

	left, right := e.cfg.LeafCounts()
	e.topo, err = core.BuildDumbbell(core.DumbbellConfig{
		LeftLeaves:  left,
		RightLeaves: right,
		LeafLink:    e.cfg.LeafLink,
		RouterLink:  e.cfg.RouterLink,
	})
	if err != nil {
		return fmt.Errorf("build dumbbell: %w", err)
	}
	span.SetAttributes(attribute.Int("left_leaves", left), attribute.Int("right_leaves", right))
	e.metrics.SetTopologyCounts(e.topo.NodeCount(), e.topo.LinkCount())
	return nil
}

func (e *Experiment) assign(ctx context.Context) (err error) {
	_, span := observability.StartPhase(ctx, "assign")
	defer func() { observability.EndPhase(span, err) }()

	left, right, router, err := e.cfg.AddressBlocks()
	if err != nil {
		return err
	}
	e.addrs, err = core.AssignAddresses(e.topo, left, right, router)
	if err != nil {
		return fmt.Errorf("assign addresses: %w", err)
	}
	return nil
}

func (e *Experiment) selectStack(ctx context.Context) (err error) {
	ctx, span := observability.StartPhase(ctx, "select_stack", attribute.String("variant", e.cfg.Stack))
	defer func() { observability.EndPhase(span, err) }()

	variant, err := stack.ParseVariant(e.cfg.Stack)
	if err != nil {
		return err
	}
	e.selector = stack.NewSelector(e.registry, stack.WithLogger(e.log))
	return e.selector.Select(ctx, e.topo, variant)
}

// layout applies the bounding box, then the pinned positions, to both the
// topology and the trace.
func (e *Experiment) layout() error {
	b := e.cfg.BoundingBox
	e.topo.BoundingBox(b[0], b[1], b[2], b[3])
	e.recorder.Describe(e.topo)

	for _, p := range e.cfg.PositionPlan() {
		node, err := e.leaf(p.Side, p.Index)
		if err != nil {
			return fmt.Errorf("position: %w", err)
		}
		if err := e.topo.SetPosition(node.ID, core.Vec3{X: p.X, Y: p.Y, Z: p.Z}); err != nil {
			return err
		}
		if err := e.recorder.SetPosition(node.ID, p.X, p.Y, p.Z); err != nil {
			return err
		}
	}
	return nil
}

func (e *Experiment) leaf(side string, index int) (*core.Node, error) {
	s, err := config.ParseSide(side)
	if err != nil {
		return nil, err
	}
	return e.topo.Leaf(s, index)
}

func (e *Experiment) scheduleApplications(ctx context.Context) (err error) {
	_, span := observability.StartPhase(ctx, "schedule")
	defer func() { observability.EndPhase(span, err) }()

	helper := apps.NewHelper(e.sched).SetBinary(e.cfg.PingPath).SetStackSize(e.cfg.StackSize)
	for i, p := range e.cfg.PingPlan() {
		node, err := e.leaf(p.Side, p.Index)
		if err != nil {
			return fmt.Errorf("ping %d: %w", i, err)
		}
		helper.ResetArguments().AddArgument(p.Target)
		for _, arg := range p.Args {
			helper.AddArgument(arg)
		}
		if _, err := helper.Install(node, p.Start, p.Stop); err != nil {
			return fmt.Errorf("ping %d: %w", i, err)
		}
	}

	if o := e.cfg.OnOffPlan(); o.Enabled {
		rate, err := core.ParseDataRate(o.DataRate)
		if err != nil {
			return err
		}
		genCfg := apps.OnOffConfig{PacketSize: o.PacketSize, DataRate: rate, Port: o.Port}
		for i := 0; i < e.topo.RightCount(); i++ {
			src := e.topo.RightLeaf(i)
			target := min(i, e.topo.LeftCount()-1)
			dst := e.topo.LeftLeaf(target)
			addr, err := e.addrs.LeafAddress(core.SideLeft, target)
			if err != nil {
				return err
			}
			if err := e.logFlow(ctx, src, dst); err != nil {
				return err
			}
			gen, err := apps.NewOnOff("onoff-"+src.Name, genCfg, src.ID, dst.ID, addr, e.clock, e.net)
			if err != nil {
				return err
			}
			if _, err := e.sched.ScheduleApplication(src, "onoff", gen, o.Start, o.Stop); err != nil {
				return fmt.Errorf("onoff on %s: %w", src.Name, err)
			}
			e.onoff = append(e.onoff, gen)
		}
	}
	span.SetAttributes(attribute.Int("applications", len(e.sched.Handles())))
	return nil
}

// logFlow records the static path an on/off flow will take.
func (e *Experiment) logFlow(ctx context.Context, src, dst *core.Node) error {
	hop, err := e.topo.NextHop(src.ID, dst.ID)
	if err != nil {
		return fmt.Errorf("onoff on %s: %w", src.Name, err)
	}
	delay, err := e.topo.PathDelay(src.ID, dst.ID)
	if err != nil {
		return fmt.Errorf("onoff on %s: %w", src.Name, err)
	}
	e.log.Info(ctx, "onoff flow routed",
		logging.String("src", src.Name),
		logging.String("dst", dst.Name),
		logging.String("next_hop", e.topo.Node(hop).Name),
		logging.Duration("path_delay", delay),
	)
	return nil
}

func (e *Experiment) enableTracing() error {
	w := e.cfg.CounterPlan()
	if err := e.recorder.EnableL3Counters(e.clock, w.Start, w.Stop, w.Interval); err != nil {
		return err
	}
	if e.cfg.PacketMetadata {
		e.recorder.EnablePacketMetadata()
	}
	return nil
}

// Run drives the clock to completion and writes the trace. A faulted or
// cancelled run still writes the trace, marked incomplete, and returns the
// run error.
func (e *Experiment) Run(ctx context.Context) (res Result, err error) {
	if e.clock == nil {
		return Result{}, ErrNotSetUp
	}
	if st := e.clock.State(); st != timectrl.StateIdle {
		return Result{}, fmt.Errorf("run: simulation clock is %s", st)
	}
	ctx = logging.ContextWithRunID(ctx, e.runID)
	ctx, span := observability.StartPhase(ctx, "run", attribute.String("horizon", e.cfg.Horizon.String()))
	defer func() { observability.EndPhase(span, err) }()

	started := time.Now()
	runErr := e.clock.Run(ctx)
	wall := time.Since(started)
	e.metrics.ObserveRun(wall)

	if runErr != nil {
		e.recorder.MarkIncomplete(runErr.Error())
		e.log.Error(ctx, "simulation run failed", logging.SimTime(e.clock.Now()), logging.Err(runErr))
	}

	res = Result{
		RunID:            e.runID,
		TracePath:        e.cfg.AnimFile,
		SimTime:          e.clock.Now(),
		Wall:             wall,
		EventsFired:      e.clock.Fired(),
		EventsDropped:    e.clock.Dropped(),
		PacketsSent:      e.net.sent,
		PacketsDelivered: e.net.delivered,
		Complete:         runErr == nil,
	}

	if err := e.recorder.Flush(e.cfg.AnimFile); err != nil {
		return res, errors.Join(runErr, fmt.Errorf("flush trace: %w", err))
	}
	fmt.Fprintf(e.out, "%s%s\n", CompletionMessage, e.cfg.AnimFile)

	e.log.Info(ctx, "simulation finished",
		logging.SimTime(res.SimTime),
		logging.Duration("wall", wall),
		logging.Any("events_fired", res.EventsFired),
		logging.Int("events_dropped", res.EventsDropped),
		logging.Any("packets_delivered", res.PacketsDelivered),
		logging.Bool("complete", res.Complete),
	)
	return res, runErr
}

// Destroy releases the stacks and the clock.
func (e *Experiment) Destroy(ctx context.Context) error {
	var errs []error
	if e.selector != nil {
		errs = append(errs, e.selector.Teardown(ctx))
	}
	if e.clock != nil {
		errs = append(errs, e.clock.Destroy())
	}
	return errors.Join(errs...)
}

// Execute runs one experiment end to end.
func Execute(ctx context.Context, cfg config.RunConfig, opts ...Option) (Result, error) {
	e, err := New(cfg, opts...)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if derr := e.Destroy(ctx); derr != nil {
			e.log.Warn(ctx, "experiment teardown failed", logging.Err(derr))
		}
	}()

	if err := e.Setup(ctx); err != nil {
		return Result{}, err
	}
	return e.Run(ctx)
}
