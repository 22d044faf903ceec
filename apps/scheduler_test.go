package apps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/dumbbell-simulator/core"
	"github.com/signalsfoundry/dumbbell-simulator/stack"
	"github.com/signalsfoundry/dumbbell-simulator/timectrl"
)

func setup(t *testing.T, horizon time.Duration) (*core.Topology, *timectrl.SimulationClock) {
	t.Helper()
	attrs := core.LinkAttributes{DataRate: "10Mbps", Delay: "1ms"}
	topo, err := core.BuildDumbbell(core.DumbbellConfig{
		LeftLeaves:  2,
		RightLeaves: 1,
		LeafLink:    attrs,
		RouterLink:  attrs,
	})
	if err != nil {
		t.Fatalf("BuildDumbbell: %v", err)
	}
	if err := stack.NewSelector(nil).Select(context.Background(), topo, stack.VariantNative); err != nil {
		t.Fatalf("Select: %v", err)
	}
	clock, err := timectrl.NewSimulationClock(horizon)
	if err != nil {
		t.Fatalf("NewSimulationClock: %v", err)
	}
	return topo, clock
}

func TestPingStartsBeforeStops(t *testing.T) {
	topo, clock := setup(t, 40*time.Second)
	launcher := NewRecordingLauncher(nil)
	sched := NewScheduler(clock, launcher)

	first, err := sched.Schedule(topo.LeftLeaf(0), "ping", []string{"10.1.1.2"}, nil, 700*time.Millisecond, 20*time.Second)
	if err != nil {
		t.Fatalf("Schedule first: %v", err)
	}
	second, err := sched.Schedule(topo.LeftLeaf(1), "ping", []string{"10.1.1.1"}, nil, 600*time.Millisecond, 20*time.Second)
	if err != nil {
		t.Fatalf("Schedule second: %v", err)
	}

	if err := clock.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := launcher.Transitions()
	want := []struct {
		app, kind string
		at        time.Duration
	}{
		{second.ID, "launch", 600 * time.Millisecond},
		{first.ID, "launch", 700 * time.Millisecond},
		{first.ID, "terminate", 20 * time.Second},
		{second.ID, "terminate", 20 * time.Second},
	}
	if len(got) != len(want) {
		t.Fatalf("transitions = %+v", got)
	}
	for i, w := range want {
		if got[i].App != w.app || got[i].Kind != w.kind || got[i].At != w.at {
			t.Fatalf("transition %d = %+v, want %s %s at %s", i, got[i], w.app, w.kind, w.at)
		}
	}
	if got[0].Command != "ping 10.1.1.1" || got[0].Node != "left-leaf-1" {
		t.Fatalf("first launch = %+v", got[0])
	}
	if first.State() != StateStopped || second.State() != StateStopped {
		t.Fatalf("states = %s, %s; want stopped", first.State(), second.State())
	}
	if apps := topo.LeftLeaf(0).Applications; len(apps) != 1 || apps[0] != first.ID {
		t.Fatalf("left leaf 0 applications = %v", apps)
	}
}

func TestScheduleValidation(t *testing.T) {
	topo, clock := setup(t, 40*time.Second)
	sched := NewScheduler(clock, nil)
	leaf := topo.LeftLeaf(0)
	bare := &core.Node{Name: "no-stack"}

	cases := []struct {
		name        string
		node        *core.Node
		exe         string
		start, stop time.Duration
	}{
		{"start equals stop", leaf, "ping", time.Second, time.Second},
		{"start after stop", leaf, "ping", 2 * time.Second, time.Second},
		{"negative start", leaf, "ping", -time.Second, time.Second},
		{"beyond horizon", leaf, "ping", 0, 41 * time.Second},
		{"nil node", nil, "ping", 0, time.Second},
		{"no stack", bare, "ping", 0, time.Second},
		{"no executable", leaf, "", 0, time.Second},
	}
	for _, tc := range cases {
		if _, err := sched.Schedule(tc.node, tc.exe, nil, nil, tc.start, tc.stop); !errors.Is(err, ErrApplicationSchedule) {
			t.Errorf("%s: error = %v, want ErrApplicationSchedule", tc.name, err)
		}
	}
	if clock.Pending() != 0 {
		t.Fatalf("rejected schedules left %d events queued", clock.Pending())
	}
	if len(sched.Handles()) != 0 {
		t.Fatalf("rejected schedules produced handles")
	}

	if _, err := sched.Schedule(leaf, "ping", nil, nil, 0, 40*time.Second); err != nil {
		t.Fatalf("stop at horizon should be accepted: %v", err)
	}
}

func TestScheduleCopiesArgsAndEnv(t *testing.T) {
	topo, clock := setup(t, 10*time.Second)
	launcher := NewRecordingLauncher(nil)
	sched := NewScheduler(clock, launcher)

	args := []string{"-u", "-b", "1m", "10.1.1.2"}
	env := []string{"HOME=/root"}
	h, err := sched.Schedule(topo.LeftLeaf(0), "iperf", args, env, 0, time.Second)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	args[3] = "10.9.9.9"
	env[0] = "HOME=/tmp"

	p, ok := h.Process()
	if !ok {
		t.Fatalf("handle has no process")
	}
	if p.Args[3] != "10.1.1.2" || p.Env[0] != "HOME=/root" {
		t.Fatalf("process saw caller mutation: %+v", p)
	}
	if p.StackSize != DefaultStackSize {
		t.Fatalf("StackSize = %d, want %d", p.StackSize, DefaultStackSize)
	}

	if err := clock.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := launcher.Transitions()[0].Command; got != "iperf -u -b 1m 10.1.1.2" {
		t.Fatalf("launched command = %q", got)
	}
}

type countingObserver struct {
	started, stopped map[string]int
}

func (o *countingObserver) ApplicationStarted(kind string) { o.started[kind]++ }
func (o *countingObserver) ApplicationStopped(kind string) { o.stopped[kind]++ }

func TestOverlappingApplicationsOnOneNode(t *testing.T) {
	topo, clock := setup(t, 10*time.Second)
	obs := &countingObserver{started: map[string]int{}, stopped: map[string]int{}}
	sched := NewScheduler(clock, nil, WithObserver(obs))
	leaf := topo.RightLeaf(0)

	for _, window := range [][2]time.Duration{{0, 5 * time.Second}, {time.Second, 3 * time.Second}, {2 * time.Second, 10 * time.Second}} {
		if _, err := sched.Schedule(leaf, "ping", nil, nil, window[0], window[1]); err != nil {
			t.Fatalf("Schedule %v: %v", window, err)
		}
	}

	running := -1
	if _, err := clock.Schedule(2500*time.Millisecond, "probe", func() error {
		running = sched.Running()
		return nil
	}); err != nil {
		t.Fatalf("Schedule probe: %v", err)
	}

	if err := clock.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if running != 3 {
		t.Fatalf("Running() at 2.5s = %d, want 3", running)
	}
	if obs.started["ping"] != 3 || obs.stopped["ping"] != 3 {
		t.Fatalf("observer = %+v", obs)
	}
	if sched.Running() != 0 {
		t.Fatalf("Running() after run = %d", sched.Running())
	}
}

type failingLauncher struct{}

func (failingLauncher) Launch(Process, time.Duration) error    { return errors.New("binary not found") }
func (failingLauncher) Terminate(Process, time.Duration) error { return nil }

func TestLaunchFailureFaultsTheRun(t *testing.T) {
	topo, clock := setup(t, 10*time.Second)
	sched := NewScheduler(clock, failingLauncher{})
	if _, err := sched.Schedule(topo.LeftLeaf(0), "missing", nil, nil, time.Second, 2*time.Second); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	err := clock.Run(context.Background())
	if !errors.Is(err, timectrl.ErrEventCallbackFault) || !errors.Is(err, ErrLaunch) {
		t.Fatalf("Run error = %v, want ErrEventCallbackFault wrapping ErrLaunch", err)
	}
}

func TestHelperBuildsProcesses(t *testing.T) {
	topo, clock := setup(t, 40*time.Second)
	sched := NewScheduler(clock, nil)
	helper := NewHelper(sched).SetBinary("ping").SetStackSize(1 << 16)

	first, err := helper.AddArgument("-u").AddArgument("10.1.1.2").Install(topo.LeftLeaf(0), 0, 20*time.Second)
	if err != nil {
		t.Fatalf("Install first: %v", err)
	}
	helper.ResetArguments().AddArgument("10.1.1.1").AddEnvironment("LANG", "C")
	second, err := helper.Install(topo.LeftLeaf(1), 0, 20*time.Second)
	if err != nil {
		t.Fatalf("Install second: %v", err)
	}

	p1, _ := first.Process()
	p2, _ := second.Process()
	if p1.CommandLine() != "ping -u 10.1.1.2" || len(p1.Env) != 0 {
		t.Fatalf("first process = %+v", p1)
	}
	if p2.CommandLine() != "ping 10.1.1.1" || len(p2.Env) != 1 || p2.Env[0] != "LANG=C" {
		t.Fatalf("second process = %+v", p2)
	}
	if p1.StackSize != 1<<16 {
		t.Fatalf("StackSize = %d, want %d", p1.StackSize, 1<<16)
	}

	helper.ResetEnvironment()
	third, err := helper.Install(topo.RightLeaf(0), time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("Install third: %v", err)
	}
	if p3, _ := third.Process(); len(p3.Env) != 0 {
		t.Fatalf("environment not reset: %v", p3.Env)
	}
}
