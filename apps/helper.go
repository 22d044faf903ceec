package apps

import (
	"time"

	"github.com/signalsfoundry/dumbbell-simulator/core"
)

// Helper accumulates a process description and installs copies of it on
// nodes. Arguments and environment are reset explicitly between installs.
type Helper struct {
	sched     *Scheduler
	binary    string
	args      []string
	env       []string
	stackSize int
}

// NewHelper returns a helper scheduling through s.
func NewHelper(s *Scheduler) *Helper {
	return &Helper{sched: s}
}

func (h *Helper) SetBinary(path string) *Helper {
	h.binary = path
	return h
}

func (h *Helper) SetStackSize(bytes int) *Helper {
	h.stackSize = bytes
	return h
}

// AddArgument appends one argv entry. Flags and their values are separate
// entries, e.g. AddArgument("-b").AddArgument("1m").
func (h *Helper) AddArgument(arg string) *Helper {
	h.args = append(h.args, arg)
	return h
}

// AddEnvironment appends a KEY=value pair.
func (h *Helper) AddEnvironment(key, value string) *Helper {
	h.env = append(h.env, key+"="+value)
	return h
}

func (h *Helper) ResetArguments() *Helper {
	h.args = nil
	return h
}

func (h *Helper) ResetEnvironment() *Helper {
	h.env = nil
	return h
}

// Install schedules the current process description on node.
func (h *Helper) Install(node *core.Node, start, stop time.Duration) (*Handle, error) {
	return h.sched.ScheduleSpec(Spec{
		Node:       node,
		Executable: h.binary,
		Args:       h.args,
		Env:        h.env,
		StackSize:  h.stackSize,
		Start:      start,
		Stop:       stop,
	})
}
