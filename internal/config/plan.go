package config

import "time"

// Reference ping schedule.
const (
	firstPingStart  = 700 * time.Millisecond
	secondPingStart = 600 * time.Millisecond
	pingStop        = 20 * time.Second

	// Counter sampling and on/off traffic end here unless configured.
	referenceWindowStop = 10 * time.Second
)

func (c RunConfig) clampStop(stop time.Duration) time.Duration {
	return min(stop, c.Horizon)
}

// CounterPlan returns the counter window with an unset stop replaced by
// the reference stop, clamped to the horizon.
func (c RunConfig) CounterPlan() CounterWindow {
	w := c.Counters
	if w.Stop == 0 {
		w.Stop = c.clampStop(referenceWindowStop)
	}
	return w
}

// OnOffPlan is CounterPlan for the on/off clients.
func (c RunConfig) OnOffPlan() OnOff {
	o := c.OnOff
	if o.Stop == 0 {
		o.Stop = c.clampStop(referenceWindowStop)
	}
	return o
}

// PingPlan returns the configured pings, or the reference pair when none
// are configured: left leaf 0 pings its router's address 10.1.1.2, and
// the second host (left leaf 1, or right leaf 0 with a single left leaf)
// pings left leaf 0 at 10.1.1.1. With UDP enabled the first ping adds
// "-u -b <bandwidth>" and the second "-u". Stops are clamped to the
// horizon.
func (c RunConfig) PingPlan() []Ping {
	if len(c.Pings) > 0 {
		out := make([]Ping, len(c.Pings))
		copy(out, c.Pings)
		return out
	}

	stop := c.clampStop(pingStop)
	first := Ping{Side: "left", Index: 0, Target: "10.1.1.2", Start: firstPingStart, Stop: stop}
	second := Ping{Side: "left", Index: 1, Target: "10.1.1.1", Start: secondPingStart, Stop: stop}
	if left, _ := c.LeafCounts(); left < 2 {
		second.Side, second.Index = "right", 0
	}
	if c.UDP {
		first.Args = []string{"-u", "-b", c.Bandwidth}
		second.Args = []string{"-u"}
	}
	return []Ping{first, second}
}

// PositionPlan returns the configured position overrides, or pins the two
// ping hosts of the reference plan at (1,10,0) and (50,10,0).
func (c RunConfig) PositionPlan() []Position {
	if len(c.Positions) > 0 || len(c.Pings) > 0 {
		out := make([]Position, len(c.Positions))
		copy(out, c.Positions)
		return out
	}
	pings := c.PingPlan()
	return []Position{
		{Side: pings[0].Side, Index: pings[0].Index, X: 1, Y: 10},
		{Side: pings[1].Side, Index: pings[1].Index, X: 50, Y: 10},
	}
}
