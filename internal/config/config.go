// Package config holds the run configuration of a dumbbell experiment:
// defaults, YAML loading and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/dumbbell-simulator/core"
	"github.com/signalsfoundry/dumbbell-simulator/internal/trace"
	"github.com/signalsfoundry/dumbbell-simulator/stack"
)

// ErrInvalidConfig wraps every validation problem of a RunConfig.
var ErrInvalidConfig = errors.New("invalid run configuration")

// Defaults of the reference experiment.
const (
	DefaultLeftLeaves  = 2
	DefaultRightLeaves = 1
	DefaultStack       = "ns3"
	DefaultBandwidth   = "1m"
	DefaultAnimFile    = "dumbbell-animation.xml"
	DefaultHorizon     = 40 * time.Second
	DefaultStackSize   = 1 << 20
	DefaultPingBinary  = "ping"
)

// Blocks are the three address blocks, each "base/len" or "base/dotted-mask".
type Blocks struct {
	Left   string `yaml:"left"`
	Right  string `yaml:"right"`
	Router string `yaml:"router"`
}

// CounterWindow is when and how often layer-3 counters are sampled. A zero
// Stop means the reference stop time, clamped to the horizon.
type CounterWindow struct {
	Start    time.Duration `yaml:"start"`
	Stop     time.Duration `yaml:"stop"`
	Interval time.Duration `yaml:"interval"`
}

// OnOff configures the traffic clients installed on every right leaf. A
// zero Stop means the reference stop time, clamped to the horizon.
type OnOff struct {
	Enabled    bool          `yaml:"enabled"`
	PacketSize int           `yaml:"packet_size"`
	DataRate   string        `yaml:"data_rate"`
	Port       int           `yaml:"port"`
	Start      time.Duration `yaml:"start"`
	Stop       time.Duration `yaml:"stop"`
}

// Ping is one ping application. Side is "left" or "right". The argument
// vector is the target followed by Args.
type Ping struct {
	Side   string        `yaml:"side"`
	Index  int           `yaml:"index"`
	Target string        `yaml:"target"`
	Args   []string      `yaml:"args,omitempty,flow"`
	Start  time.Duration `yaml:"start"`
	Stop   time.Duration `yaml:"stop"`
}

// Position pins one leaf to fixed coordinates after the bounding-box layout.
type Position struct {
	Side  string  `yaml:"side"`
	Index int     `yaml:"index"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Z     float64 `yaml:"z"`
}

// RunConfig is everything needed to run one experiment.
type RunConfig struct {
	LeftLeaves  int    `yaml:"n_left_leaf"`
	RightLeaves int    `yaml:"n_right_leaf"`
	Leaves      int    `yaml:"n_leaf"`
	Stack       string `yaml:"stack"`
	UDP         bool   `yaml:"udp"`
	Bandwidth   string `yaml:"bandwidth"`
	AnimFile    string `yaml:"anim_file"`

	Horizon    time.Duration       `yaml:"horizon"`
	LeafLink   core.LinkAttributes `yaml:"leaf_link"`
	RouterLink core.LinkAttributes `yaml:"router_link"`
	Blocks     Blocks              `yaml:"blocks"`

	BoundingBox    [4]float64    `yaml:"bounding_box,flow"`
	Counters       CounterWindow `yaml:"counters"`
	PacketMetadata bool          `yaml:"packet_metadata"`

	OnOff     OnOff      `yaml:"onoff"`
	PingPath  string     `yaml:"ping_binary"`
	StackSize int        `yaml:"stack_size"`
	Pings     []Ping     `yaml:"pings,omitempty"`
	Positions []Position `yaml:"positions,omitempty"`
}

// Default returns the reference dumbbell experiment.
func Default() RunConfig {
	return RunConfig{
		LeftLeaves:  DefaultLeftLeaves,
		RightLeaves: DefaultRightLeaves,
		Stack:       DefaultStack,
		Bandwidth:   DefaultBandwidth,
		AnimFile:    DefaultAnimFile,
		Horizon:     DefaultHorizon,
		LeafLink:    core.LinkAttributes{DataRate: "10Mbps", Delay: "1ms"},
		RouterLink:  core.LinkAttributes{DataRate: "10Mbps", Delay: "1ms"},
		Blocks: Blocks{
			Left:   "10.1.1.0/255.255.255.0",
			Right:  "10.2.1.0/255.255.255.0",
			Router: "10.3.1.0/255.255.255.0",
		},
		BoundingBox: [4]float64{1, 1, 100, 100},
		Counters:    CounterWindow{Start: 0, Interval: time.Second},
		OnOff: OnOff{
			Enabled:    true,
			PacketSize: 512,
			DataRate:   "500kb/s",
			Port:       1000,
			Start:      0,
		},
		PingPath:  DefaultPingBinary,
		StackSize: DefaultStackSize,
	}
}

// Load reads a YAML run file on top of Default and validates the result.
func Load(path string) (RunConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("open run config: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode is Load for an already open reader. Unknown keys are rejected.
func Decode(r io.Reader) (RunConfig, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return RunConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Encode renders cfg as YAML.
func (c RunConfig) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var bandwidthPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?[kKmMgG]?$`)

// ValidBandwidth reports whether s is an iperf-style bandwidth such as
// "1m", "512k" or "10".
func ValidBandwidth(s string) bool {
	return bandwidthPattern.MatchString(s)
}

// LeafCounts returns the effective leaf counts after applying n_leaf.
func (c RunConfig) LeafCounts() (left, right int) {
	return core.EffectiveLeafCounts(c.LeftLeaves, c.RightLeaves, c.Leaves)
}

// AddressBlocks parses the three configured blocks.
func (c RunConfig) AddressBlocks() (left, right, router netip.Prefix, err error) {
	if left, err = parseBlock("left", c.Blocks.Left); err != nil {
		return
	}
	if right, err = parseBlock("right", c.Blocks.Right); err != nil {
		return
	}
	router, err = parseBlock("router", c.Blocks.Router)
	return
}

func parseBlock(name, s string) (netip.Prefix, error) {
	base, mask, ok := strings.Cut(s, "/")
	if !ok {
		return netip.Prefix{}, fmt.Errorf("%s block %q: want base/mask", name, s)
	}
	p, err := core.ParseBlock(base, mask)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%s block: %w", name, err)
	}
	return p, nil
}

// Validate checks every field and reports all problems at once.
func (c RunConfig) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.Leaves < 0 || c.LeftLeaves < 0 || c.RightLeaves < 0 {
		add("%w: negative leaf count (n_left_leaf=%d, n_right_leaf=%d, n_leaf=%d)",
			core.ErrInvalidTopologyConfig, c.LeftLeaves, c.RightLeaves, c.Leaves)
	} else if left, right := c.LeafCounts(); left < 1 || right < 1 {
		add("%w: leaf counts must be >= 1 (left=%d, right=%d)", core.ErrInvalidTopologyConfig, left, right)
	}
	if _, err := stack.ParseVariant(c.Stack); err != nil {
		add("stack: %w", err)
	}
	if !ValidBandwidth(c.Bandwidth) {
		add("bandwidth %q: want <number>[k|m|g]", c.Bandwidth)
	}
	if _, err := trace.FormatForPath(c.AnimFile); err != nil {
		add("anim_file: %w", err)
	}
	if c.Horizon <= 0 {
		add("horizon must be positive, got %s", c.Horizon)
	}
	if _, _, err := c.LeafLink.Parse(); err != nil {
		add("leaf_link: %w", err)
	}
	if _, _, err := c.RouterLink.Parse(); err != nil {
		add("router_link: %w", err)
	}
	if _, _, _, err := c.AddressBlocks(); err != nil {
		problems = append(problems, err)
	}
	if b := c.BoundingBox; b[2] <= b[0] || b[3] <= b[1] {
		add("bounding_box %v: lower right must be below and right of upper left", b)
	}
	if w := c.CounterPlan(); w.Start < 0 || w.Stop <= w.Start || w.Interval <= 0 || w.Stop > c.Horizon {
		add("counters window [%s, %s] every %s invalid for horizon %s", w.Start, w.Stop, w.Interval, c.Horizon)
	}
	if o := c.OnOffPlan(); o.Enabled {
		if o.PacketSize <= 0 {
			add("onoff.packet_size must be positive")
		}
		if _, err := core.ParseDataRate(o.DataRate); err != nil {
			add("onoff.data_rate: %w", err)
		}
		if o.Port <= 0 || o.Port > 65535 {
			add("onoff.port %d out of range", o.Port)
		}
		if !windowFits(o.Start, o.Stop, c.Horizon) {
			add("onoff window [%s, %s] invalid for horizon %s", o.Start, o.Stop, c.Horizon)
		}
	}
	if c.PingPath == "" {
		add("ping_binary is empty")
	}
	if c.StackSize <= 0 {
		add("stack_size must be positive")
	}
	for i, p := range c.Pings {
		if _, err := ParseSide(p.Side); err != nil {
			add("pings[%d]: %w", i, err)
		}
		if _, err := netip.ParseAddr(p.Target); err != nil {
			add("pings[%d].target %q: not an address", i, p.Target)
		}
		if !windowFits(p.Start, p.Stop, c.Horizon) {
			add("pings[%d] window [%s, %s] invalid for horizon %s", i, p.Start, p.Stop, c.Horizon)
		}
	}
	for i, p := range c.Positions {
		if _, err := ParseSide(p.Side); err != nil {
			add("positions[%d]: %w", i, err)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
}

func windowFits(start, stop, horizon time.Duration) bool {
	return start >= 0 && start < stop && stop <= horizon
}

// ParseSide maps "left"/"right" to a core.Side.
func ParseSide(s string) (core.Side, error) {
	switch strings.ToLower(s) {
	case "left":
		return core.SideLeft, nil
	case "right":
		return core.SideRight, nil
	default:
		return 0, fmt.Errorf("side %q: want left or right", s)
	}
}
