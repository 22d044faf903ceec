// Package trace collects node positions, per-node layer-3 counters and
// packet metadata during a run and writes them out as an animation trace.
package trace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/dumbbell-simulator/core"
	"github.com/signalsfoundry/dumbbell-simulator/internal/logging"
	"github.com/signalsfoundry/dumbbell-simulator/timectrl"
)

var (
	// ErrInvalidCounterWindow is returned for an empty or inverted sampling
	// window or a non-positive interval.
	ErrInvalidCounterWindow = errors.New("invalid counter window")
	// ErrUnknownFormat is returned by Flush for unsupported file extensions.
	ErrUnknownFormat = errors.New("unknown trace format")
	// ErrUnknownNode is returned for positions of nodes never described.
	ErrUnknownNode = errors.New("unknown trace node")
)

// Scheduler is the part of the simulation clock used for counter sampling.
type Scheduler interface {
	Schedule(at time.Duration, name string, fn timectrl.Callback) (timectrl.EventID, error)
}

// Counters are layer-3 packet counters of one node.
type Counters struct {
	TxPackets  uint64 `xml:"txp,attr" json:"tx_packets" yaml:"tx_packets"`
	TxBytes    uint64 `xml:"txb,attr" json:"tx_bytes" yaml:"tx_bytes"`
	RxPackets  uint64 `xml:"rxp,attr" json:"rx_packets" yaml:"rx_packets"`
	RxBytes    uint64 `xml:"rxb,attr" json:"rx_bytes" yaml:"rx_bytes"`
	FwdPackets uint64 `xml:"fwdp,attr" json:"fwd_packets" yaml:"fwd_packets"`
	FwdBytes   uint64 `xml:"fwdb,attr" json:"fwd_bytes" yaml:"fwd_bytes"`
	Drops      uint64 `xml:"drop,attr" json:"drops" yaml:"drops"`
}

func (c Counters) sub(o Counters) Counters {
	return Counters{
		TxPackets:  c.TxPackets - o.TxPackets,
		TxBytes:    c.TxBytes - o.TxBytes,
		RxPackets:  c.RxPackets - o.RxPackets,
		RxBytes:    c.RxBytes - o.RxBytes,
		FwdPackets: c.FwdPackets - o.FwdPackets,
		FwdBytes:   c.FwdBytes - o.FwdBytes,
		Drops:      c.Drops - o.Drops,
	}
}

// Sample is the counter activity of one node during one window.
type Sample struct {
	NodeID      core.NodeID
	WindowStart time.Duration
	WindowEnd   time.Duration
	Counters    Counters
}

// PacketRecord is the metadata of one delivered packet.
type PacketRecord struct {
	App        string
	Seq        uint64
	Src        core.NodeID
	Dst        core.NodeID
	Size       int
	Hops       int
	SentAt     time.Duration
	ReceivedAt time.Duration
}

type nodeInfo struct {
	id       core.NodeID
	name     string
	role     string
	address  string
	position core.Vec3
}

type linkInfo struct {
	from, to core.NodeID
	rate     string
	delay    time.Duration
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(r *Recorder) {
		if log != nil {
			r.log = log
		}
	}
}

// Recorder is the trace sink of a run. Counter and packet updates happen on
// the clock goroutine; the mutex keeps Snapshot safe for other readers.
type Recorder struct {
	mu  sync.Mutex
	log logging.Logger

	runID    string
	nodes    map[core.NodeID]*nodeInfo
	links    []linkInfo
	metadata bool
	packets  []PacketRecord

	counters map[core.NodeID]*Counters
	last     map[core.NodeID]Counters
	sampling bool
	samples  []Sample

	complete bool
	reason   string
}

// NewRecorder returns an empty recorder. Runs are complete until marked
// otherwise.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		log:      logging.Noop(),
		nodes:    make(map[core.NodeID]*nodeInfo),
		counters: make(map[core.NodeID]*Counters),
		last:     make(map[core.NodeID]Counters),
		complete: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetRunID stamps the document with a run identifier.
func (r *Recorder) SetRunID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = id
}

// Describe records every node, its current position and router-facing
// address, and every link of topo.
func (r *Recorder) Describe(topo *core.Topology) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range topo.Nodes() {
		info := &nodeInfo{id: n.ID, name: n.Name, role: n.Role.String(), position: n.Position}
		if ifaces := topo.InterfacesForNode(n.ID); len(ifaces) > 0 && ifaces[0].HasAddress() {
			info.address = ifaces[0].Address.String()
		}
		r.nodes[n.ID] = info
		if _, ok := r.counters[n.ID]; !ok {
			r.counters[n.ID] = &Counters{}
		}
	}
	r.links = r.links[:0]
	for _, l := range topo.Links() {
		r.links = append(r.links, linkInfo{
			from:  topo.Interface(l.InterfaceA).ParentNodeID,
			to:    topo.Interface(l.InterfaceB).ParentNodeID,
			rate:  l.DataRate.String(),
			delay: l.Delay,
		})
	}
}

// SetPosition overrides the recorded position of a node.
func (r *Recorder) SetPosition(id core.NodeID, x, y, z float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	n.position = core.Vec3{X: x, Y: y, Z: z}
	return nil
}

// EnablePacketMetadata turns on per-packet records.
func (r *Recorder) EnablePacketMetadata() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata = true
}

// EnableL3Counters samples every node's counters each interval from start
// until stop. Each sample holds the activity since the previous one.
func (r *Recorder) EnableL3Counters(clock Scheduler, start, stop, interval time.Duration) error {
	if start < 0 || stop <= start || interval <= 0 {
		return fmt.Errorf("%w: [%s, %s] every %s", ErrInvalidCounterWindow, start, stop, interval)
	}
	r.mu.Lock()
	r.sampling = true
	r.mu.Unlock()

	if _, err := clock.Schedule(start, "trace-counters-open", func() error {
		r.resetBaseline()
		return nil
	}); err != nil {
		return err
	}
	for at := start + interval; at <= stop; at += interval {
		windowStart, windowEnd := at-interval, at
		if _, err := clock.Schedule(at, "trace-counters", func() error {
			r.sample(windowStart, windowEnd)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) resetBaseline() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.counters {
		r.last[id] = *c
	}
}

func (r *Recorder) sample(from, to time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.sortedNodeIDs() {
		c := *r.counters[id]
		r.samples = append(r.samples, Sample{
			NodeID:      id,
			WindowStart: from,
			WindowEnd:   to,
			Counters:    c.sub(r.last[id]),
		})
		r.last[id] = c
	}
}

func (r *Recorder) counter(id core.NodeID) *Counters {
	c, ok := r.counters[id]
	if !ok {
		c = &Counters{}
		r.counters[id] = c
	}
	return c
}

// CountTx records a packet leaving its source node.
func (r *Recorder) CountTx(id core.NodeID, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counter(id)
	c.TxPackets++
	c.TxBytes += uint64(size)
}

// CountForward records a packet forwarded by a router.
func (r *Recorder) CountForward(id core.NodeID, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counter(id)
	c.FwdPackets++
	c.FwdBytes += uint64(size)
}

// CountRx records a packet delivered to its destination node.
func (r *Recorder) CountRx(id core.NodeID, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counter(id)
	c.RxPackets++
	c.RxBytes += uint64(size)
}

// CountDrop records a packet discarded at a node.
func (r *Recorder) CountDrop(id core.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter(id).Drops++
}

// RecordPacket stores packet metadata when EnablePacketMetadata was called.
func (r *Recorder) RecordPacket(p PacketRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metadata {
		r.packets = append(r.packets, p)
	}
}

// MarkIncomplete flags the trace of a run that did not finish normally.
func (r *Recorder) MarkIncomplete(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = false
	r.reason = reason
	r.log.Warn(context.Background(), "trace marked incomplete", logging.String("reason", reason))
}

// Totals returns the cumulative counters of a node.
func (r *Recorder) Totals(id core.NodeID) Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[id]; ok {
		return *c
	}
	return Counters{}
}

// Samples returns the counter samples taken so far.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Packets returns the packet records taken so far.
func (r *Recorder) Packets() []PacketRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PacketRecord, len(r.packets))
	copy(out, r.packets)
	return out
}

func (r *Recorder) sortedNodeIDs() []core.NodeID {
	ids := make([]core.NodeID, 0, len(r.counters))
	for id := range r.counters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
