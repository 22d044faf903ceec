package apps

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/iti/rngstream"

	"github.com/signalsfoundry/dumbbell-simulator/core"
	"github.com/signalsfoundry/dumbbell-simulator/timectrl"
)

// Packet is a single datagram handed to the Network.
type Packet struct {
	App     string
	Seq     uint64
	Src     core.NodeID
	Dst     core.NodeID
	DstAddr netip.Addr
	Port    int
	Size    int
	SentAt  time.Duration
}

// Network carries packets between nodes.
type Network interface {
	Send(p Packet) error
}

// OnOffConfig configures an on/off traffic generator. On and off period
// lengths are drawn uniformly from [0, MaxOn) and [0, MaxOff).
type OnOffConfig struct {
	PacketSize int
	DataRate   core.DataRate
	Port       int
	MaxOn      time.Duration
	MaxOff     time.Duration
}

// OnOff alternates between sending constant-rate packets and staying
// silent. It is driven entirely by clock callbacks.
type OnOff struct {
	name     string
	cfg      OnOffConfig
	src      core.NodeID
	dst      core.NodeID
	dstAddr  netip.Addr
	clock    Clock
	net      Network
	rng      *rngstream.RngStream
	interval time.Duration

	running    bool
	onUntil    time.Duration
	pending    timectrl.EventID
	hasPending bool
	seq        uint64
	bytes      uint64
}

// NewOnOff creates a generator sending from src to dst. name labels the
// generator's packets and its random stream.
func NewOnOff(name string, cfg OnOffConfig, src, dst core.NodeID, dstAddr netip.Addr, clock Clock, net Network) (*OnOff, error) {
	if cfg.PacketSize <= 0 {
		return nil, fmt.Errorf("%w: on/off packet size %d", ErrApplicationSchedule, cfg.PacketSize)
	}
	if cfg.DataRate == 0 {
		return nil, fmt.Errorf("%w: on/off data rate is zero", ErrApplicationSchedule)
	}
	if cfg.MaxOn <= 0 {
		cfg.MaxOn = time.Second
	}
	if cfg.MaxOff <= 0 {
		cfg.MaxOff = time.Second
	}
	interval := cfg.DataRate.TransmissionTime(cfg.PacketSize)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return &OnOff{
		name:     name,
		cfg:      cfg,
		src:      src,
		dst:      dst,
		dstAddr:  dstAddr,
		clock:    clock,
		net:      net,
		rng:      rngstream.New(name),
		interval: interval,
	}, nil
}

func (o *OnOff) Start(at time.Duration) error {
	o.running = true
	return o.beginOn(at)
}

func (o *OnOff) Stop(time.Duration) error {
	o.running = false
	if o.hasPending {
		o.clock.Cancel(o.pending)
		o.hasPending = false
	}
	return nil
}

// Sent returns the number of packets sent so far.
func (o *OnOff) Sent() uint64 { return o.seq }

// BytesSent returns the payload bytes sent so far.
func (o *OnOff) BytesSent() uint64 { return o.bytes }

func (o *OnOff) beginOn(now time.Duration) error {
	o.onUntil = now + o.draw(o.cfg.MaxOn)
	return o.schedule(0, "onoff-send", o.send)
}

func (o *OnOff) send() error {
	o.hasPending = false
	if !o.running {
		return nil
	}
	now := o.clock.Now()
	if now >= o.onUntil {
		return o.schedule(o.draw(o.cfg.MaxOff), "onoff-on", func() error {
			o.hasPending = false
			if !o.running {
				return nil
			}
			return o.beginOn(o.clock.Now())
		})
	}

	o.seq++
	o.bytes += uint64(o.cfg.PacketSize)
	err := o.net.Send(Packet{
		App:     o.name,
		Seq:     o.seq,
		Src:     o.src,
		Dst:     o.dst,
		DstAddr: o.dstAddr,
		Port:    o.cfg.Port,
		Size:    o.cfg.PacketSize,
		SentAt:  now,
	})
	if err != nil {
		return fmt.Errorf("%s: send #%d: %w", o.name, o.seq, err)
	}
	return o.schedule(o.interval, "onoff-send", o.send)
}

// schedule registers fn delay after the current simulation time.
func (o *OnOff) schedule(delay time.Duration, name string, fn timectrl.Callback) error {
	id, err := o.clock.ScheduleAfter(delay, name, fn)
	if err != nil {
		return err
	}
	o.pending, o.hasPending = id, true
	return nil
}

func (o *OnOff) draw(upper time.Duration) time.Duration {
	return time.Duration(o.rng.RandU01() * float64(upper))
}
