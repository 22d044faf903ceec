package apps

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/signalsfoundry/dumbbell-simulator/core"
)

type captureNetwork struct {
	packets []Packet
	fail    error
}

func (c *captureNetwork) Send(p Packet) error {
	if c.fail != nil {
		return c.fail
	}
	c.packets = append(c.packets, p)
	return nil
}

func defaultOnOff() OnOffConfig {
	return OnOffConfig{PacketSize: 512, DataRate: 500 * core.KbitPerSecond, Port: 1000}
}

func TestOnOffSendsOnlyWhileScheduled(t *testing.T) {
	topo, clock := setup(t, 40*time.Second)
	net := &captureNetwork{}
	src, dst := topo.RightLeaf(0), topo.LeftLeaf(0)

	gen, err := NewOnOff("onoff-right-0", defaultOnOff(), src.ID, dst.ID, netip.MustParseAddr("10.1.1.1"), clock, net)
	if err != nil {
		t.Fatalf("NewOnOff: %v", err)
	}
	sched := NewScheduler(clock, nil)
	if _, err := sched.ScheduleApplication(src, "onoff", gen, 0, 10*time.Second); err != nil {
		t.Fatalf("ScheduleApplication: %v", err)
	}

	if err := clock.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(net.packets) == 0 {
		t.Fatalf("no packets sent in ten seconds")
	}
	if uint64(len(net.packets)) != gen.Sent() {
		t.Fatalf("Sent() = %d, network saw %d", gen.Sent(), len(net.packets))
	}
	if gen.BytesSent() != gen.Sent()*512 {
		t.Fatalf("BytesSent() = %d, want %d", gen.BytesSent(), gen.Sent()*512)
	}
	// At 500kb/s a 512 byte packet occupies 8.192ms, so ten seconds can hold
	// at most 1221 packets.
	if len(net.packets) > 1221 {
		t.Fatalf("sent %d packets, above line rate", len(net.packets))
	}

	interval := 8192 * time.Microsecond
	for i, p := range net.packets {
		if p.SentAt < 0 || p.SentAt >= 10*time.Second {
			t.Fatalf("packet %d sent at %s, outside [0s, 10s)", i, p.SentAt)
		}
		if p.Src != src.ID || p.Dst != dst.ID || p.Port != 1000 || p.Size != 512 {
			t.Fatalf("packet %d = %+v", i, p)
		}
		if p.Seq != uint64(i+1) {
			t.Fatalf("packet %d has seq %d", i, p.Seq)
		}
		if i > 0 && p.SentAt-net.packets[i-1].SentAt < interval {
			t.Fatalf("packets %d and %d only %s apart", i-1, i, p.SentAt-net.packets[i-1].SentAt)
		}
	}
}

func TestOnOffRejectsBadConfig(t *testing.T) {
	_, clock := setup(t, time.Second)
	for name, cfg := range map[string]OnOffConfig{
		"zero size": {PacketSize: 0, DataRate: core.MbitPerSecond},
		"zero rate": {PacketSize: 512},
	} {
		if _, err := NewOnOff(name, cfg, 0, 1, netip.Addr{}, clock, &captureNetwork{}); !errors.Is(err, ErrApplicationSchedule) {
			t.Errorf("%s: error = %v, want ErrApplicationSchedule", name, err)
		}
	}
}

func TestOnOffNetworkFailureFaultsRun(t *testing.T) {
	topo, clock := setup(t, 5*time.Second)
	net := &captureNetwork{fail: errors.New("no route")}
	cfg := defaultOnOff()
	// Long on periods so the first send happens at start.
	cfg.MaxOn = time.Hour

	gen, err := NewOnOff("onoff-fail", cfg, topo.RightLeaf(0).ID, topo.LeftLeaf(0).ID, netip.Addr{}, clock, net)
	if err != nil {
		t.Fatalf("NewOnOff: %v", err)
	}
	if _, err := NewScheduler(clock, nil).ScheduleApplication(topo.RightLeaf(0), "onoff", gen, 0, time.Second); err != nil {
		t.Fatalf("ScheduleApplication: %v", err)
	}
	if err := clock.Run(context.Background()); err == nil {
		t.Fatalf("Run succeeded despite failing network")
	}
}
