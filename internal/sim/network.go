package sim

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/signalsfoundry/dumbbell-simulator/apps"
	"github.com/signalsfoundry/dumbbell-simulator/core"
	"github.com/signalsfoundry/dumbbell-simulator/internal/observability"
	"github.com/signalsfoundry/dumbbell-simulator/internal/trace"
	"github.com/signalsfoundry/dumbbell-simulator/timectrl"
)

// network moves packets along static routes. Each hop costs the link's
// propagation delay plus the packet's serialisation time at the link rate;
// there is no queueing.
type network struct {
	topo    *core.Topology
	clock   *timectrl.SimulationClock
	rec     *trace.Recorder
	metrics *observability.SimCollector
	byAddr  map[netip.Addr]core.NodeID

	sent      uint64
	delivered uint64
}

func newNetwork(topo *core.Topology, clock *timectrl.SimulationClock, rec *trace.Recorder, metrics *observability.SimCollector) *network {
	n := &network{
		topo:    topo,
		clock:   clock,
		rec:     rec,
		metrics: metrics,
		byAddr:  make(map[netip.Addr]core.NodeID),
	}
	for _, node := range topo.Nodes() {
		for _, iface := range topo.InterfacesForNode(node.ID) {
			if iface.HasAddress() {
				n.byAddr[iface.Address] = node.ID
			}
		}
	}
	return n
}

// Send implements apps.Network. A valid destination address takes
// precedence over the packet's destination node.
func (n *network) Send(p apps.Packet) error {
	dst := p.Dst
	if p.DstAddr.IsValid() {
		id, ok := n.byAddr[p.DstAddr]
		if !ok {
			n.rec.CountDrop(p.Src)
			return nil
		}
		dst = id
	}

	route, err := n.topo.Route(p.Src, dst)
	if err != nil {
		return fmt.Errorf("route packet %s#%d: %w", p.App, p.Seq, err)
	}

	n.sent++
	n.rec.CountTx(p.Src, p.Size)

	at := p.SentAt
	for i, link := range route.Links {
		at += link.Delay + link.DataRate.TransmissionTime(p.Size)
		node := route.Nodes[i+1]
		last := i == len(route.Links)-1
		arrival := at
		var cb timectrl.Callback
		if last {
			cb = func() error {
				n.deliver(p, node, route.Hops(), arrival)
				return nil
			}
		} else {
			cb = func() error {
				n.rec.CountForward(node, p.Size)
				return nil
			}
		}
		if _, err := n.clock.Schedule(at, "packet-hop", cb); err != nil {
			return err
		}
	}
	return nil
}

func (n *network) deliver(p apps.Packet, node core.NodeID, hops int, at time.Duration) {
	n.delivered++
	n.rec.CountRx(node, p.Size)
	n.rec.RecordPacket(trace.PacketRecord{
		App:        p.App,
		Seq:        p.Seq,
		Src:        p.Src,
		Dst:        node,
		Size:       p.Size,
		Hops:       hops,
		SentAt:     p.SentAt,
		ReceivedAt: at,
	})
	n.metrics.PacketDelivered()
}
