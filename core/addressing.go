package core

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
)

// AddressBlocks holds one block per dumbbell segment.
type AddressBlocks struct {
	Left   netip.Prefix
	Right  netip.Prefix
	Router netip.Prefix
}

// ParseBlock builds a prefix from a base address and a mask given either as
// a dotted quad ("255.255.255.0") or a prefix length ("24" or "/24").
func ParseBlock(base, mask string) (netip.Prefix, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(base))
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: base %q: %v", ErrInvalidAddressBlock, base, err)
	}

	mask = strings.TrimPrefix(strings.TrimSpace(mask), "/")
	var bits int
	if m, err := netip.ParseAddr(mask); err == nil {
		bits, err = maskBits(m)
		if err != nil {
			return netip.Prefix{}, err
		}
	} else if bits, err = strconv.Atoi(mask); err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: mask %q", ErrInvalidAddressBlock, mask)
	}

	prefix, err := addr.Prefix(bits)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: %s/%d: %v", ErrInvalidAddressBlock, base, bits, err)
	}
	return prefix, nil
}

// maskBits converts a contiguous dotted mask to a prefix length.
func maskBits(m netip.Addr) (int, error) {
	if !m.Is4() {
		return 0, fmt.Errorf("%w: mask %s is not IPv4", ErrInvalidAddressBlock, m)
	}
	b := m.As4()
	v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	ones := 0
	for v&(1<<31) != 0 {
		ones++
		v <<= 1
	}
	if v != 0 {
		return 0, fmt.Errorf("%w: mask %s is not contiguous", ErrInvalidAddressBlock, m)
	}
	return ones, nil
}

// usableHosts returns how many host addresses a block can hand out. For
// IPv4 the network and broadcast addresses are excluded except on /31 and
// /32; for IPv6 only the subnet address is excluded.
func usableHosts(p netip.Prefix) int {
	hostBits := p.Addr().BitLen() - p.Bits()
	if hostBits >= 62 {
		return math.MaxInt
	}
	size := 1 << hostBits
	switch {
	case p.Addr().Is4() && hostBits >= 2:
		return size - 2
	case p.Addr().Is6() && hostBits >= 1:
		return size - 1
	default:
		return size
	}
}

// firstHost returns the first address handed out from p.
func firstHost(p netip.Prefix) netip.Addr {
	base := p.Masked().Addr()
	hostBits := base.BitLen() - p.Bits()
	if (base.Is4() && hostBits >= 2) || (base.Is6() && hostBits >= 1) {
		return base.Next()
	}
	return base
}

// AddressAssignment is the result of AssignAddresses.
type AddressAssignment struct {
	blocks      AddressBlocks
	byInterface map[string]netip.Addr
	bySegment   map[Segment][]netip.Addr
	leftLeaf    []netip.Addr
	rightLeaf   []netip.Addr
}

// Block returns the block used for a segment.
func (a *AddressAssignment) Block(seg Segment) netip.Prefix {
	switch seg {
	case SegmentLeft:
		return a.blocks.Left
	case SegmentRight:
		return a.blocks.Right
	default:
		return a.blocks.Router
	}
}

// SegmentAddresses returns the addresses handed out on seg, in order.
func (a *AddressAssignment) SegmentAddresses(seg Segment) []netip.Addr {
	out := make([]netip.Addr, len(a.bySegment[seg]))
	copy(out, a.bySegment[seg])
	return out
}

// InterfaceAddress returns the address assigned to an interface.
func (a *AddressAssignment) InterfaceAddress(ifaceID string) (netip.Addr, bool) {
	addr, ok := a.byInterface[ifaceID]
	return addr, ok
}

// LeafAddress returns the address of a leaf's router-facing interface.
// Applications use it to target a remote leaf.
func (a *AddressAssignment) LeafAddress(side Side, index int) (netip.Addr, error) {
	leaves := a.leftLeaf
	if side == SideRight {
		leaves = a.rightLeaf
	}
	if index < 0 || index >= len(leaves) {
		return netip.Addr{}, fmt.Errorf("%w: %s leaf %d of %d", ErrNodeNotFound, side, index, len(leaves))
	}
	return leaves[index], nil
}

// AssignAddresses hands out sequential addresses on the three segments in
// interface creation order. On leaf segments that is, per leaf, the leaf's
// interface followed by the router's interface for that leaf. The blocks
// are validated before any interface is touched, so a failed call leaves
// the topology unaddressed.
func AssignAddresses(t *Topology, left, right, router netip.Prefix) (*AddressAssignment, error) {
	blocks := AddressBlocks{Left: left, Right: right, Router: router}

	named := []struct {
		seg Segment
		p   netip.Prefix
	}{{SegmentLeft, left}, {SegmentRight, right}, {SegmentRouter, router}}

	for _, b := range named {
		if !b.p.IsValid() {
			return nil, fmt.Errorf("%w: %s block unset", ErrInvalidAddressBlock, b.seg)
		}
	}
	for i := 0; i < len(named); i++ {
		for j := i + 1; j < len(named); j++ {
			if named[i].p.Overlaps(named[j].p) {
				return nil, fmt.Errorf("%w: %s %s and %s %s", ErrOverlappingAddressBlocks,
					named[i].seg, named[i].p, named[j].seg, named[j].p)
			}
		}
	}

	plan := map[Segment][]string{}
	for _, link := range t.links {
		plan[link.Segment] = append(plan[link.Segment], link.InterfaceA, link.InterfaceB)
	}
	for _, b := range named {
		if need, have := len(plan[b.seg]), usableHosts(b.p); need > have {
			return nil, fmt.Errorf("%w: %s block %s has %d usable addresses, need %d",
				ErrAddressSpaceExhausted, b.seg, b.p, have, need)
		}
	}

	out := &AddressAssignment{
		blocks:      blocks,
		byInterface: make(map[string]netip.Addr, len(t.interfaces)),
		bySegment:   make(map[Segment][]netip.Addr, 3),
	}
	for _, b := range named {
		addr := firstHost(b.p)
		prefix := b.p.Masked()
		for _, ifaceID := range plan[b.seg] {
			iface := t.interfaces[ifaceID]
			iface.Address = addr
			iface.Prefix = prefix
			out.byInterface[ifaceID] = addr
			out.bySegment[b.seg] = append(out.bySegment[b.seg], addr)
			addr = addr.Next()
		}
	}

	for _, id := range t.leftLeaves {
		out.leftLeaf = append(out.leftLeaf, out.byInterface[t.nodes[id].InterfaceIDs[0]])
	}
	for _, id := range t.rightLeaves {
		out.rightLeaf = append(out.rightLeaf, out.byInterface[t.nodes[id].InterfaceIDs[0]])
	}
	return out, nil
}
