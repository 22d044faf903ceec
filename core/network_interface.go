package core

import "net/netip"

// Segment names one of the three address segments of a dumbbell.
type Segment string

const (
	SegmentLeft   Segment = "left"
	SegmentRight  Segment = "right"
	SegmentRouter Segment = "router"
)

// NetworkInterface is one end of a point-to-point link on a node.
//
// Address and Prefix stay zero until AssignAddresses succeeds.
type NetworkInterface struct {
	ID           string       `json:"ID"`
	Name         string       `json:"Name"`
	ParentNodeID NodeID       `json:"ParentNodeID"`
	LinkID       string       `json:"LinkID"`
	Segment      Segment      `json:"Segment"`
	Address      netip.Addr   `json:"Address,omitempty"`
	Prefix       netip.Prefix `json:"Prefix,omitempty"`
}

// HasAddress reports whether an address has been assigned.
func (i *NetworkInterface) HasAddress() bool {
	return i != nil && i.Address.IsValid()
}
