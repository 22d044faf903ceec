package core

import "time"

// NetworkLink is a point-to-point link between exactly two interfaces. The
// parsed DataRate and Delay are what the rest of the simulator uses; the
// original attribute strings are kept for traces and diagnostics.
type NetworkLink struct {
	ID         string  `json:"ID"`
	InterfaceA string  `json:"InterfaceA"`
	InterfaceB string  `json:"InterfaceB"`
	Segment    Segment `json:"Segment"`

	Attributes LinkAttributes `json:"Attributes"`
	DataRate   DataRate       `json:"DataRate"`
	Delay      time.Duration  `json:"Delay"`
}

// Other returns the interface at the opposite end from ifaceID, or "" when
// ifaceID is not an endpoint of the link.
func (l *NetworkLink) Other(ifaceID string) string {
	switch ifaceID {
	case l.InterfaceA:
		return l.InterfaceB
	case l.InterfaceB:
		return l.InterfaceA
	default:
		return ""
	}
}
