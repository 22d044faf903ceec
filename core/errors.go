package core

import "errors"

var (
	// ErrInvalidTopologyConfig is returned for zero leaf counts or malformed
	// link attribute strings. Callers recover by correcting their input.
	ErrInvalidTopologyConfig = errors.New("invalid topology config")
	// ErrAddressSpaceExhausted is returned when a segment's block has fewer
	// usable host addresses than interfaces on that segment.
	ErrAddressSpaceExhausted = errors.New("address space exhausted")
	// ErrOverlappingAddressBlocks is returned when two segment blocks intersect.
	ErrOverlappingAddressBlocks = errors.New("overlapping address blocks")
	// ErrInvalidAddressBlock is returned for an unparseable base/mask pair.
	ErrInvalidAddressBlock = errors.New("invalid address block")
	// ErrNodeNotFound is returned when a node ID or leaf index is unknown.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNoRoute is returned when two nodes are not connected.
	ErrNoRoute = errors.New("no route")
)
