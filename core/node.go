package core

import "fmt"

// NodeID is allocated monotonically while a topology is built.
type NodeID int64

// Role is a node's place in the dumbbell.
type Role int

const (
	RoleLeftRouter Role = iota
	RoleRightRouter
	RoleLeftLeaf
	RoleRightLeaf
)

func (r Role) String() string {
	switch r {
	case RoleLeftRouter:
		return "left-router"
	case RoleRightRouter:
		return "right-router"
	case RoleLeftLeaf:
		return "left-leaf"
	case RoleRightLeaf:
		return "right-leaf"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// IsLeaf reports whether the role is one of the two leaf roles.
func (r Role) IsLeaf() bool {
	return r == RoleLeftLeaf || r == RoleRightLeaf
}

// Side selects one half of the dumbbell.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

func (s Side) String() string {
	if s == SideLeft {
		return "left"
	}
	return "right"
}

// StackAttachment records which network stack a node was given. It is
// attached data: the stack package installs and tears it down.
type StackAttachment struct {
	Variant string `json:"Variant"`
	Library string `json:"Library,omitempty"`
}

// Node is a router or leaf of the dumbbell.
type Node struct {
	ID       NodeID `json:"ID"`
	Name     string `json:"Name"`
	Role     Role   `json:"Role"`
	Index    int    `json:"Index"` // position within its role group, in creation order
	Position Vec3   `json:"Position"`

	InterfaceIDs []string `json:"InterfaceIDs"`

	Stack        *StackAttachment `json:"Stack,omitempty"`
	Applications []string         `json:"Applications,omitempty"`
}

// AttachStack records the installed stack variant.
func (n *Node) AttachStack(variant, library string) {
	n.Stack = &StackAttachment{Variant: variant, Library: library}
}

// DetachStack clears the stack attachment.
func (n *Node) DetachStack() {
	n.Stack = nil
}

// HasStack reports whether a stack is attached.
func (n *Node) HasStack() bool {
	return n.Stack != nil
}

// AttachApplication records an application instance hosted on this node.
func (n *Node) AttachApplication(appID string) {
	n.Applications = append(n.Applications, appID)
}
