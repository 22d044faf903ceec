package core

import (
	"fmt"
	"time"
)

// DumbbellConfig describes the dumbbell to build. Both leaf groups share the
// leaf-link profile; the backbone uses the router-link profile.
type DumbbellConfig struct {
	LeftLeaves  int
	RightLeaves int
	LeafLink    LinkAttributes
	RouterLink  LinkAttributes
}

// EffectiveLeafCounts applies the combined leaf count: a non-zero nLeaf
// overrides both per-side counts, so a negative one reaches BuildDumbbell
// and is rejected there.
func EffectiveLeafCounts(nLeft, nRight, nLeaf int) (int, int) {
	if nLeaf != 0 {
		return nLeaf, nLeaf
	}
	return nLeft, nRight
}

// Topology owns the nodes, interfaces and links of one dumbbell. It is
// built once during setup and then only read, plus the attached stack,
// application and position data written by the orchestration layer.
type Topology struct {
	nodes      []*Node // indexed by NodeID
	links      []*NetworkLink
	linkByID   map[string]*NetworkLink
	interfaces map[string]*NetworkInterface

	leftRouter  NodeID
	rightRouter NodeID
	leftLeaves  []NodeID
	rightLeaves []NodeID
	leafLinks   map[NodeID]string
	backbone    string

	routes *routeTable
}

// builder allocates IDs monotonically for one topology.
type builder struct {
	topo      *Topology
	nextIface int
}

// BuildDumbbell constructs the dumbbell graph. Creation order is left
// router, right router, left leaves, right leaves; leaf indexes follow
// creation order on each side.
func BuildDumbbell(cfg DumbbellConfig) (*Topology, error) {
	if cfg.LeftLeaves < 1 || cfg.RightLeaves < 1 {
		return nil, fmt.Errorf("%w: leaf counts must be >= 1 (left=%d, right=%d)",
			ErrInvalidTopologyConfig, cfg.LeftLeaves, cfg.RightLeaves)
	}
	leafRate, leafDelay, err := cfg.LeafLink.Parse()
	if err != nil {
		return nil, fmt.Errorf("leaf link: %w", err)
	}
	routerRate, routerDelay, err := cfg.RouterLink.Parse()
	if err != nil {
		return nil, fmt.Errorf("router link: %w", err)
	}

	total := cfg.LeftLeaves + cfg.RightLeaves + 2
	b := &builder{topo: &Topology{
		nodes:      make([]*Node, 0, total),
		links:      make([]*NetworkLink, 0, total-1),
		linkByID:   make(map[string]*NetworkLink, total-1),
		interfaces: make(map[string]*NetworkInterface, 2*(total-1)),
		leafLinks:  make(map[NodeID]string, total-2),
	}}
	t := b.topo

	t.leftRouter = b.addNode("left-router", RoleLeftRouter, 0)
	t.rightRouter = b.addNode("right-router", RoleRightRouter, 0)

	for i := 0; i < cfg.LeftLeaves; i++ {
		leaf := b.addNode(fmt.Sprintf("left-leaf-%d", i), RoleLeftLeaf, i)
		t.leftLeaves = append(t.leftLeaves, leaf)
		t.leafLinks[leaf] = b.connect(leaf, t.leftRouter, SegmentLeft, cfg.LeafLink, leafRate, leafDelay)
	}
	for i := 0; i < cfg.RightLeaves; i++ {
		leaf := b.addNode(fmt.Sprintf("right-leaf-%d", i), RoleRightLeaf, i)
		t.rightLeaves = append(t.rightLeaves, leaf)
		t.leafLinks[leaf] = b.connect(leaf, t.rightRouter, SegmentRight, cfg.LeafLink, leafRate, leafDelay)
	}
	t.backbone = b.connect(t.leftRouter, t.rightRouter, SegmentRouter, cfg.RouterLink, routerRate, routerDelay)

	return t, nil
}

func (b *builder) addNode(name string, role Role, index int) NodeID {
	id := NodeID(len(b.topo.nodes))
	b.topo.nodes = append(b.topo.nodes, &Node{
		ID:    id,
		Name:  name,
		Role:  role,
		Index: index,
	})
	return id
}

func (b *builder) addInterface(node NodeID, linkID string, seg Segment) string {
	n := b.topo.nodes[node]
	id := fmt.Sprintf("if-%d", b.nextIface)
	b.nextIface++
	b.topo.interfaces[id] = &NetworkInterface{
		ID:           id,
		Name:         fmt.Sprintf("%s/eth%d", n.Name, len(n.InterfaceIDs)),
		ParentNodeID: node,
		LinkID:       linkID,
		Segment:      seg,
	}
	n.InterfaceIDs = append(n.InterfaceIDs, id)
	return id
}

// connect creates a link between a and b. The interface on a is created
// first, so on leaf segments the leaf interface precedes the router's.
func (b *builder) connect(a, z NodeID, seg Segment, attrs LinkAttributes, rate DataRate, delay time.Duration) string {
	linkID := fmt.Sprintf("link-%d", len(b.topo.links))
	link := &NetworkLink{
		ID:         linkID,
		InterfaceA: b.addInterface(a, linkID, seg),
		InterfaceB: b.addInterface(z, linkID, seg),
		Segment:    seg,
		Attributes: attrs,
		DataRate:   rate,
		Delay:      delay,
	}
	b.topo.links = append(b.topo.links, link)
	b.topo.linkByID[linkID] = link
	return linkID
}

// NodeCount returns the number of nodes, routers included.
func (t *Topology) NodeCount() int { return len(t.nodes) }

// LinkCount returns the number of links, backbone included.
func (t *Topology) LinkCount() int { return len(t.links) }

// LeftCount returns the number of left leaves.
func (t *Topology) LeftCount() int { return len(t.leftLeaves) }

// RightCount returns the number of right leaves.
func (t *Topology) RightCount() int { return len(t.rightLeaves) }

// Nodes returns all nodes in creation order.
func (t *Topology) Nodes() []*Node {
	out := make([]*Node, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// Node returns a node by ID, or nil if not found.
func (t *Topology) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(t.nodes) {
		return nil
	}
	return t.nodes[id]
}

// Links returns all links in creation order.
func (t *Topology) Links() []*NetworkLink {
	out := make([]*NetworkLink, len(t.links))
	copy(out, t.links)
	return out
}

// Link returns a link by ID, or nil if not found.
func (t *Topology) Link(id string) *NetworkLink {
	return t.linkByID[id]
}

// Interface returns an interface by ID, or nil if not found.
func (t *Topology) Interface(id string) *NetworkInterface {
	return t.interfaces[id]
}

// InterfacesForNode returns the node's interfaces in creation order.
func (t *Topology) InterfacesForNode(id NodeID) []*NetworkInterface {
	n := t.Node(id)
	if n == nil {
		return nil
	}
	out := make([]*NetworkInterface, 0, len(n.InterfaceIDs))
	for _, ifID := range n.InterfaceIDs {
		out = append(out, t.interfaces[ifID])
	}
	return out
}

// LeftRouter returns the router of the left leaves.
func (t *Topology) LeftRouter() *Node { return t.nodes[t.leftRouter] }

// RightRouter returns the router of the right leaves.
func (t *Topology) RightRouter() *Node { return t.nodes[t.rightRouter] }

// Router returns the router on the given side.
func (t *Topology) Router(side Side) *Node {
	if side == SideLeft {
		return t.LeftRouter()
	}
	return t.RightRouter()
}

// Backbone returns the router-to-router link.
func (t *Topology) Backbone() *NetworkLink { return t.linkByID[t.backbone] }

// Leaf returns leaf index on the given side.
func (t *Topology) Leaf(side Side, index int) (*Node, error) {
	leaves := t.leftLeaves
	if side == SideRight {
		leaves = t.rightLeaves
	}
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("%w: %s leaf %d of %d", ErrNodeNotFound, side, index, len(leaves))
	}
	return t.nodes[leaves[index]], nil
}

// LeftLeaf returns left leaf i, or nil if out of range.
func (t *Topology) LeftLeaf(i int) *Node {
	n, _ := t.Leaf(SideLeft, i)
	return n
}

// RightLeaf returns right leaf i, or nil if out of range.
func (t *Topology) RightLeaf(i int) *Node {
	n, _ := t.Leaf(SideRight, i)
	return n
}

// LeafLink returns the single link of a leaf node, or nil for routers.
func (t *Topology) LeafLink(id NodeID) *NetworkLink {
	linkID, ok := t.leafLinks[id]
	if !ok {
		return nil
	}
	return t.linkByID[linkID]
}

// SetPosition overrides a node's position.
func (t *Topology) SetPosition(id NodeID, pos Vec3) error {
	n := t.Node(id)
	if n == nil {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	n.Position = pos
	return nil
}
