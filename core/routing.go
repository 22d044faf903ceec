package core

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Route is the static path between two nodes.
type Route struct {
	Nodes []NodeID
	Links []*NetworkLink

	// Delay is the sum of propagation delays along the path.
	Delay time.Duration
	// Bottleneck is the smallest link data rate along the path.
	Bottleneck DataRate
}

// Hops returns the number of links traversed.
func (r Route) Hops() int { return len(r.Links) }

// routeTable caches shortest-path trees per source node, the way global
// routing tables are populated once before a run. It is not a routing
// protocol: routes never change after PopulateRoutes.
type routeTable struct {
	g      *simple.WeightedUndirectedGraph
	byPair map[[2]NodeID]*NetworkLink
	trees  map[NodeID]path.Shortest
}

// PopulateRoutes builds the connectivity graph with propagation delay as
// edge weight and precomputes the shortest-path tree of every node.
func (t *Topology) PopulateRoutes() {
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, n := range t.nodes {
		g.AddNode(simple.Node(n.ID))
	}

	rt := &routeTable{
		g:      g,
		byPair: make(map[[2]NodeID]*NetworkLink, len(t.links)),
		trees:  make(map[NodeID]path.Shortest, len(t.nodes)),
	}
	for _, link := range t.links {
		a := t.interfaces[link.InterfaceA].ParentNodeID
		z := t.interfaces[link.InterfaceB].ParentNodeID
		// A zero-delay link still costs one hop.
		w := link.Delay.Seconds() + 1e-9
		g.SetWeightedEdge(simple.WeightedEdge{F: simple.Node(a), T: simple.Node(z), W: w})
		rt.byPair[[2]NodeID{a, z}] = link
		rt.byPair[[2]NodeID{z, a}] = link
	}
	for _, n := range t.nodes {
		rt.trees[n.ID] = path.DijkstraFrom(simple.Node(n.ID), g)
	}
	t.routes = rt
}

// Route returns the shortest path from src to dst. PopulateRoutes is called
// on first use.
func (t *Topology) Route(src, dst NodeID) (Route, error) {
	if t.Node(src) == nil || t.Node(dst) == nil {
		return Route{}, fmt.Errorf("%w: route %d -> %d", ErrNodeNotFound, src, dst)
	}
	if t.routes == nil {
		t.PopulateRoutes()
	}

	nodes, _ := t.routes.trees[src].To(int64(dst))
	if len(nodes) == 0 {
		return Route{}, fmt.Errorf("%w: %d -> %d", ErrNoRoute, src, dst)
	}

	r := Route{Nodes: convertNodeSeq(nodes)}
	for i := 1; i < len(r.Nodes); i++ {
		link := t.routes.byPair[[2]NodeID{r.Nodes[i-1], r.Nodes[i]}]
		r.Links = append(r.Links, link)
		r.Delay += link.Delay
		if r.Bottleneck == 0 || link.DataRate < r.Bottleneck {
			r.Bottleneck = link.DataRate
		}
	}
	return r, nil
}

// NextHop returns the neighbour of src on the path towards dst.
func (t *Topology) NextHop(src, dst NodeID) (NodeID, error) {
	r, err := t.Route(src, dst)
	if err != nil {
		return 0, err
	}
	if len(r.Nodes) < 2 {
		return src, nil
	}
	return r.Nodes[1], nil
}

// Connected reports whether every node can reach every other node.
func (t *Topology) Connected() bool {
	if len(t.nodes) == 0 {
		return true
	}
	if t.routes == nil {
		t.PopulateRoutes()
	}
	tree := t.routes.trees[t.nodes[0].ID]
	for _, n := range t.nodes[1:] {
		if nodes, _ := tree.To(int64(n.ID)); len(nodes) == 0 {
			return false
		}
	}
	return true
}

func convertNodeSeq(nodes []graph.Node) []NodeID {
	out := make([]NodeID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeID(n.ID()))
	}
	return out
}

// PathDelay returns the propagation delay from src to dst.
func (t *Topology) PathDelay(src, dst NodeID) (time.Duration, error) {
	r, err := t.Route(src, dst)
	if err != nil {
		return 0, err
	}
	return r.Delay, nil
}
