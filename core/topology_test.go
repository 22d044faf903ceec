package core

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

var (
	testLeafLink   = LinkAttributes{DataRate: "10Mbps", Delay: "1ms"}
	testRouterLink = LinkAttributes{DataRate: "10Mbps", Delay: "1ms"}
)

func mustBuild(t *testing.T, left, right int) *Topology {
	t.Helper()
	topo, err := BuildDumbbell(DumbbellConfig{
		LeftLeaves:  left,
		RightLeaves: right,
		LeafLink:    testLeafLink,
		RouterLink:  testRouterLink,
	})
	if err != nil {
		t.Fatalf("BuildDumbbell(%d, %d): %v", left, right, err)
	}
	return topo
}

func TestBuildDumbbellCounts(t *testing.T) {
	for _, tc := range []struct{ left, right int }{
		{1, 1}, {2, 1}, {1, 5}, {4, 4}, {16, 3},
	} {
		topo := mustBuild(t, tc.left, tc.right)
		if got, want := topo.NodeCount(), tc.left+tc.right+2; got != want {
			t.Errorf("(%d,%d) NodeCount = %d, want %d", tc.left, tc.right, got, want)
		}
		if got, want := topo.LinkCount(), tc.left+tc.right+1; got != want {
			t.Errorf("(%d,%d) LinkCount = %d, want %d", tc.left, tc.right, got, want)
		}
		if topo.LeftCount() != tc.left || topo.RightCount() != tc.right {
			t.Errorf("(%d,%d) leaf counts = (%d,%d)", tc.left, tc.right, topo.LeftCount(), topo.RightCount())
		}
	}
}

func TestBuildDumbbellLeafWiring(t *testing.T) {
	topo := mustBuild(t, 3, 2)

	for side, count := range map[Side]int{SideLeft: 3, SideRight: 2} {
		router := topo.Router(side)
		for i := 0; i < count; i++ {
			leaf, err := topo.Leaf(side, i)
			if err != nil {
				t.Fatalf("Leaf(%s, %d): %v", side, i, err)
			}
			if leaf.Index != i {
				t.Fatalf("%s leaf %d has Index %d", side, i, leaf.Index)
			}
			if len(leaf.InterfaceIDs) != 1 {
				t.Fatalf("%s leaf %d has %d interfaces, want 1", side, i, len(leaf.InterfaceIDs))
			}
			link := topo.LeafLink(leaf.ID)
			if link == nil {
				t.Fatalf("%s leaf %d has no link", side, i)
			}
			other := topo.Interface(link.Other(leaf.InterfaceIDs[0]))
			if other == nil || other.ParentNodeID != router.ID {
				t.Fatalf("%s leaf %d is not connected to its router", side, i)
			}
			if link.DataRate != 10*MbitPerSecond || link.Delay != time.Millisecond {
				t.Fatalf("%s leaf %d link = %s/%s, want leaf profile", side, i, link.DataRate, link.Delay)
			}
		}
	}

	backbone := topo.Backbone()
	a := topo.Interface(backbone.InterfaceA).ParentNodeID
	z := topo.Interface(backbone.InterfaceB).ParentNodeID
	if a != topo.LeftRouter().ID || z != topo.RightRouter().ID {
		t.Fatalf("backbone connects %d-%d, want routers", a, z)
	}
	if backbone.Segment != SegmentRouter {
		t.Fatalf("backbone segment = %s, want router", backbone.Segment)
	}
	// Routers carry one interface per leaf plus the backbone.
	if got := len(topo.LeftRouter().InterfaceIDs); got != 4 {
		t.Fatalf("left router has %d interfaces, want 4", got)
	}
}

func TestBuildDumbbellRouterProfile(t *testing.T) {
	topo, err := BuildDumbbell(DumbbellConfig{
		LeftLeaves:  1,
		RightLeaves: 1,
		LeafLink:    testLeafLink,
		RouterLink:  LinkAttributes{DataRate: "5Mbps", Delay: "20ms"},
	})
	if err != nil {
		t.Fatalf("BuildDumbbell: %v", err)
	}
	if bb := topo.Backbone(); bb.DataRate != 5*MbitPerSecond || bb.Delay != 20*time.Millisecond {
		t.Fatalf("backbone = %s/%s, want 5Mbps/20ms", bb.DataRate, bb.Delay)
	}
}

func TestBuildDumbbellDeterministicIDs(t *testing.T) {
	topo := mustBuild(t, 2, 2)

	wantRoles := []Role{RoleLeftRouter, RoleRightRouter, RoleLeftLeaf, RoleLeftLeaf, RoleRightLeaf, RoleRightLeaf}
	for i, n := range topo.Nodes() {
		if n.ID != NodeID(i) {
			t.Fatalf("node %d has ID %d", i, n.ID)
		}
		if n.Role != wantRoles[i] {
			t.Fatalf("node %d role = %s, want %s", i, n.Role, wantRoles[i])
		}
	}
	if topo.LeftLeaf(1).Name != "left-leaf-1" {
		t.Fatalf("LeftLeaf(1).Name = %q", topo.LeftLeaf(1).Name)
	}
}

func TestBuildDumbbellRejectsInvalidConfig(t *testing.T) {
	cases := map[string]DumbbellConfig{
		"zero left":    {LeftLeaves: 0, RightLeaves: 1, LeafLink: testLeafLink, RouterLink: testRouterLink},
		"zero right":   {LeftLeaves: 1, RightLeaves: 0, LeafLink: testLeafLink, RouterLink: testRouterLink},
		"negative":     {LeftLeaves: -1, RightLeaves: 1, LeafLink: testLeafLink, RouterLink: testRouterLink},
		"bad rate":     {LeftLeaves: 1, RightLeaves: 1, LeafLink: LinkAttributes{DataRate: "fast", Delay: "1ms"}, RouterLink: testRouterLink},
		"bad delay":    {LeftLeaves: 1, RightLeaves: 1, LeafLink: testLeafLink, RouterLink: LinkAttributes{DataRate: "10Mbps", Delay: "soon"}},
		"empty router": {LeftLeaves: 1, RightLeaves: 1, LeafLink: testLeafLink},
	}
	for name, cfg := range cases {
		topo, err := BuildDumbbell(cfg)
		if !errors.Is(err, ErrInvalidTopologyConfig) {
			t.Errorf("%s: error = %v, want ErrInvalidTopologyConfig", name, err)
		}
		if topo != nil {
			t.Errorf("%s: got a topology for invalid input", name)
		}
	}
}

func TestCombinedLeafCountMatchesExplicitCounts(t *testing.T) {
	left, right := EffectiveLeafCounts(2, 1, 2)
	if left != 2 || right != 2 {
		t.Fatalf("EffectiveLeafCounts(2,1,2) = (%d,%d), want (2,2)", left, right)
	}
	combined := mustBuild(t, left, right)
	explicit := mustBuild(t, 2, 2)
	if !reflect.DeepEqual(combined, explicit) {
		t.Fatalf("nLeaf=2 topology differs from nLeftLeaf=2,nRightLeaf=2")
	}

	left, right = EffectiveLeafCounts(3, 1, 0)
	if left != 3 || right != 1 {
		t.Fatalf("EffectiveLeafCounts(3,1,0) = (%d,%d), want (3,1)", left, right)
	}

	left, right = EffectiveLeafCounts(2, 1, -3)
	_, err := BuildDumbbell(DumbbellConfig{LeftLeaves: left, RightLeaves: right, LeafLink: testLeafLink, RouterLink: testRouterLink})
	if !errors.Is(err, ErrInvalidTopologyConfig) {
		t.Fatalf("negative combined count build error = %v, want ErrInvalidTopologyConfig", err)
	}
}

func TestTopologyLookups(t *testing.T) {
	topo := mustBuild(t, 1, 1)

	if topo.Node(99) != nil || topo.Node(-1) != nil {
		t.Fatalf("Node() should return nil for unknown IDs")
	}
	if _, err := topo.Leaf(SideRight, 1); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("Leaf out of range error = %v, want ErrNodeNotFound", err)
	}
	if topo.LeafLink(topo.LeftRouter().ID) != nil {
		t.Fatalf("routers have no leaf link")
	}
	if err := topo.SetPosition(topo.LeftLeaf(0).ID, Vec3{X: 1, Y: 10}); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if topo.LeftLeaf(0).Position != (Vec3{X: 1, Y: 10}) {
		t.Fatalf("position not updated")
	}
	if err := topo.SetPosition(42, Vec3{}); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("SetPosition unknown error = %v, want ErrNodeNotFound", err)
	}
	if got := len(topo.InterfacesForNode(topo.RightRouter().ID)); got != 2 {
		t.Fatalf("right router interfaces = %d, want 2", got)
	}
}
