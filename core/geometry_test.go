package core

import (
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestVec3DistanceTo(t *testing.T) {
	a := Vec3{X: 1, Y: 10}
	b := Vec3{X: 4, Y: 14}
	if d := a.DistanceTo(b); !approx(d, 5) {
		t.Fatalf("DistanceTo = %v, want 5", d)
	}
}

func TestBoundingBoxPlacesRoutersOnCentreLine(t *testing.T) {
	topo := mustBuild(t, 2, 1)
	topo.BoundingBox(1, 1, 100, 100)

	left := topo.LeftRouter().Position
	right := topo.RightRouter().Position
	if !approx(left.X, 34) || !approx(left.Y, 50.5) {
		t.Fatalf("left router at %+v, want (34, 50.5)", left)
	}
	if !approx(right.X, 67) || !approx(right.Y, 50.5) {
		t.Fatalf("right router at %+v, want (67, 50.5)", right)
	}
}

func TestBoundingBoxLeavesEquidistantFromRouter(t *testing.T) {
	topo := mustBuild(t, 3, 4)
	topo.BoundingBox(0, 0, 90, 90)

	for side, leaves := range map[Side]int{SideLeft: 3, SideRight: 4} {
		router := topo.Router(side).Position
		for i := 0; i < leaves; i++ {
			leaf, err := topo.Leaf(side, i)
			if err != nil {
				t.Fatalf("Leaf(%s, %d): %v", side, i, err)
			}
			if d := leaf.Position.DistanceTo(router); !approx(d, 30) {
				t.Fatalf("%s leaf %d is %v from its router, want 30", side, i, d)
			}
			if side == SideLeft && leaf.Position.X > router.X {
				t.Fatalf("left leaf %d placed right of its router", i)
			}
			if side == SideRight && leaf.Position.X < router.X {
				t.Fatalf("right leaf %d placed left of its router", i)
			}
		}
	}

	// With an odd count the middle leaf is level with the router.
	middle := topo.LeftLeaf(1).Position
	if !approx(middle.Y, topo.LeftRouter().Position.Y) {
		t.Fatalf("middle left leaf y = %v, want %v", middle.Y, topo.LeftRouter().Position.Y)
	}
}
