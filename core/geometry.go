package core

import "math"

// Vec3 is a node position in animation/canvas units.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// BoundingBox lays the dumbbell out inside the rectangle with upper-left
// corner (ulx, uly) and lower-right corner (lrx, lry). The routers sit at one
// third and two thirds of the width on the vertical centre line; each side's
// leaves sit on a half circle around their router so every leaf link has the
// same length. An odd leaf in the middle lands exactly on the centre line.
func (t *Topology) BoundingBox(ulx, uly, lrx, lry float64) {
	xDist := lrx - ulx
	yDist := lry - uly
	xAdder := xDist / 3.0

	left := Vec3{X: ulx + xAdder, Y: uly + yDist/2.0}
	right := Vec3{X: lrx - xAdder, Y: uly + yDist/2.0}
	t.nodes[t.leftRouter].Position = left
	t.nodes[t.rightRouter].Position = right

	place := func(leaves []NodeID, router Vec3, sign float64) {
		count := len(leaves)
		step := math.Pi / float64(count+1)
		theta := -math.Pi/2 + step
		for i, id := range leaves {
			if count%2 == 1 && i == count/2 {
				theta = 0
			}
			t.nodes[id].Position = Vec3{
				X: router.X + sign*math.Cos(theta)*xAdder,
				Y: router.Y + sign*math.Sin(theta)*xAdder,
			}
			theta += step
		}
	}
	place(t.leftLeaves, left, -1)
	place(t.rightLeaves, right, 1)
}
