// Package geom computes target bearings from drone pose and target position.
package geom

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// coincidentEps is the distance below which drone and target are treated as
// coincident and the direction vector is undefined.
const coincidentEps = 1e-4

// Pose is a drone pose: world position plus intrinsic Z-Y-X Euler orientation
// (yaw about Z, then pitch about Y, then roll about X), angles in radians.
type Pose struct {
	Pos   r3.Vec
	Roll  float64
	Pitch float64
	Yaw   float64
}

// Bearing is the result of a target bearing computation: Euclidean distance
// and a unit direction vector expressed in the drone body frame. Dir is the
// zero vector when drone and target coincide.
type Bearing struct {
	Distance float64
	Dir      r3.Vec
}

// rotation returns the world-from-body rotation for the pose.
func (p Pose) rotation() quat.Number {
	rz := r3.NewRotation(p.Yaw, r3.Vec{Z: 1})
	ry := r3.NewRotation(p.Pitch, r3.Vec{Y: 1})
	rx := r3.NewRotation(p.Roll, r3.Vec{X: 1})
	return quat.Mul(quat.Number(rz), quat.Mul(quat.Number(ry), quat.Number(rx)))
}

// ToBody rotates a world-frame vector into the pose's body frame.
func (p Pose) ToBody(v r3.Vec) r3.Vec {
	// The pose rotation is unit, so the conjugate is the inverse.
	inv := r3.Rotation(quat.Conj(p.rotation()))
	return inv.Rotate(v)
}

// TargetBearing computes the Euclidean distance from the drone to target and
// the unit direction toward it in the drone body frame. Pure: no shared
// state, safe to call once per frame from the simulation goroutine.
func TargetBearing(pose Pose, target r3.Vec) Bearing {
	offset := r3.Sub(target, pose.Pos)
	dist := r3.Norm(offset)
	if dist < coincidentEps {
		return Bearing{Distance: dist}
	}
	local := pose.ToBody(offset)
	return Bearing{
		Distance: dist,
		Dir:      r3.Scale(1/dist, local),
	}
}

// Vec4 packs the bearing as [unit x, unit y, unit z, distance], the layout
// stored in batch files.
func (b Bearing) Vec4() [4]float32 {
	return [4]float32{
		float32(b.Dir.X),
		float32(b.Dir.Y),
		float32(b.Dir.Z),
		float32(b.Distance),
	}
}
