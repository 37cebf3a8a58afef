package core

import "math"

// Vec3 is a point or direction in world units (scaled 1000 km).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale returns v multiplied by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.Dot(v))
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Vec2 is a planar offset, used for belt member outlines.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns v - other.
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// Dot returns the dot product of two vectors.
func (v Vec2) Dot(other Vec2) float64 {
	return v.X*other.X + v.Y*other.Y
}

// Norm returns the Euclidean norm of the vector.
func (v Vec2) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// CosineSimilarity returns the cosine of the angle between v and other, or
// 0 when either vector is zero.
func (v Vec2) CosineSimilarity(other Vec2) float64 {
	n := v.Norm() * other.Norm()
	if n == 0 {
		return 0
	}
	return v.Dot(other) / n
}

// Quadrant returns 1..4 counter-clockwise from (+,+). Zero coordinates
// count as positive.
func (v Vec2) Quadrant() int {
	switch {
	case v.X >= 0 && v.Y >= 0:
		return 1
	case v.X < 0 && v.Y >= 0:
		return 2
	case v.X < 0:
		return 3
	default:
		return 4
	}
}
