package domain

import "fmt"

// Vector3 is a three-axis coordinate or correction in millimeters.
type Vector3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// IdentityVector is the zero correction.
var IdentityVector = Vector3{}

// Sum adds two vectors componentwise.
func Sum(a, b Vector3) Vector3 {
	return Vector3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

// Difference returns the delta from a to b, i.e. b - a.
func Difference(a, b Vector3) Vector3 {
	return Vector3{X: b.X - a.X, Y: b.Y - a.Y, Z: b.Z - a.Z}
}

// Equal reports exact componentwise equality. Positions are rounded by the
// jog layer before they reach the engine, so no tolerance is applied.
func (v Vector3) Equal(other Vector3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// IsIdentity reports whether v is the zero correction.
func (v Vector3) IsIdentity() bool {
	return v.Equal(IdentityVector)
}

func (v Vector3) String() string {
	return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z)
}

func vectorPtr(v Vector3) *Vector3 {
	return &v
}

func cloneVectorPtr(v *Vector3) *Vector3 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
