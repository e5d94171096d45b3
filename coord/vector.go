package coord

import "math"

// Vector holds one value per axis, in machine order X, Y, Z, A, B, C.
type Vector [AxisCount]float64

// Single returns a vector with only axis a set to val.
func Single(a Axis, val float64) Vector {
	var v Vector
	if a.Valid() {
		v[a] = val
	}
	return v
}

func (v Vector) Equal(b Vector) bool {
	return v == b
}

func (v Vector) Mul(val float64) Vector {
	for i := range v {
		v[i] *= val
	}
	return v
}

// Add will add the target values to v.
func (v Vector) Add(target Vector) Vector {
	for i := range v {
		v[i] += target[i]
	}
	return v
}

// Sub will subtract the target values from v.
func (v Vector) Sub(target Vector) Vector {
	for i := range v {
		v[i] -= target[i]
	}
	return v
}

// Length is the euclidean length over all axes.
func (v Vector) Length() float64 {
	var sq float64
	for _, val := range v {
		sq += val * val
	}
	return math.Sqrt(sq)
}

// NonZero returns the flags of the components that are not zero.
func (v Vector) NonZero() Flags {
	var f Flags
	for i, val := range v {
		f[i] = val != 0
	}
	return f
}

// Masked returns a copy of v with every component not set in f cleared.
func (v Vector) Masked(f Flags) Vector {
	for i := range v {
		if !f[i] {
			v[i] = 0
		}
	}
	return v
}
