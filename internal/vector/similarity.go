package vector

import "math"

// InnerProduct returns the inner product of two equal-length vectors, accumulated in float64.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are treated as orthogonal to everything.
func CosineDistance(a, b []float32) float64 {
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 1
	}
	return clampDistance(1 - InnerProduct(a, b)/(na*nb))
}

// clampDistance keeps rounding error from pushing a distance outside [0, 2].
func clampDistance(d float64) float64 {
	return math.Max(0, math.Min(2, d))
}
