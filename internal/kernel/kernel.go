// Package kernel implements the distance metrics shared by the k-means
// trainer and the IVF index: squared L2 and inner product over equal-length
// float32 spans.
package kernel

import (
	"fmt"

	"golang.org/x/sys/cpu"
)

// ErrDimensionMismatch is returned when two vectors passed to a kernel
// have different lengths.
var ErrDimensionMismatch = fmt.Errorf("kernel: dimension mismatch")

// lanes is the reference SIMD width: 8-wide single precision, matching a
// single AVX2 YMM register of float32 lanes.
const lanes = 8

// hasAVX2 gates the unrolled accumulation path. On platforms where
// golang.org/x/sys/cpu can't detect AVX2 (non-amd64), it is false and L2
// and InnerProduct take the scalar loop instead. The unrolled loop is
// portable Go, not assembly, so both paths are correct on any platform.
var hasAVX2 = cpu.X86.HasAVX2

// L2 returns the squared Euclidean distance between a and b.
//
// L2(a, b) == L2(b, a), and L2(a, a) == 0 for any a.
func L2(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	if hasAVX2 {
		return l2Unrolled(a, b), nil
	}
	return l2Scalar(a, b), nil
}

// InnerProduct returns the dot product of a and b.
func InnerProduct(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	if hasAVX2 {
		return ipUnrolled(a, b), nil
	}
	return ipScalar(a, b), nil
}

func l2Scalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func ipScalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// l2Unrolled accumulates eight independent partial sums, one per SIMD
// lane, so the scalar fallback and the "accelerated" path both reduce to
// the same sequence of additions up to reassociation — within the 1 ULP*n
// bound the kernel is required to hold to, regardless of which path ran.
func l2Unrolled(a, b []float32) float32 {
	n := len(a)
	var acc [lanes]float32
	i := 0
	for ; i+lanes <= n; i += lanes {
		for l := 0; l < lanes; l++ {
			d := a[i+l] - b[i+l]
			acc[l] += d * d
		}
	}
	var sum float32
	for _, v := range acc {
		sum += v
	}
	for ; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func ipUnrolled(a, b []float32) float32 {
	n := len(a)
	var acc [lanes]float32
	i := 0
	for ; i+lanes <= n; i += lanes {
		for l := 0; l < lanes; l++ {
			acc[l] += a[i+l] * b[i+l]
		}
	}
	var sum float32
	for _, v := range acc {
		sum += v
	}
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
