// Package kmeans implements Lloyd's algorithm over a dataset.Dataset,
// producing the k_lists centroids the IVF index partitions around.
//
// The assignment step (the expensive O(n*k) pass) is parallelized across
// the provided worker pool — the same "partition the range, submit one
// task per chunk, collect futures, combine" shape workerpool.Map gives
// every embarrassingly-parallel loop in this repo, replacing what would
// otherwise be a parallel-for compiler pragma.
package kmeans

import (
	"fmt"
	"math/rand"

	"github.com/Tyooughtul/Vengine/internal/dataset"
	"github.com/Tyooughtul/Vengine/internal/kernel"
	"github.com/Tyooughtul/Vengine/internal/workerpool"
)

// ErrInsufficientData is returned when the dataset holds fewer vectors
// than the requested cluster count.
var ErrInsufficientData = fmt.Errorf("kmeans: insufficient data")

// Centroids is k flat-stored rows of width dim, produced by Train.
type Centroids struct {
	dim  int
	k    int
	flat []float32
}

// K returns the number of centroids.
func (c *Centroids) K() int { return c.k }

// Dim returns the centroid width.
func (c *Centroids) Dim() int { return c.dim }

// Row returns an immutable view of centroid i.
func (c *Centroids) Row(i int) []float32 {
	start := i * c.dim
	return c.flat[start : start+c.dim : start+c.dim]
}

// Train runs Lloyd's algorithm with k clusters and up to maxIter
// iterations over ds, using a PRNG deterministically seeded with seed to
// sample the initial centroids. Fails with ErrInsufficientData when
// ds.Count() < k.
//
// Empty-cluster policy: a centroid that receives no assignments in the
// update step retains its previous value rather than being zeroed or
// re-seeded (the Open Question in spec.md §9 is resolved this way, per
// the spec's own recommendation).
func Train(ds *dataset.Dataset, k, maxIter int, seed int64, pool *workerpool.Pool) (*Centroids, error) {
	n := int(ds.Count())
	if n < k {
		return nil, ErrInsufficientData
	}
	dim := ds.Dim()

	rng := rand.New(rand.NewSource(seed))
	indices := rng.Perm(n)[:k]

	flat := make([]float32, k*dim)
	for ci, idx := range indices {
		copy(flat[ci*dim:(ci+1)*dim], ds.Row(int64(idx)))
	}
	centroids := &Centroids{dim: dim, k: k, flat: flat}

	assignments := make([]int32, n)
	prevAssignments := make([]int32, n)
	for i := range prevAssignments {
		prevAssignments[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		assignVectors(ds, centroids, assignments, pool)

		if iter > 0 {
			changed := 0
			for i := range assignments {
				if assignments[i] != prevAssignments[i] {
					changed++
				}
			}
			if changed == 0 {
				break
			}
		}
		copy(prevAssignments, assignments)

		updateCentroids(ds, centroids, assignments)
	}

	return centroids, nil
}

// assignVectors computes, for every vector in ds, the index of its
// nearest centroid under squared L2 (ties broken by lowest centroid
// index), writing the result into assignments.
func assignVectors(ds *dataset.Dataset, centroids *Centroids, assignments []int32, pool *workerpool.Pool) {
	n := int(ds.Count())
	workerpool.Map(pool, n, func(start, end int) {
		for i := start; i < end; i++ {
			assignments[i] = int32(nearestCentroid(ds.Row(int64(i)), centroids))
		}
	})
}

// nearestCentroid returns the argmin centroid index for v, lowest index
// winning ties.
func nearestCentroid(v []float32, centroids *Centroids) int {
	best := 0
	bestDist, _ := kernel.L2(v, centroids.Row(0))
	for c := 1; c < centroids.K(); c++ {
		d, _ := kernel.L2(v, centroids.Row(c))
		if d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

// updateCentroids recomputes each centroid as the arithmetic mean of its
// assigned vectors. A centroid with no assignments retains its previous
// value.
func updateCentroids(ds *dataset.Dataset, centroids *Centroids, assignments []int32) {
	dim := centroids.dim
	k := centroids.k

	sums := make([][]float32, k)
	counts := make([]int, k)
	for c := 0; c < k; c++ {
		sums[c] = make([]float32, dim)
	}

	n := int(ds.Count())
	for i := 0; i < n; i++ {
		c := assignments[i]
		row := ds.Row(int64(i))
		sum := sums[c]
		for d := 0; d < dim; d++ {
			sum[d] += row[d]
		}
		counts[c]++
	}

	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			continue // retain previous centroid
		}
		dst := centroids.Row(c)
		inv := 1.0 / float32(counts[c])
		for d := 0; d < dim; d++ {
			dst[d] = sums[c][d] * inv
		}
	}
}
