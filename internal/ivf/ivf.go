// Package ivf implements the inverted-file ANN index: k-means-trained
// centroids, a bucket (inverted list) per centroid, and two-stage
// probe-and-refine search.
//
// Centroid pruning lower-bounds the achievable recall; the oversized
// coarse candidate pool absorbs the variance that pruning introduces,
// and the final sort enforces deterministic result ordering.
package ivf

import (
	"container/heap"
	"fmt"
	"math"
	"sort"

	"github.com/Tyooughtul/Vengine/internal/dataset"
	"github.com/Tyooughtul/Vengine/internal/kernel"
	"github.com/Tyooughtul/Vengine/internal/kmeans"
	"github.com/Tyooughtul/Vengine/internal/workerpool"
)

// ErrNotBuilt is returned by Search before Build has completed.
var ErrNotBuilt = fmt.Errorf("ivf: index not built")

// probeEpsilon nudges the probe threshold so the best bucket is never
// excluded by floating-point drift in its own centroid distance.
const probeEpsilon = 1e-6

// state tracks the index's lifecycle: Empty -> Built -> (immutable).
// Rebuilding is not supported.
type state int

const (
	stateEmpty state = iota
	stateBuilt
)

// Result is one (id, distance) search hit.
type Result struct {
	ID       int64
	Distance float32
}

// Index is an inverted-file index over a dataset.Dataset. It holds no
// reference to the dataset between calls — Build and Search both take
// the dataset as a parameter, borrowed under the caller's lock guard.
type Index struct {
	centroids *kmeans.Centroids
	buckets   [][]int64
	state     state
}

// New returns an empty, unbuilt index.
func New() *Index {
	return &Index{state: stateEmpty}
}

// Built reports whether Build has completed successfully.
func (idx *Index) Built() bool {
	return idx.state == stateBuilt
}

// Build trains nLists centroids over ds with up to maxIter Lloyd
// iterations (seeded by seed), then assigns every vector in ds to its
// nearest centroid's bucket. Bucket population is dispatched across
// pool, since it is embarrassingly parallel over vectors.
//
// After Build returns successfully the index is sealed: the centroid
// set and bucket contents are immutable for the index's lifetime.
func (idx *Index) Build(ds *dataset.Dataset, nLists, maxIter int, seed int64, pool *workerpool.Pool) error {
	centroids, err := kmeans.Train(ds, nLists, maxIter, seed, pool)
	if err != nil {
		return err
	}

	n := int(ds.Count())
	assignments := make([]int32, n)
	workerpool.Map(pool, n, func(start, end int) {
		for i := start; i < end; i++ {
			assignments[i] = int32(nearestCentroid(ds.Row(int64(i)), centroids))
		}
	})

	buckets := make([][]int64, nLists)
	for i := 0; i < n; i++ {
		c := assignments[i]
		buckets[c] = append(buckets[c], int64(i))
	}

	idx.centroids = centroids
	idx.buckets = buckets
	idx.state = stateBuilt
	return nil
}

// Search finds the k nearest neighbors of q.
//
// Algorithm: centroids are ranked by ascending distance to q; buckets
// are probed in that order until either maxNProbe buckets have been
// probed or the next candidate bucket's centroid distance strictly
// exceeds threshold = d_c[0]*(1+probeRatio) + epsilon (the first bucket
// is always probed regardless of threshold). Probed buckets feed a
// bounded max-heap of the k*refineFactor best candidates (the coarse
// stage); the heap is drained and sorted ascending by distance, ties
// broken by ascending id, and the first k are returned (the refine
// stage).
func (idx *Index) Search(ds *dataset.Dataset, q []float32, k int, probeRatio float64, maxNProbe int, refineFactor int) ([]Result, error) {
	if idx.state != stateBuilt {
		return nil, ErrNotBuilt
	}
	if k <= 0 {
		return []Result{}, nil
	}

	nLists := idx.centroids.K()
	dc := make([]float32, nLists)
	for j := 0; j < nLists; j++ {
		d, err := kernel.L2(q, idx.centroids.Row(j))
		if err != nil {
			return nil, err
		}
		dc[j] = d
	}

	order := make([]int, nLists)
	for j := range order {
		order[j] = j
	}
	sort.Slice(order, func(i, j int) bool {
		if dc[order[i]] != dc[order[j]] {
			return dc[order[i]] < dc[order[j]]
		}
		return order[i] < order[j]
	})

	var threshold float32
	if math.IsInf(probeRatio, 1) {
		threshold = float32(math.Inf(1))
	} else {
		threshold = dc[order[0]]*float32(1+probeRatio) + probeEpsilon
	}

	coarseSize := k * refineFactor
	if coarseSize <= 0 {
		coarseSize = k
	}
	h := &maxHeap{}
	heap.Init(h)

	probed := 0
	for _, c := range order {
		if probed >= maxNProbe {
			break
		}
		if probed > 0 && dc[c] > threshold {
			break
		}
		probed++

		for _, id := range idx.buckets[c] {
			d, err := kernel.L2(q, ds.Row(id))
			if err != nil {
				return nil, err
			}
			if h.Len() < coarseSize {
				heap.Push(h, Result{ID: id, Distance: d})
			} else if d < (*h)[0].Distance {
				(*h)[0] = Result{ID: id, Distance: d}
				heap.Fix(h, 0)
			}
		}
	}

	results := make([]Result, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(Result)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func nearestCentroid(v []float32, centroids *kmeans.Centroids) int {
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

// maxHeap is a container/heap max-heap of Results ordered by Distance,
// used to keep the largest-of-the-best-so-far candidate at the root so
// it can be evicted in O(log n) when a closer candidate arrives.
type maxHeap []Result

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].Distance > h[j].Distance }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(Result)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
