package storage

// KeyValueEngine backs a single key-value space.
type KeyValueEngine interface {
	Close() error
	Put(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
}

// VectorEngine backs a single fixed-width vector space: ingestion, IVF
// build, approximate top-k search, exact range search, and point lookup.
type VectorEngine interface {
	Close() error

	// Add appends vector to the space, returning its assigned id.
	Add(vector []float32) (int64, error)

	// Build trains the IVF index over every vector added so far.
	Build(nLists, maxIter int) error

	// SearchTopK returns the k approximate nearest neighbors of query.
	// Fails with ErrNotBuilt if Build has not yet succeeded.
	SearchTopK(query []float32, k int, probeRatio float64, maxNProbe, refineFactor int) ([]int64, []float32, error)

	GetVectorByID(id int64) ([]float32, error)
	RangeSearch(query []float32, radius float32) ([]int64, []float32, error)
}
