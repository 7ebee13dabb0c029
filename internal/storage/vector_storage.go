package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyooughtul/Vengine/internal/dataset"
	"github.com/Tyooughtul/Vengine/internal/ivf"
	"github.com/Tyooughtul/Vengine/internal/kernel"
	"github.com/Tyooughtul/Vengine/internal/rwlock"
	"github.com/Tyooughtul/Vengine/internal/wal"
	"github.com/Tyooughtul/Vengine/internal/workerpool"
)

const opAddVector = "ADD_VECTOR"

// defaultKMeansSeed is the PRNG seed for centroid initialization used
// when a space doesn't supply one of its own (spec's Configuration
// table default for kmeans_seed).
const defaultKMeansSeed = 42

// snapshotHeaderSize is the fixed-width header (dim, count) every
// snapshot file starts with.
const snapshotHeaderSize = 12

// VectorEngineImpl is the C8 engine façade: it owns the dataset, the IVF
// index, the WAL handle, and the worker pool for one vector space, and
// is the only entity that mutates any of them.
type VectorEngineImpl struct {
	dim int

	ds    *dataset.Dataset
	index *ivf.Index
	wal   *wal.WAL
	pool  *workerpool.Pool
	lock  *rwlock.RWLock

	nLists     int32
	maxIter    int
	kmeansSeed int64

	// dataPath is the durable snapshot of ds that the WAL's checkpoint
	// guarantee depends on: the engine never truncates the WAL without
	// first proving every record it holds is recoverable from this file.
	dataPath string

	quitChan  chan struct{}
	closeOnce sync.Once

	// batched background checkpointing: the WAL itself fsyncs
	// synchronously on every append (spec mandates durability before the
	// caller observes success), but the index-rebuild checkpoint that
	// truncates it only needs to run periodically.
	buildRunning int32
}

var _ VectorEngine = (*VectorEngineImpl)(nil)

// VectorEngineConfig holds the parameters needed to open or create a
// vector space.
type VectorEngineConfig struct {
	Dim           int
	WALPath       string
	DataPath      string
	WorkerThreads int
	KMeansMaxIter int
	KMeansSeed    int64
}

// NewVectorEngine loads cfg.DataPath's durable snapshot (if any) into a
// fresh dataset, opens the WAL at cfg.WALPath and replays whatever was
// added since that snapshot on top of it, and starts the space's worker
// pool. The IVF index starts unbuilt; callers must call Build before
// Search.
func NewVectorEngine(cfg VectorEngineConfig) (*VectorEngineImpl, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("vector engine: dim must be positive, got %d", cfg.Dim)
	}
	if cfg.DataPath == "" {
		return nil, fmt.Errorf("vector engine: data path required")
	}
	maxIter := cfg.KMeansMaxIter
	if maxIter <= 0 {
		maxIter = 20
	}
	seed := cfg.KMeansSeed
	if seed == 0 {
		seed = defaultKMeansSeed
	}

	ds := dataset.New(cfg.Dim)
	if err := loadSnapshot(cfg.DataPath, cfg.Dim, ds); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	e := &VectorEngineImpl{
		dim:        cfg.Dim,
		ds:         ds,
		index:      ivf.New(),
		pool:       workerpool.New(cfg.WorkerThreads),
		lock:       rwlock.New(),
		maxIter:    maxIter,
		kmeansSeed: seed,
		dataPath:   cfg.DataPath,
		quitChan:   make(chan struct{}),
	}

	w, err := wal.Open(cfg.WALPath, func(op, payload string) error {
		if op != opAddVector {
			log.Printf("vector engine: skipping unrecognized WAL op %q", op)
			return nil
		}
		vec, err := decodeVector(payload)
		if err != nil {
			return fmt.Errorf("vector engine: decode WAL payload: %w", err)
		}
		if len(vec) != cfg.Dim {
			return fmt.Errorf("vector engine: WAL record dim %d, want %d", len(vec), cfg.Dim)
		}
		_, err = ds.Add(vec)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open WAL: %w", err)
	}
	e.wal = w

	go e.autoCheckpoint()
	return e, nil
}

// Add holds the exclusive lock, appends a WAL ADD_VECTOR record, then
// appends to the dataset. The dimension is checked before the WAL write
// so a rejected add never leaves a record behind for replay to mis-trust.
func (e *VectorEngineImpl) Add(vector []float32) (int64, error) {
	if len(vector) != e.dim {
		return 0, fmt.Errorf("%w: got %d, want %d", dataset.ErrDimensionMismatch, len(vector), e.dim)
	}

	g := e.lock.Lock()
	defer g.Unlock()

	if err := e.wal.Append(opAddVector, encodeVector(vector)); err != nil {
		return 0, err
	}
	return e.ds.Add(vector)
}

// Build trains nLists IVF centroids over every vector added so far and
// repopulates the inverted lists, snapshots the dataset to durable
// storage, and only then checkpoints the WAL — the WAL is never
// truncated until every record it held is recoverable from the
// snapshot file instead.
func (e *VectorEngineImpl) Build(nLists, maxIter int) error {
	if maxIter <= 0 {
		maxIter = e.maxIter
	}

	g := e.lock.Lock()
	defer g.Unlock()

	if err := e.index.Build(e.ds, nLists, maxIter, e.kmeansSeed, e.pool); err != nil {
		return err
	}
	atomic.StoreInt32(&e.nLists, int32(nLists))

	if err := e.snapshot(); err != nil {
		return fmt.Errorf("build: snapshot before checkpoint: %w", err)
	}
	return e.wal.Checkpoint()
}

// SearchTopK acquires the shared lock and delegates to the IVF index.
func (e *VectorEngineImpl) SearchTopK(query []float32, k int, probeRatio float64, maxNProbe, refineFactor int) ([]int64, []float32, error) {
	if len(query) != e.dim {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", dataset.ErrDimensionMismatch, len(query), e.dim)
	}

	g := e.lock.RLock()
	defer g.Unlock()

	results, err := e.index.Search(e.ds, query, k, probeRatio, maxNProbe, refineFactor)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]int64, len(results))
	dists := make([]float32, len(results))
	for i, r := range results {
		ids[i] = r.ID
		dists[i] = r.Distance
	}
	return ids, dists, nil
}

// RangeSearch is a brute-force, exact scan for every vector within
// radius of query, dispatched across the worker pool — the IVF coarse
// candidate pool is a top-k structure and does not naturally expose a
// radius query, so this bypasses it entirely.
func (e *VectorEngineImpl) RangeSearch(query []float32, radius float32) ([]int64, []float32, error) {
	if len(query) != e.dim {
		return nil, nil, fmt.Errorf("%w: got %d, want %d", dataset.ErrDimensionMismatch, len(query), e.dim)
	}

	g := e.lock.RLock()
	defer g.Unlock()

	n := int(e.ds.Count())
	type hit struct {
		id int64
		d  float32
	}
	var mu sync.Mutex
	var all []hit
	err := workerpool.Map(e.pool, n, func(start, end int) {
		var local []hit
		for i := start; i < end; i++ {
			d, err := kernel.L2(query, e.ds.Row(int64(i)))
			if err != nil {
				continue
			}
			if d <= radius {
				local = append(local, hit{id: int64(i), d: d})
			}
		}
		if len(local) > 0 {
			mu.Lock()
			all = append(all, local...)
			mu.Unlock()
		}
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].d != all[j].d {
			return all[i].d < all[j].d
		}
		return all[i].id < all[j].id
	})

	ids := make([]int64, len(all))
	dists := make([]float32, len(all))
	for i, h := range all {
		ids[i] = h.id
		dists[i] = h.d
	}
	return ids, dists, nil
}

// GetVectorByID returns a copy of the stored vector for id.
func (e *VectorEngineImpl) GetVectorByID(id int64) ([]float32, error) {
	g := e.lock.RLock()
	defer g.Unlock()

	if id < 0 || id >= e.ds.Count() {
		return nil, fmt.Errorf("vector engine: id %d not found", id)
	}
	row := e.ds.Row(id)
	out := make([]float32, len(row))
	copy(out, row)
	return out, nil
}

func (e *VectorEngineImpl) Close() error {
	e.closeOnce.Do(func() {
		close(e.quitChan)
		e.pool.Close()
		if err := e.wal.Close(); err != nil {
			log.Printf("vector engine: WAL close failed: %v", err)
		}
	})
	return nil
}

// autoCheckpoint periodically snapshots the dataset and truncates the
// WAL once its records are already reflected in a built index, bounding
// replay time after a restart. It is a no-op until the first successful
// Build. A failed snapshot skips that cycle's checkpoint entirely,
// leaving the WAL (and therefore durability) untouched until the next
// tick.
func (e *VectorEngineImpl) autoCheckpoint() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if atomic.LoadInt32(&e.nLists) == 0 {
				continue
			}
			if !atomic.CompareAndSwapInt32(&e.buildRunning, 0, 1) {
				continue
			}
			g := e.lock.Lock()
			if err := e.snapshot(); err != nil {
				log.Printf("vector engine: periodic snapshot failed, skipping checkpoint: %v", err)
			} else if err := e.wal.Checkpoint(); err != nil {
				log.Printf("vector engine: periodic checkpoint failed: %v", err)
			}
			g.Unlock()
			atomic.StoreInt32(&e.buildRunning, 0)
		case <-e.quitChan:
			return
		}
	}
}

// snapshot atomically writes every vector currently in the dataset to
// e.dataPath: write-to-temp-then-rename, so a crash mid-write never
// corrupts the previous snapshot. Callers must hold e.lock for writing.
func (e *VectorEngineImpl) snapshot() error {
	n := e.ds.Count()
	dim := e.dim

	tmp, err := os.CreateTemp(filepath.Dir(e.dataPath), "vecsnap-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed into place

	var hdr [snapshotHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(dim))
	binary.LittleEndian.PutUint64(hdr[4:12], uint64(n))
	if _, err := tmp.Write(hdr[:]); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write header: %w", err)
	}

	buf := make([]byte, dim*4)
	for i := int64(0); i < n; i++ {
		row := e.ds.Row(i)
		for j, f := range row {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(f))
		}
		if _, err := tmp.Write(buf); err != nil {
			tmp.Close()
			return fmt.Errorf("snapshot: write row %d: %w", i, err)
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	return os.Rename(tmpName, e.dataPath)
}

// loadSnapshot reads a previously-written snapshot file into ds. A
// missing file means this space has never completed a Build and is not
// an error — ds is simply left empty for the WAL replay to populate.
func loadSnapshot(path string, dim int, ds *dataset.Dataset) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) < snapshotHeaderSize {
		return fmt.Errorf("snapshot: truncated header")
	}

	gotDim := int(binary.LittleEndian.Uint32(data[0:4]))
	count := int64(binary.LittleEndian.Uint64(data[4:12]))
	if gotDim != dim {
		return fmt.Errorf("snapshot: dim %d, want %d", gotDim, dim)
	}
	rowBytes := dim * 4
	want := snapshotHeaderSize + int(count)*rowBytes
	if len(data) != want {
		return fmt.Errorf("snapshot: truncated body: have %d bytes, want %d", len(data), want)
	}

	row := make([]float32, dim)
	off := snapshotHeaderSize
	for i := int64(0); i < count; i++ {
		for j := 0; j < dim; j++ {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		if _, err := ds.Add(row); err != nil {
			return fmt.Errorf("snapshot: replay row %d: %w", i, err)
		}
	}
	return nil
}

// encodeVector renders a vector as "[f0, f1, ...]" using the shortest
// round-trippable decimal for each component, matching the WAL's
// human-readable payload contract.
func encodeVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func decodeVector(payload string) ([]float32, error) {
	s := strings.TrimSpace(payload)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSpace(s)
	if s == "" {
		return []float32{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
