package spaces

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Tyooughtul/Vengine/internal/storage"
)

type spaceMeta struct {
	Name          string `json:"name"`
	EngineType    string `json:"engine_type"`
	Dimension     int    `json:"dimension,omitempty"`
	WorkerThreads int    `json:"worker_threads,omitempty"`
	KMeansMaxIter int    `json:"kmeans_max_iter,omitempty"`
	KMeansSeed    int64  `json:"kmeans_seed,omitempty"`
}

// SpaceManager tracks every open space (key-value or vector) under a
// base directory, persisting each space's configuration to a single
// metadata.json registry so spaces survive process restarts.
type SpaceManager struct {
	lock         sync.RWMutex
	spaces       map[string]interface{} // storage.KeyValueEngine or storage.VectorEngine
	spaceMetas   map[string]spaceMeta
	baseDir      string
	metaFilePath string
}

func NewSpaceManager(basePath string) *SpaceManager {
	os.MkdirAll(basePath, 0755)

	manager := &SpaceManager{
		spaces:       make(map[string]interface{}),
		spaceMetas:   make(map[string]spaceMeta),
		baseDir:      basePath,
		metaFilePath: filepath.Join(basePath, "metadata.json"),
	}
	manager.loadSpaceMetas()
	return manager
}

func (sm *SpaceManager) loadSpaceMetas() {
	data, err := os.ReadFile(sm.metaFilePath)
	if err != nil {
		return // file might not exist yet
	}
	var metas []spaceMeta
	if err := json.Unmarshal(data, &metas); err != nil {
		return
	}
	for _, meta := range metas {
		sm.spaceMetas[meta.Name] = meta
		spacePath := filepath.Join(sm.baseDir, meta.Name)
		switch meta.EngineType {
		case "key-value":
			dataFile := filepath.Join(spacePath, "data.db")
			walFile := filepath.Join(spacePath, "wal.db")
			indexFile := filepath.Join(spacePath, "index.dat")
			db, err := storage.OpenDBWithPaths(dataFile, walFile, indexFile)
			if err == nil {
				sm.spaces[meta.Name] = db
			} else {
				fmt.Printf("failed to open key-value space %q: %v\n", meta.Name, err)
			}
		case "vector":
			walFile := filepath.Join(spacePath, "vector_wal.db")
			dataFile := filepath.Join(spacePath, "vector_data.db")
			ve, err := storage.NewVectorEngine(storage.VectorEngineConfig{
				Dim:           meta.Dimension,
				WALPath:       walFile,
				DataPath:      dataFile,
				WorkerThreads: meta.WorkerThreads,
				KMeansMaxIter: meta.KMeansMaxIter,
				KMeansSeed:    meta.KMeansSeed,
			})
			if err == nil {
				sm.spaces[meta.Name] = ve
			} else {
				fmt.Printf("failed to open vector space %q: %v\n", meta.Name, err)
			}
		}
	}
}

func (sm *SpaceManager) saveSpaceMetas() {
	metas := make([]spaceMeta, 0, len(sm.spaceMetas))
	for _, meta := range sm.spaceMetas {
		metas = append(metas, meta)
	}
	data, _ := json.MarshalIndent(metas, "", "  ")
	_ = os.WriteFile(sm.metaFilePath, data, 0644)
}

func (sm *SpaceManager) GetSpace(space string) (interface{}, bool) {
	sm.lock.RLock()
	defer sm.lock.RUnlock()
	db, ok := sm.spaces[space]
	return db, ok
}

func (sm *SpaceManager) UseSpace(space string) (interface{}, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	if db, exists := sm.spaces[space]; exists {
		return db, nil
	}
	return nil, errors.New("space not found")
}

// CreateSpace creates a key-value space (dimension, workerThreads,
// kmeansMaxIter, and kmeansSeed are ignored) or a vector space (dimension
// is required; workerThreads <= 0 defaults to hardware parallelism,
// kmeansMaxIter <= 0 defaults to 20, kmeansSeed == 0 defaults to 42).
func (sm *SpaceManager) CreateSpace(space, engineType string, dimension, workerThreads, kmeansMaxIter int, kmeansSeed int64) (interface{}, error) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	if _, exists := sm.spaces[space]; exists {
		return nil, errors.New("space already exists")
	}
	if _, exists := sm.spaceMetas[space]; exists {
		return nil, errors.New("space already exists")
	}

	meta := spaceMeta{
		Name:          space,
		EngineType:    engineType,
		Dimension:     dimension,
		WorkerThreads: workerThreads,
		KMeansMaxIter: kmeansMaxIter,
		KMeansSeed:    kmeansSeed,
	}
	spacePath := filepath.Join(sm.baseDir, space)
	if err := os.MkdirAll(spacePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create space dir: %w", err)
	}

	var engine interface{}
	switch engineType {
	case "key-value":
		dataFile := filepath.Join(spacePath, "data.db")
		walFile := filepath.Join(spacePath, "wal.db")
		indexFile := filepath.Join(spacePath, "index.dat")
		db, err := storage.OpenDBWithPaths(dataFile, walFile, indexFile)
		if err != nil {
			return nil, err
		}
		engine = db
	case "vector":
		if dimension <= 0 {
			return nil, fmt.Errorf("vector space requires a positive dimension")
		}
		walFile := filepath.Join(spacePath, "vector_wal.db")
		dataFile := filepath.Join(spacePath, "vector_data.db")
		ve, err := storage.NewVectorEngine(storage.VectorEngineConfig{
			Dim:           dimension,
			WALPath:       walFile,
			DataPath:      dataFile,
			WorkerThreads: workerThreads,
			KMeansMaxIter: kmeansMaxIter,
			KMeansSeed:    kmeansSeed,
		})
		if err != nil {
			return nil, err
		}
		engine = ve
	default:
		return nil, fmt.Errorf("unknown engine type: %s", engineType)
	}

	sm.spaces[space] = engine
	sm.spaceMetas[space] = meta
	sm.saveSpaceMetas()
	return engine, nil
}

func (sm *SpaceManager) DeleteSpace(space string) error {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	if _, exists := sm.spaceMetas[space]; !exists {
		return errors.New("space does not exist")
	}

	if db, exists := sm.spaces[space]; exists {
		if closer, ok := db.(interface{ Close() error }); ok {
			closer.Close()
		}
		delete(sm.spaces, space)
	}

	spacePath := filepath.Join(sm.baseDir, space)
	if err := os.RemoveAll(spacePath); err != nil {
		return fmt.Errorf("failed to delete space directory: %w", err)
	}

	delete(sm.spaceMetas, space)
	sm.saveSpaceMetas()
	return nil
}

func (sm *SpaceManager) ListSpaces() []string {
	sm.lock.RLock()
	defer sm.lock.RUnlock()
	names := make([]string, 0, len(sm.spaceMetas))
	for name := range sm.spaceMetas {
		names = append(names, name)
	}
	return names
}

func (sm *SpaceManager) CloseAll() {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	for name, db := range sm.spaces {
		if closer, ok := db.(interface{ Close() error }); ok {
			closer.Close()
		}
		delete(sm.spaces, name)
	}
}

func (sm *SpaceManager) SpaceMeta(space string) (spaceMeta, bool) {
	meta, ok := sm.spaceMetas[space]
	return meta, ok
}
