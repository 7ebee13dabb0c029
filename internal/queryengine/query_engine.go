package queryengine

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/Tyooughtul/Vengine/internal/models"
	"github.com/Tyooughtul/Vengine/internal/spaces"
	"github.com/Tyooughtul/Vengine/internal/storage"
)

// Defaults mirror the engine's own config table for clients that omit
// these fields.
const (
	defaultProbeRatio   = 0.2
	defaultMaxNProbe    = 20
	defaultRefineFactor = 5
)

type QueryEngine struct {
	spaceManager *spaces.SpaceManager
}

func NewQueryEngine(spaceManager *spaces.SpaceManager) *QueryEngine {
	return &QueryEngine{spaceManager: spaceManager}
}

func (qe *QueryEngine) Execute(query models.Query) (string, error) {
	log.Println("Query:", query.Type)

	switch query.Type {
	case models.TypeUseSpace:
		if query.Space == "" {
			return "", errors.New("space name required")
		}
		_, err := qe.spaceManager.UseSpace(query.Space)
		if err != nil {
			return "", err
		}
		return "SPACE_CHANGED", nil

	case models.TypeCreateSpace:
		if query.Space == "" {
			return "", errors.New("space name required")
		}
		engineType := query.EngineType
		if engineType == "" {
			engineType = "key-value"
		}
		_, err := qe.spaceManager.CreateSpace(query.Space, engineType, query.Dimension, query.WorkerThreads, query.KMeansMaxIter, query.KMeansSeed)
		if err != nil {
			return "", err
		}
		return "SPACE_CREATED", nil

	case models.TypeDeleteSpace:
		if query.Data == "" {
			return "", errors.New("space name required")
		}
		if err := qe.spaceManager.DeleteSpace(query.Data); err != nil {
			return "", err
		}
		return "SPACE_DELETED", nil

	case models.TypeListSpaces:
		return serializeSpaces(qe.spaceManager.ListSpaces()), nil

	case models.TypePut, models.TypeGet, models.TypeDelete:
		engine, err := qe.keyValueEngine(query.Space)
		if err != nil {
			return "", err
		}
		switch query.Type {
		case models.TypePut:
			return "OK", engine.Put(query.Key, query.Value)
		case models.TypeGet:
			return engine.Get(query.Key)
		case models.TypeDelete:
			if err := engine.Delete(query.Key); err != nil {
				return "", err
			}
			return "DELETED", nil
		}

	case models.TypeInsertVector:
		engine, meta, err := qe.vectorEngine(query.Space)
		if err != nil {
			return "", err
		}
		vector, err := parseVector(query.Value, meta.Dimension)
		if err != nil {
			return "", err
		}
		id, err := engine.Add(vector)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("VECTOR_INSERTED %d", id), nil

	case models.TypeBuildIndex:
		engine, _, err := qe.vectorEngine(query.Space)
		if err != nil {
			return "", err
		}
		nLists := query.NLists
		if nLists <= 0 {
			return "", errors.New("n_lists must be positive")
		}
		if err := engine.Build(nLists, query.KMeansMaxIter); err != nil {
			return "", err
		}
		return "INDEX_BUILT", nil

	case models.TypeSearchTopK:
		engine, meta, err := qe.vectorEngine(query.Space)
		if err != nil {
			return "", err
		}
		vector, err := parseVector(query.Value, meta.Dimension)
		if err != nil {
			return "", err
		}
		ids, dists, err := engine.SearchTopK(vector, query.K, searchDefault(query.ProbeRatio, defaultProbeRatio), searchDefaultInt(query.MaxNProbe, defaultMaxNProbe), searchDefaultInt(query.RefineFactor, defaultRefineFactor))
		if err != nil {
			return "", err
		}
		return formatSearchResults(ids, dists), nil

	case models.TypeRangeSearch:
		engine, meta, err := qe.vectorEngine(query.Space)
		if err != nil {
			return "", err
		}
		vector, err := parseVector(query.Value, meta.Dimension)
		if err != nil {
			return "", err
		}
		ids, dists, err := engine.RangeSearch(vector, query.Radius)
		if err != nil {
			return "", err
		}
		return formatSearchResults(ids, dists), nil

	case models.TypeGetVector:
		engine, _, err := qe.vectorEngine(query.Space)
		if err != nil {
			return "", err
		}
		var id int64
		if _, err := fmt.Sscanf(query.Key, "%d", &id); err != nil {
			return "", errors.New("invalid vector id")
		}
		vec, err := engine.GetVectorByID(id)
		if err != nil {
			return "", err
		}
		return formatVector(vec), nil
	}

	return "", errors.New("unsupported query type")
}

func (qe *QueryEngine) keyValueEngine(space string) (storage.KeyValueEngine, error) {
	if space == "" {
		return nil, errors.New("no space selected")
	}
	eng, ok := qe.spaceManager.GetSpace(space)
	if !ok {
		return nil, errors.New("space does not exist")
	}
	engine, ok := eng.(storage.KeyValueEngine)
	if !ok {
		return nil, errors.New("operation not supported: not a key-value space")
	}
	return engine, nil
}

type spaceMetaView struct {
	Dimension int
}

func (qe *QueryEngine) vectorEngine(space string) (storage.VectorEngine, spaceMetaView, error) {
	if space == "" {
		return nil, spaceMetaView{}, errors.New("no space selected")
	}
	eng, ok := qe.spaceManager.GetSpace(space)
	if !ok {
		return nil, spaceMetaView{}, errors.New("space does not exist")
	}
	meta, ok := qe.spaceManager.SpaceMeta(space)
	if !ok {
		return nil, spaceMetaView{}, errors.New("space metadata not found")
	}
	engine, ok := eng.(storage.VectorEngine)
	if !ok {
		return nil, spaceMetaView{}, errors.New("operation not supported: not a vector space")
	}
	return engine, spaceMetaView{Dimension: meta.Dimension}, nil
}

func searchDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func searchDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func serializeSpaces(spaceNames []string) string {
	var sb strings.Builder
	sb.WriteString(`{"status":"OK","spaces":[`)
	for i, name := range spaceNames {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`"` + name + `"`)
	}
	sb.WriteString("]}")
	return sb.String()
}

func parseVector(s string, dim int) ([]float32, error) {
	parts := strings.Split(s, ",")
	if len(parts) != dim {
		return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(parts))
	}
	vec := make([]float32, dim)
	for i, p := range parts {
		var f float32
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%f", &f); err != nil {
			return nil, fmt.Errorf("invalid float at position %d: %v", i, err)
		}
		vec[i] = f
	}
	return vec, nil
}

func formatVector(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%f", v)
	}
	return strings.Join(parts, ",")
}

func formatSearchResults(ids []int64, dists []float32) string {
	var sb strings.Builder
	sb.WriteString("[")
	for i := range ids {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("{\"id\": %d, \"distance\": %f}", ids[i], dists[i]))
	}
	sb.WriteString("]")
	return sb.String()
}
