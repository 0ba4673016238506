package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// FeatureIndex wraps an in-memory HNSW graph over image feature vectors.
type FeatureIndex struct {
	graph   *hnsw.Graph[string]
	live    map[string]struct{} // ids present in the graph and not deleted
	mu      sync.RWMutex
	built   bool
	buildMu sync.Mutex
}

// NewFeatureIndex creates an empty index.
func NewFeatureIndex() *FeatureIndex {
	return &FeatureIndex{live: make(map[string]struct{})}
}

func newFeatureGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	return g
}

// Build reads every image with features from r and replaces the graph.
func (h *FeatureIndex) Build(ctx context.Context, r ImageReader) error {
	g := newFeatureGraph()
	live := make(map[string]struct{})

	after := ""
	for {
		page, err := r.ListFeatures(ctx, after, HNSWBuildPageSize)
		if err != nil {
			return fmt.Errorf("list features after %q: %w", after, err)
		}
		if len(page) == 0 {
			break
		}
		for _, row := range page {
			if len(row.Features) == 0 {
				continue
			}
			g.Add(hnsw.MakeNode(row.ID, row.Features))
			live[row.ID] = struct{}{}
		}
		after = page[len(page)-1].ID
	}

	h.mu.Lock()
	h.graph = g
	h.live = live
	h.built = true
	h.mu.Unlock()
	return nil
}

// EnsureBuilt builds the index once; concurrent callers wait for the first build.
func (h *FeatureIndex) EnsureBuilt(ctx context.Context, r ImageReader) error {
	h.buildMu.Lock()
	defer h.buildMu.Unlock()

	h.mu.RLock()
	built := h.built
	h.mu.RUnlock()
	if built {
		return nil
	}
	return h.Build(ctx, r)
}

// Add inserts one image's vector. Features are written once per image, so an
// id already in the graph is left untouched.
func (h *FeatureIndex) Add(id string, features []float32) {
	if len(features) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.graph == nil {
		h.graph = newFeatureGraph()
	}
	if _, ok := h.live[id]; ok {
		return
	}
	h.graph.Add(hnsw.MakeNode(id, features))
	h.live[id] = struct{}{}
}

// Remove hides an image from search results.
func (h *FeatureIndex) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, id)
}

// Count returns the number of searchable images.
func (h *FeatureIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

// Search returns up to k image ids nearest to query, skipping exclude.
func (h *FeatureIndex) Search(query []float32, k int, exclude string) ([]string, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || len(h.live) == 0 {
		return nil, nil, errors.New("index not initialized")
	}

	neighbors := h.graph.Search(query, k*HNSWSearchMultiplier+1)

	type hit struct {
		id   string
		dist float64
	}
	hits := make([]hit, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Key == exclude {
			continue
		}
		if _, ok := h.live[n.Key]; !ok {
			continue
		}
		hits = append(hits, hit{id: n.Key, dist: CosineDistance(query, n.Value)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if len(hits) > k {
		hits = hits[:k]
	}

	ids := make([]string, len(hits))
	distances := make([]float64, len(hits))
	for i, x := range hits {
		ids[i] = x.id
		distances[i] = x.dist
	}
	return ids, distances, nil
}

// SimilarImages finds images similar to the image id. It uses the HNSW index
// when available and falls back to the catalog's vector ordering otherwise.
func SimilarImages(ctx context.Context, r ImageReader, idx *FeatureIndex, id string, limit int) ([]string, []float64, error) {
	img, err := r.GetImage(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !img.HasFeatures() {
		return nil, nil, fmt.Errorf("image %s has no features yet: %w", id, ErrNotFound)
	}

	if idx != nil {
		if err := idx.EnsureBuilt(ctx, r); err == nil {
			// analysed after the last build
			idx.Add(id, img.Features)
			if ids, dists, err := idx.Search(img.Features, limit, id); err == nil {
				return ids, dists, nil
			}
		}
	}

	rows, dists, err := r.FindSimilarImages(ctx, img.Features, limit+1)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, limit)
	out := make([]float64, 0, limit)
	for i, row := range rows {
		if row.ID == id || len(ids) == limit {
			continue
		}
		ids = append(ids, row.ID)
		out = append(out, dists[i])
	}
	return ids, out, nil
}
