package database

import "time"

// HNSW index parameters for 1000-dim image feature vectors
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// to ensure we have enough after filtering out the query image.
	HNSWSearchMultiplier = 3

	// HNSWBuildPageSize is the number of feature rows read per catalog page while building.
	HNSWBuildPageSize = 500

	// HNSWRebuildInterval is how often the API process rebuilds the index so
	// images analysed by workers become searchable.
	HNSWRebuildInterval = 10 * time.Minute
)
