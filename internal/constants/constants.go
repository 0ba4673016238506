// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Pagination constants
const (
	// DefaultPageSize is the number of image ids fetched per catalog page
	DefaultPageSize = 100

	// RelocateBatchSize is the maximum number of images moved by a relocate call without explicit ids
	RelocateBatchSize = 100

	// DefaultSimilarLimit is the default number of results for similar image search
	DefaultSimilarLimit = 10

	// MaxSimilarLimit is the upper bound accepted for similar image search
	MaxSimilarLimit = 100
)

// Tag predictor constants
const (
	// PositiveThreshold is the net positive-minus-negative feedback at which
	// a tag counts as present in the training target
	PositiveThreshold = 2

	// TagPredictionThreshold is the sigmoid output above which a tag is emitted
	TagPredictionThreshold = 0.75

	// DefaultLearningRate is the Adam learning rate used when LEARNING_RATE is unset
	DefaultLearningRate = 0.001

	// FeatureDim is the length of the image feature vector (ImageNet logits)
	FeatureDim = 1000

	// NullTag marks a tombstoned tag kept for index stability
	NullTag = "NULL"

	// TagCacheTTL is how long a worker trusts its cached tag vocabulary
	TagCacheTTL = 5 * time.Minute
)

// Face constants
const (
	// FaceEmbeddingDim is the length of a face identity embedding
	FaceEmbeddingDim = 512

	// FaceSizeThreshold is the minimum box area (px²) for an accepted face, exclusive
	FaceSizeThreshold = 4200

	// MinFaceSize is the minimum width and height of a face crop in pixels
	MinFaceSize = 20

	// AnonFace is the label given to a freshly detected face
	AnonFace = "anon-1"

	// AnonPrefix prefixes every face label that has not been named by a user
	AnonPrefix = "anon"

	// FaceGroupPrefix prefixes cluster labels in the face-embedding table
	FaceGroupPrefix = "face"

	// DBSCANEps is the neighbourhood radius used to cluster face embeddings
	DBSCANEps = 0.8

	// DBSCANMinSamples is the minimum neighbourhood size (including the point) for a core point
	DBSCANMinSamples = 3

	// FaceDeleteRadius is the Euclidean radius used to match face rows to a deleted image
	FaceDeleteRadius = 0.01
)

// Detector thresholds for the three cascade stages (proposal, refine, output)
var DetectorThresholds = [3]float64{0.6, 0.7, 0.7}

// Image constants
const (
	// ThumbnailSize is the bounding box for generated thumbnails
	ThumbnailSize = 300

	// ThumbnailPrefix is prepended to a filename to form the thumbnail object key
	ThumbnailPrefix = "thumbnail"

	// MaxUploadSize is the maximum accepted multipart body for image uploads
	MaxUploadSize = 512 << 20

	// MaxRemoteImageSize caps a single image downloaded by the scraper or SharePoint loader
	MaxRemoteImageSize = 20 << 20

	// MaxScrapedImages caps how many images are taken from one gallery page
	MaxScrapedImages = 50
)

// Retry constants
const (
	// RetryAttempts is the total number of attempts for catalog and object-store calls
	RetryAttempts = 3

	// RetryBackoff is the fixed delay between attempts
	RetryBackoff = time.Second
)

// Album constants
const (
	// RootAlbumName is the name of the single parentless album
	RootAlbumName = "root"
)
