package database

import (
	"context"
)

// ImageReader provides read-only access to image records
type ImageReader interface {
	// GetImage returns the image or ErrNotFound
	GetImage(ctx context.Context, id string) (*Image, error)
	// GetImageByFilename returns the image stored under an object-store filename
	GetImageByFilename(ctx context.Context, filename string) (*Image, error)
	// GetImages returns the images that exist among ids, in no particular order
	GetImages(ctx context.Context, ids []string) ([]Image, error)
	// ListImageIDs returns up to limit ids greater than after, ascending
	ListImageIDs(ctx context.Context, after string, limit int) ([]string, error)
	// ImagesWithUnknownFaces returns images whose unknown_faces is non-zero
	ImagesWithUnknownFaces(ctx context.Context) ([]Image, error)
	// ImagesWithEmbeddings returns images with at least one face embedding, ordered by id
	ImagesWithEmbeddings(ctx context.Context) ([]Image, error)
	// ListFeatures returns (id, features) pairs for images with features, paginated by id
	ListFeatures(ctx context.Context, after string, limit int) ([]ImageFeatures, error)
	// FindSimilarImages orders images by cosine distance to features
	FindSimilarImages(ctx context.Context, features []float32, limit int) ([]ImageFeatures, []float64, error)
}

// ImageWriter provides write access to image records. Every method is a single
// field-scoped update of one image unless noted.
type ImageWriter interface {
	ImageReader

	// CreateImage inserts img, assigns its ID and appends it to its album
	CreateImage(ctx context.Context, img *Image) (string, error)
	// SetFieldByFilename writes one analysis field of the image stored under filename
	SetFieldByFilename(ctx context.Context, field ImageField, value any, filename string) error
	// SetDescription replaces the description
	SetDescription(ctx context.Context, id, description string) error
	// AddView increments the view counter
	AddView(ctx context.Context, id string) error
	// AddLike likes or unlikes an image on behalf of user
	AddLike(ctx context.Context, positive bool, user, id string) error
	// AddFeedback records a user's vote on a tag of an image
	AddFeedback(ctx context.Context, tag string, positive bool, user, id string) error
	// AddAutoTags overwrites auto_tags and reconciles the feedback keys
	AddAutoTags(ctx context.Context, id string, tags []string) error
	// DeleteImages removes images and their references, returning what was removed
	DeleteImages(ctx context.Context, ids []string) ([]DeletedImage, error)
	// RelocateToAlbum moves images from prev to next; with no ids it moves a batch by album_id
	RelocateToAlbum(ctx context.Context, prev, next string, ids []string) (int, error)
}

// AlbumWriter manages the album tree
type AlbumWriter interface {
	// EnsureRoot returns the root album, creating it on first use
	EnsureRoot(ctx context.Context) (*Album, error)
	// CreateAlbum creates an album under parent, or under root when parent is empty
	CreateAlbum(ctx context.Context, name, parent string) (*Album, error)
	// GetAlbum returns the album or ErrNotFound
	GetAlbum(ctx context.Context, id string) (*Album, error)
	// ListAlbums returns the children of parent (root when empty)
	ListAlbums(ctx context.Context, parent string) ([]Album, error)
	// RenameAlbum renames a non-root album and its images' denormalized name
	RenameAlbum(ctx context.Context, id, name string) error
	// DeleteAlbums deletes albums recursively with their images
	DeleteAlbums(ctx context.Context, ids []string, topLevel bool) ([]DeletedImage, error)
	// AddPhotosToAlbum appends image ids to the album's image list
	AddPhotosToAlbum(ctx context.Context, albumID string, ids []string) error
	// AlbumImageIDsRecursive returns the images of the albums and all descendants
	AlbumImageIDsRecursive(ctx context.Context, albumIDs []string) ([]string, error)
}

// TagWriter manages user tags and the tag vocabulary
type TagWriter interface {
	// AddTagsToImages adds tags to user_tags and counts each new occurrence
	AddTagsToImages(ctx context.Context, tags, ids []string) error
	// AddTagsToAlbums tags every image in the albums and their descendants
	AddTagsToAlbums(ctx context.Context, tags, albumIDs []string) error
	// RemoveTagsFromImage removes tags and tombstones tags whose count reaches zero
	RemoveTagsFromImage(ctx context.Context, id string, tags []string) error
	// UniqueTags returns the vocabulary in index order, tombstones included
	UniqueTags(ctx context.Context) ([]string, error)
	// ListTags returns live tags with their counts
	ListTags(ctx context.Context) ([]Tag, error)
}

// FaceWriter manages face labels on images and the face-embedding table
type FaceWriter interface {
	// InsertFaceEmbeddings inserts one row per embedding with an empty group
	InsertFaceEmbeddings(ctx context.Context, embeddings [][]float32) error
	// ListFaceEmbeddings returns every row ordered by id
	ListFaceEmbeddings(ctx context.Context) ([]FaceEmbedding, error)
	// SetFaceGroups writes group labels keyed by row id
	SetFaceGroups(ctx context.Context, groups map[int64]string) error
	// DeleteFaceEmbeddingsNear deletes rows within radius (Euclidean) of any embedding
	DeleteFaceEmbeddingsNear(ctx context.Context, embeddings [][]float32, radius float64) (int, error)
	// AddNames names face slot index and returns the label it replaced
	AddNames(ctx context.Context, id string, index int, name string) (string, error)
	// UpdateNames rewrites the first slot labelled old to new in every image
	UpdateNames(ctx context.Context, old, name string) (int, error)
	// AdvanceBacklog copies a user label into the backlog slot and decrements unknown_faces
	AdvanceBacklog(ctx context.Context, id string, index int, name string) error
	// SetImageFaces writes the clustering result for one image
	SetImageFaces(ctx context.Context, update FaceUpdate) error
}

// UserWriter manages accounts
type UserWriter interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, username string) (*User, error)
	SetUserVerified(ctx context.Context, username string) error
}

// Catalog is the full document store used by the pipeline, workers and API.
type Catalog interface {
	ImageWriter
	AlbumWriter
	TagWriter
	FaceWriter
	UserWriter
}
