package database

import (
	"time"
)

// Box is a face bounding box (x0, y0, x1, y1) in raw pixel coordinates.
type Box [4]float64

// Area returns the box area in square pixels.
func (b Box) Area() float64 {
	w := b[2] - b[0]
	h := b[3] - b[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Clamp limits the box to a width x height raster.
func (b Box) Clamp(width, height float64) Box {
	limit := [4]float64{width, height, width, height}
	for i := range b {
		b[i] = min(max(b[i], 0), limit[i])
	}
	return b
}

// FeedbackCount holds the votes cast on one tag of one image.
type FeedbackCount struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
}

// Net returns positive minus negative votes.
func (f FeedbackCount) Net() int {
	return f.Positive - f.Negative
}

// Image is a catalog record. Embeddings, EmbeddingsBox, UserFaces, BackloggedFaces
// and AutoFaces are positional: index i of each describes the same face.
type Image struct {
	ID              string
	Filename        string
	ImageURL        string
	ThumbnailURL    string
	Metadata        map[string]string
	Features        []float32
	Embeddings      [][]float32
	EmbeddingsBox   []Box
	UserFaces       []string
	AutoFaces       []int
	BacklogFaces    []string
	UnknownFaces    int
	UserTags        []string
	AutoTags        []string
	Feedback        map[string]FeedbackCount
	FeedbackHistory map[string]map[string]bool
	Description     string
	Likes           int
	LikedBy         []string
	Views           int
	AddedBy         string
	AlbumID         string
	AlbumName       string
	CreatedAt       time.Time
}

// HasFeatures reports whether analysis has written the feature vector.
func (img *Image) HasFeatures() bool {
	return len(img.Features) > 0
}

// Album is a node in the album tree. Parent is empty only for the root album.
type Album struct {
	ID        string
	Name      string
	Parent    string
	Sons      []string
	Images    []string
	CreatedAt time.Time
}

// IsRoot reports whether the album is the tree root.
func (a *Album) IsRoot() bool {
	return a.Parent == ""
}

// Tag is a vocabulary entry. Tombstoned tags keep their row with Name "NULL".
type Tag struct {
	ID    int64
	Name  string
	Count int
}

// FaceEmbedding is a row of the face-embedding table.
type FaceEmbedding struct {
	ID        int64
	Embedding []float32
	Group     string
}

// User is an account able to upload, tag and like images.
type User struct {
	Username  string
	Password  string // bcrypt hash
	Email     string
	Verified  bool
	Liked     []string
	CreatedAt time.Time
}

// ImageField names a column that late-arriving analysis tasks may write by filename.
type ImageField string

const (
	FieldFeatures      ImageField = "features"
	FieldEmbeddings    ImageField = "embeddings"
	FieldEmbeddingsBox ImageField = "embeddings_box"
	FieldUserFaces     ImageField = "user_faces"
	FieldBacklogFaces  ImageField = "backlog_faces"
	FieldAutoFaces     ImageField = "auto_faces"
)

// Valid reports whether f is one of the writable analysis fields.
func (f ImageField) Valid() bool {
	switch f {
	case FieldFeatures, FieldEmbeddings, FieldEmbeddingsBox, FieldUserFaces, FieldBacklogFaces, FieldAutoFaces:
		return true
	}
	return false
}

// FaceUpdate carries the face label columns rewritten by clustering.
type FaceUpdate struct {
	ImageID      string
	UserFaces    []string
	BacklogFaces []string
	AutoFaces    []int
}

// DeletedImage is what the catalog returns for an image it removed, so callers
// can clean up the object store and face table.
type DeletedImage struct {
	ID         string
	Filename   string
	Embeddings [][]float32
}

// ImageFeatures pairs an image id with its feature vector.
type ImageFeatures struct {
	ID       string
	Features []float32
}
