// Package mock provides an in-memory database.Catalog for testing.
package mock

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
)

// Catalog is an in-memory implementation of database.Catalog with the same
// update semantics as the PostgreSQL catalog.
type Catalog struct {
	mu       sync.RWMutex
	images   map[string]*database.Image
	albums   map[string]*database.Album
	rootID   string
	tags     []database.Tag
	faces    []database.FaceEmbedding
	users    map[string]*database.User
	seq      int
	faceSeq  int64
	tagSeq   int64
	Now      func() time.Time
	Calls    map[string]int

	// Error injection
	GetImageError             error
	CreateImageError          error
	SetFieldError             error
	AddTagsError              error
	RemoveTagsError           error
	AddAutoTagsError          error
	UniqueTagsError           error
	DeleteImagesError         error
	ListImageIDsError         error
	ImagesWithEmbeddingsError error
	ListFaceEmbeddingsError   error
	InsertFacesError          error
	DeleteFacesError          error
	SetImageFacesError        error
}

var _ database.Catalog = (*Catalog)(nil)

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		images: make(map[string]*database.Image),
		albums: make(map[string]*database.Album),
		users:  make(map[string]*database.User),
		Now:    time.Now,
		Calls:  make(map[string]int),
	}
}

func (m *Catalog) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s%06d", prefix, m.seq)
}

func (m *Catalog) called(name string) {
	m.Calls[name]++
}

// CallCount returns how many times a method ran.
func (m *Catalog) CallCount(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Calls[name]
}

func cloneImage(img *database.Image) *database.Image {
	c := *img
	c.Metadata = maps.Clone(img.Metadata)
	c.Features = slices.Clone(img.Features)
	c.Embeddings = make([][]float32, len(img.Embeddings))
	for i, e := range img.Embeddings {
		c.Embeddings[i] = slices.Clone(e)
	}
	c.EmbeddingsBox = slices.Clone(img.EmbeddingsBox)
	c.UserFaces = slices.Clone(img.UserFaces)
	c.AutoFaces = slices.Clone(img.AutoFaces)
	c.BacklogFaces = slices.Clone(img.BacklogFaces)
	c.UserTags = slices.Clone(img.UserTags)
	c.AutoTags = slices.Clone(img.AutoTags)
	c.Feedback = maps.Clone(img.Feedback)
	c.FeedbackHistory = make(map[string]map[string]bool, len(img.FeedbackHistory))
	for u, h := range img.FeedbackHistory {
		c.FeedbackHistory[u] = maps.Clone(h)
	}
	c.LikedBy = slices.Clone(img.LikedBy)
	return &c
}

func cloneAlbum(a *database.Album) *database.Album {
	c := *a
	c.Sons = slices.Clone(a.Sons)
	c.Images = slices.Clone(a.Images)
	return &c
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, database.ErrNotFound)
}

// sortedImages returns stored images ordered by id. Caller holds the lock.
func (m *Catalog) sortedImages() []*database.Image {
	out := make([]*database.Image, 0, len(m.images))
	for _, img := range m.images {
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutImage stores img as is, for test setup.
func (m *Catalog) PutImage(img database.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if img.Feedback == nil {
		img.Feedback = map[string]database.FeedbackCount{}
	}
	if img.FeedbackHistory == nil {
		img.FeedbackHistory = map[string]map[string]bool{}
	}
	m.images[img.ID] = cloneImage(&img)
}

// Image returns a copy of the stored image or nil.
func (m *Catalog) Image(id string) *database.Image {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	if !ok {
		return nil
	}
	return cloneImage(img)
}

// Tags returns the vocabulary rows in id order, tombstones included.
func (m *Catalog) Tags() []database.Tag {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.tags)
}

func (m *Catalog) GetImage(_ context.Context, id string) (*database.Image, error) {
	if m.GetImageError != nil {
		return nil, m.GetImageError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	if !ok {
		return nil, notFound("image", id)
	}
	return cloneImage(img), nil
}

func (m *Catalog) GetImageByFilename(_ context.Context, filename string) (*database.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, img := range m.images {
		if img.Filename == filename {
			return cloneImage(img), nil
		}
	}
	return nil, notFound("image with filename", filename)
}

func (m *Catalog) GetImages(_ context.Context, ids []string) ([]database.Image, error) {
	if m.GetImageError != nil {
		return nil, m.GetImageError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Image
	for _, img := range m.sortedImages() {
		if slices.Contains(ids, img.ID) {
			out = append(out, *cloneImage(img))
		}
	}
	return out, nil
}

func (m *Catalog) ListImageIDs(_ context.Context, after string, limit int) ([]string, error) {
	if m.ListImageIDsError != nil {
		return nil, m.ListImageIDsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for _, img := range m.sortedImages() {
		if img.ID > after {
			ids = append(ids, img.ID)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

func (m *Catalog) ImagesWithUnknownFaces(_ context.Context) ([]database.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Image
	for _, img := range m.sortedImages() {
		if img.UnknownFaces > 0 {
			out = append(out, *cloneImage(img))
		}
	}
	return out, nil
}

func (m *Catalog) ImagesWithEmbeddings(_ context.Context) ([]database.Image, error) {
	if m.ImagesWithEmbeddingsError != nil {
		return nil, m.ImagesWithEmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Image
	for _, img := range m.sortedImages() {
		if len(img.Embeddings) > 0 {
			out = append(out, *cloneImage(img))
		}
	}
	return out, nil
}

func (m *Catalog) ListFeatures(_ context.Context, after string, limit int) ([]database.ImageFeatures, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.ImageFeatures
	for _, img := range m.sortedImages() {
		if img.ID > after && img.HasFeatures() {
			out = append(out, database.ImageFeatures{ID: img.ID, Features: slices.Clone(img.Features)})
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Catalog) FindSimilarImages(_ context.Context, features []float32, limit int) ([]database.ImageFeatures, []float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type hit struct {
		row  database.ImageFeatures
		dist float64
	}
	var hits []hit
	for _, img := range m.sortedImages() {
		if !img.HasFeatures() {
			continue
		}
		hits = append(hits, hit{
			row:  database.ImageFeatures{ID: img.ID, Features: slices.Clone(img.Features)},
			dist: database.CosineDistance(features, img.Features),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	rows := make([]database.ImageFeatures, len(hits))
	dists := make([]float64, len(hits))
	for i, h := range hits {
		rows[i] = h.row
		dists[i] = h.dist
	}
	return rows, dists, nil
}

func (m *Catalog) CreateImage(_ context.Context, img *database.Image) (string, error) {
	if m.CreateImageError != nil {
		return "", m.CreateImageError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("CreateImage")

	album, err := m.resolveAlbum(img.AlbumID)
	if err != nil {
		return "", err
	}
	if img.ID == "" {
		img.ID = m.nextID("img")
	}
	img.AlbumID = album.ID
	img.AlbumName = album.Name

	stored := database.Image{
		ID:              img.ID,
		Filename:        img.Filename,
		ImageURL:        img.ImageURL,
		ThumbnailURL:    img.ThumbnailURL,
		Metadata:        maps.Clone(img.Metadata),
		Feedback:        map[string]database.FeedbackCount{},
		FeedbackHistory: map[string]map[string]bool{},
		AddedBy:         img.AddedBy,
		AlbumID:         album.ID,
		AlbumName:       album.Name,
		CreatedAt:       m.Now(),
	}
	if stored.Metadata == nil {
		stored.Metadata = map[string]string{}
	}
	m.images[img.ID] = &stored
	if !slices.Contains(album.Images, img.ID) {
		album.Images = append(album.Images, img.ID)
	}
	return img.ID, nil
}

func (m *Catalog) SetFieldByFilename(_ context.Context, field database.ImageField, value any, filename string) error {
	if m.SetFieldError != nil {
		return m.SetFieldError
	}
	if !field.Valid() {
		return fmt.Errorf("%s: %w", field, database.ErrInvalidField)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("SetFieldByFilename")

	var img *database.Image
	for _, candidate := range m.images {
		if candidate.Filename == filename {
			img = candidate
			break
		}
	}
	if img == nil {
		return notFound("image with filename", filename)
	}

	ok := false
	switch field {
	case database.FieldFeatures:
		var v []float32
		if v, ok = value.([]float32); ok {
			img.Features = slices.Clone(v)
		}
	case database.FieldEmbeddings:
		var v [][]float32
		if v, ok = value.([][]float32); ok {
			img.Embeddings = make([][]float32, len(v))
			for i, e := range v {
				img.Embeddings[i] = slices.Clone(e)
			}
		}
	case database.FieldEmbeddingsBox:
		var v []database.Box
		if v, ok = value.([]database.Box); ok {
			img.EmbeddingsBox = slices.Clone(v)
		}
	case database.FieldUserFaces:
		var v []string
		if v, ok = value.([]string); ok {
			img.UserFaces = slices.Clone(v)
		}
	case database.FieldBacklogFaces:
		var v []string
		if v, ok = value.([]string); ok {
			img.BacklogFaces = slices.Clone(v)
		}
	case database.FieldAutoFaces:
		var v []int
		if v, ok = value.([]int); ok {
			img.AutoFaces = slices.Clone(v)
		}
	}
	if !ok {
		return fmt.Errorf("%s: unexpected value type %T: %w", field, value, database.ErrInvalidField)
	}
	return nil
}

func (m *Catalog) SetDescription(_ context.Context, id, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return notFound("image", id)
	}
	img.Description = description
	return nil
}

func (m *Catalog) AddView(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return notFound("image", id)
	}
	img.Views++
	return nil
}

func (m *Catalog) AddLike(_ context.Context, positive bool, user, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return notFound("image", id)
	}

	u := m.users[user]
	liked := slices.Contains(img.LikedBy, user)
	switch {
	case positive && !liked:
		img.Likes++
		img.LikedBy = append(img.LikedBy, user)
	case !positive && liked:
		img.Likes = max(img.Likes-1, 0)
		img.LikedBy = slices.DeleteFunc(img.LikedBy, func(s string) bool { return s == user })
	}
	if u != nil {
		if positive && !slices.Contains(u.Liked, id) {
			u.Liked = append(u.Liked, id)
		}
		if !positive {
			u.Liked = slices.DeleteFunc(u.Liked, func(s string) bool { return s == id })
		}
	}
	return nil
}

func (m *Catalog) AddFeedback(_ context.Context, tag string, positive bool, user, id string) error {
	tag = database.NormalizeLabel(tag)
	if tag == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return notFound("image", id)
	}

	fb := img.Feedback[tag]
	history := img.FeedbackHistory[user]
	prior, voted := history[tag]
	switch {
	case !voted && positive:
		fb.Positive++
	case !voted && !positive:
		fb.Negative++
	case prior != positive && positive:
		fb.Positive++
		fb.Negative--
	case prior != positive && !positive:
		fb.Positive--
		fb.Negative++
	}
	img.Feedback[tag] = fb
	if history == nil {
		history = map[string]bool{}
		img.FeedbackHistory[user] = history
	}
	history[tag] = positive
	return nil
}

func (m *Catalog) AddAutoTags(_ context.Context, id string, tags []string) error {
	if m.AddAutoTagsError != nil {
		return m.AddAutoTagsError
	}
	tags = database.NormalizeTags(tags)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("AddAutoTags")
	img, ok := m.images[id]
	if !ok {
		return notFound("image", id)
	}

	feedback := make(map[string]database.FeedbackCount, len(tags))
	for k, v := range img.Feedback {
		if slices.Contains(tags, k) {
			feedback[k] = v
		}
	}
	for _, t := range tags {
		if _, ok := feedback[t]; !ok {
			feedback[t] = database.FeedbackCount{}
		}
	}
	img.AutoTags = slices.Clone(tags)
	img.Feedback = feedback
	return nil
}

func (m *Catalog) DeleteImages(_ context.Context, ids []string) ([]database.DeletedImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("DeleteImages")
	deleted := m.deleteImages(ids)
	return deleted, m.DeleteImagesError
}

// deleteImages removes images and every reference to them. Caller holds the lock.
func (m *Catalog) deleteImages(ids []string) []database.DeletedImage {
	var deleted []database.DeletedImage
	for _, img := range m.sortedImages() {
		if !slices.Contains(ids, img.ID) {
			continue
		}
		deleted = append(deleted, database.DeletedImage{ID: img.ID, Filename: img.Filename, Embeddings: img.Embeddings})

		for _, a := range m.albums {
			a.Images = slices.DeleteFunc(a.Images, func(s string) bool { return s == img.ID })
		}
		for _, u := range m.users {
			u.Liked = slices.DeleteFunc(u.Liked, func(s string) bool { return s == img.ID })
		}
		for _, t := range img.UserTags {
			m.decrementTag(t)
		}
		delete(m.images, img.ID)
	}
	return deleted
}

func (m *Catalog) RelocateToAlbum(_ context.Context, prev, next string, ids []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, err := m.resolveAlbum(next)
	if err != nil {
		return 0, err
	}
	if target.ID == prev {
		return 0, nil
	}
	if len(ids) == 0 {
		for _, img := range m.sortedImages() {
			if img.AlbumID == prev {
				ids = append(ids, img.ID)
				if len(ids) == constants.RelocateBatchSize {
					break
				}
			}
		}
	}

	var moved []string
	for _, id := range ids {
		img, ok := m.images[id]
		if !ok || img.AlbumID != prev {
			continue
		}
		img.AlbumID = target.ID
		img.AlbumName = target.Name
		moved = append(moved, id)
	}
	if p, ok := m.albums[prev]; ok {
		p.Images = slices.DeleteFunc(p.Images, func(s string) bool { return slices.Contains(moved, s) })
	}
	for _, id := range moved {
		if !slices.Contains(target.Images, id) {
			target.Images = append(target.Images, id)
		}
	}
	return len(moved), nil
}

func (m *Catalog) SetImageFaces(_ context.Context, u database.FaceUpdate) error {
	if m.SetImageFacesError != nil {
		return m.SetImageFacesError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[u.ImageID]
	if !ok {
		return notFound("image", u.ImageID)
	}
	img.UserFaces = slices.Clone(u.UserFaces)
	img.BacklogFaces = slices.Clone(u.BacklogFaces)
	img.AutoFaces = slices.Clone(u.AutoFaces)
	return nil
}

// Albums

// resolveAlbum returns the stored album, or root when id is empty. Caller holds the lock.
func (m *Catalog) resolveAlbum(id string) (*database.Album, error) {
	if id == "" {
		return m.ensureRoot(), nil
	}
	a, ok := m.albums[id]
	if !ok {
		return nil, notFound("album", id)
	}
	return a, nil
}

func (m *Catalog) ensureRoot() *database.Album {
	if m.rootID == "" {
		m.rootID = m.nextID("album")
		m.albums[m.rootID] = &database.Album{ID: m.rootID, Name: constants.RootAlbumName, CreatedAt: m.Now()}
	}
	return m.albums[m.rootID]
}

func (m *Catalog) EnsureRoot(_ context.Context) (*database.Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAlbum(m.ensureRoot()), nil
}

func (m *Catalog) CreateAlbum(_ context.Context, name, parent string) (*database.Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.resolveAlbum(parent)
	if err != nil {
		return nil, err
	}
	a := &database.Album{ID: m.nextID("album"), Name: name, Parent: p.ID, CreatedAt: m.Now()}
	m.albums[a.ID] = a
	p.Sons = append(p.Sons, a.ID)
	return cloneAlbum(a), nil
}

func (m *Catalog) GetAlbum(_ context.Context, id string) (*database.Album, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.albums[id]
	if !ok {
		return nil, notFound("album", id)
	}
	return cloneAlbum(a), nil
}

func (m *Catalog) ListAlbums(_ context.Context, parent string) ([]database.Album, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.resolveAlbum(parent)
	if err != nil {
		return nil, err
	}
	var out []database.Album
	for _, a := range m.albums {
		if a.Parent == p.ID {
			out = append(out, *cloneAlbum(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Catalog) RenameAlbum(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.albums[id]
	if !ok {
		return notFound("album", id)
	}
	if a.IsRoot() {
		return database.ErrRootAlbum
	}
	a.Name = name
	for _, img := range m.images {
		if img.AlbumID == id {
			img.AlbumName = name
		}
	}
	return nil
}

// subtree returns ids and all their descendants. Caller holds the lock.
func (m *Catalog) subtree(ids []string) []string {
	var out []string
	queue := slices.Clone(ids)
	seen := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := m.albums[id]; !ok {
			continue
		}
		out = append(out, id)
		for _, a := range m.albums {
			if a.Parent == id {
				queue = append(queue, a.ID)
			}
		}
	}
	return out
}

func (m *Catalog) DeleteAlbums(_ context.Context, ids []string, topLevel bool) ([]database.DeletedImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("DeleteAlbums")

	var targets []*database.Album
	for _, id := range ids {
		a, ok := m.albums[id]
		if !ok {
			continue
		}
		if a.IsRoot() {
			return nil, database.ErrRootAlbum
		}
		targets = append(targets, a)
	}
	if len(targets) == 0 {
		return nil, nil
	}
	topIDs := make([]string, len(targets))
	for i, a := range targets {
		topIDs[i] = a.ID
	}
	tree := m.subtree(topIDs)

	var imageIDs []string
	for _, img := range m.images {
		if slices.Contains(tree, img.AlbumID) {
			imageIDs = append(imageIDs, img.ID)
		}
	}
	deleted := m.deleteImages(imageIDs)

	if topLevel {
		for _, a := range targets {
			if p, ok := m.albums[a.Parent]; ok {
				p.Sons = slices.DeleteFunc(p.Sons, func(s string) bool { return s == a.ID })
			}
		}
	}
	for _, id := range tree {
		delete(m.albums, id)
	}
	return deleted, m.DeleteImagesError
}

func (m *Catalog) AddPhotosToAlbum(_ context.Context, albumID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.albums[albumID]
	if !ok {
		return notFound("album", albumID)
	}
	for _, id := range ids {
		if !slices.Contains(a.Images, id) {
			a.Images = append(a.Images, id)
		}
	}
	return nil
}

func (m *Catalog) AlbumImageIDsRecursive(_ context.Context, albumIDs []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tree := m.subtree(albumIDs)
	var ids []string
	for _, img := range m.sortedImages() {
		if slices.Contains(tree, img.AlbumID) {
			ids = append(ids, img.ID)
		}
	}
	return ids, nil
}

// Tags

// decrementTag lowers a live tag's count, tombstoning it at zero. Caller holds the lock.
func (m *Catalog) decrementTag(name string) {
	for i := range m.tags {
		t := &m.tags[i]
		if t.Name != name || t.Name == constants.NullTag {
			continue
		}
		t.Count = max(t.Count-1, 0)
		if t.Count == 0 {
			t.Name = constants.NullTag
		}
		return
	}
}

func (m *Catalog) incrementTag(name string, n int) {
	for i := range m.tags {
		if m.tags[i].Name == name {
			m.tags[i].Count += n
			return
		}
	}
	m.tagSeq++
	m.tags = append(m.tags, database.Tag{ID: m.tagSeq, Name: name, Count: n})
}

func (m *Catalog) AddTagsToImages(_ context.Context, tags, ids []string) error {
	if m.AddTagsError != nil {
		return m.AddTagsError
	}
	tags = database.NormalizeTags(tags)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called("AddTagsToImages")

	for _, tag := range tags {
		n := 0
		for _, id := range ids {
			img, ok := m.images[id]
			if !ok || slices.Contains(img.UserTags, tag) {
				continue
			}
			img.UserTags = append(img.UserTags, tag)
			img.AutoTags = slices.DeleteFunc(img.AutoTags, func(s string) bool { return s == tag })
			n++
		}
		if n > 0 {
			m.incrementTag(tag, n)
		}
	}
	return nil
}

func (m *Catalog) AddTagsToAlbums(ctx context.Context, tags, albumIDs []string) error {
	ids, err := m.AlbumImageIDsRecursive(ctx, albumIDs)
	if err != nil {
		return err
	}
	return m.AddTagsToImages(ctx, tags, ids)
}

func (m *Catalog) RemoveTagsFromImage(_ context.Context, id string, tags []string) error {
	if m.RemoveTagsError != nil {
		return m.RemoveTagsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return notFound("image", id)
	}
	for _, tag := range database.NormalizeTags(tags) {
		if !slices.Contains(img.UserTags, tag) {
			continue
		}
		img.UserTags = slices.DeleteFunc(img.UserTags, func(s string) bool { return s == tag })
		m.decrementTag(tag)
	}
	return nil
}

func (m *Catalog) UniqueTags(_ context.Context) ([]string, error) {
	if m.UniqueTagsError != nil {
		return nil, m.UniqueTagsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.tags))
	for i, t := range m.tags {
		names[i] = t.Name
	}
	return names, nil
}

func (m *Catalog) ListTags(_ context.Context) ([]database.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.Tag
	for _, t := range m.tags {
		if t.Name != constants.NullTag {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SeedTags appends vocabulary rows directly, for test setup.
func (m *Catalog) SeedTags(tags ...database.Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tags {
		m.tagSeq++
		t.ID = m.tagSeq
		m.tags = append(m.tags, t)
	}
}

// Faces

func (m *Catalog) InsertFaceEmbeddings(_ context.Context, embeddings [][]float32) error {
	if m.InsertFacesError != nil {
		return m.InsertFacesError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range embeddings {
		m.faceSeq++
		m.faces = append(m.faces, database.FaceEmbedding{ID: m.faceSeq, Embedding: slices.Clone(e)})
	}
	return nil
}

func (m *Catalog) ListFaceEmbeddings(_ context.Context) ([]database.FaceEmbedding, error) {
	if m.ListFaceEmbeddingsError != nil {
		return nil, m.ListFaceEmbeddingsError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.FaceEmbedding, len(m.faces))
	for i, f := range m.faces {
		out[i] = database.FaceEmbedding{ID: f.ID, Embedding: slices.Clone(f.Embedding), Group: f.Group}
	}
	return out, nil
}

func (m *Catalog) SetFaceGroups(_ context.Context, groups map[int64]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.faces {
		if g, ok := groups[m.faces[i].ID]; ok {
			m.faces[i].Group = g
		}
	}
	return nil
}

func (m *Catalog) DeleteFaceEmbeddingsNear(_ context.Context, embeddings [][]float32, radius float64) (int, error) {
	if m.DeleteFacesError != nil {
		return 0, m.DeleteFacesError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.faces)
	m.faces = slices.DeleteFunc(m.faces, func(f database.FaceEmbedding) bool {
		for _, e := range embeddings {
			if database.EuclideanDistance(f.Embedding, e) <= radius {
				return true
			}
		}
		return false
	})
	return before - len(m.faces), nil
}

func (m *Catalog) AddNames(_ context.Context, id string, index int, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return "", notFound("image", id)
	}
	if index < 0 || index >= len(img.UserFaces) {
		return "", fmt.Errorf("image %s slot %d: %w", id, index, database.ErrInvalidIndex)
	}

	old := img.UserFaces[index]
	img.UserFaces[index] = name
	if old == constants.AnonFace {
		img.UnknownFaces++
	} else if index < len(img.BacklogFaces) {
		img.BacklogFaces[index] = name
	}
	return old, nil
}

func (m *Catalog) UpdateNames(_ context.Context, old, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, img := range m.images {
		i := slices.Index(img.UserFaces, old)
		if i < 0 {
			continue
		}
		img.UserFaces[i] = name
		if i < len(img.BacklogFaces) {
			img.BacklogFaces[i] = name
		}
		n++
	}
	return n, nil
}

func (m *Catalog) AdvanceBacklog(_ context.Context, id string, index int, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return notFound("image", id)
	}
	if index < 0 || index >= len(img.BacklogFaces) {
		return database.ErrInvalidIndex
	}
	img.BacklogFaces[index] = name
	img.UnknownFaces = max(img.UnknownFaces-1, 0)
	return nil
}

// Users

func (m *Catalog) CreateUser(_ context.Context, u *database.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Username]; ok {
		return fmt.Errorf("user %s: %w", u.Username, database.ErrConflict)
	}
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("email %s: %w", u.Email, database.ErrConflict)
		}
	}
	u.CreatedAt = m.Now()
	stored := *u
	stored.Liked = slices.Clone(u.Liked)
	m.users[u.Username] = &stored
	return nil
}

func (m *Catalog) GetUser(_ context.Context, username string) (*database.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, notFound("user", username)
	}
	c := *u
	c.Liked = slices.Clone(u.Liked)
	return &c, nil
}

func (m *Catalog) SetUserVerified(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return notFound("user", username)
	}
	u.Verified = true
	return nil
}

// ErrInjected is a convenience error for failure-path tests.
var ErrInjected = errors.New("injected failure")
