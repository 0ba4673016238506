package library

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/database/mock"
	"github.com/kozaktomas/pixpursuit/internal/storage"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
)

type fixture struct {
	lib     *Library
	catalog *mock.Catalog
	store   *storage.MemoryStore
	rec     *tasks.Recorder
	index   *database.FeatureIndex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		catalog: mock.NewCatalog(),
		store:   storage.NewMemoryStore("https://cdn"),
		rec:     &tasks.Recorder{},
		index:   database.NewFeatureIndex(),
	}
	f.lib = New(f.catalog, f.store, f.rec, f.index)
	return f
}

// addImage creates an image with stored objects, one face and one user tag.
func (f *fixture) addImage(t *testing.T, albumID, filename string, face float32) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.catalog.CreateImage(ctx, &database.Image{Filename: filename, AlbumID: albumID})
	if err != nil {
		t.Fatal(err)
	}
	emb := []float32{face, 0, 0}
	img := f.catalog.Image(id)
	img.Embeddings = [][]float32{emb}
	img.Features = []float32{face, 1, 0}
	f.catalog.PutImage(*img)
	if err := f.catalog.AddTagsToImages(ctx, []string{"beach"}, []string{id}); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{filename, storage.ThumbnailKey(filename)} {
		if _, err := f.store.Put(ctx, key, []byte("x"), "image/jpeg"); err != nil {
			t.Fatal(err)
		}
	}
	f.index.Add(id, img.Features)
	return id
}

func TestDeleteImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.addImage(t, "", "a.jpg", 1)
	b := f.addImage(t, "", "b.jpg", 2)
	if err := f.catalog.AddLike(ctx, true, "alice", a); err != nil {
		t.Fatal(err)
	}

	res, err := f.lib.DeleteImages(ctx, []string{a})
	if err != nil {
		t.Fatalf("DeleteImages: %v", err)
	}
	if res.Deleted != 1 || res.Partial {
		t.Errorf("unexpected result %+v", res)
	}

	if f.catalog.Image(a) != nil {
		t.Error("image still in catalog")
	}
	root, _ := f.catalog.EnsureRoot(ctx)
	if !slices.Equal(root.Images, []string{b}) {
		t.Errorf("root images = %v", root.Images)
	}
	if keys := f.store.Keys(); !slices.Equal(keys, []string{"b.jpg", "thumbnailb.jpg"}) {
		t.Errorf("remaining objects = %v", keys)
	}
	if f.index.Count() != 1 {
		t.Errorf("index should hold 1 image, got %d", f.index.Count())
	}

	tags := f.catalog.Tags()
	if len(tags) != 1 || tags[0].Count != 1 {
		t.Errorf("tag count not decremented: %+v", tags)
	}

	queued := f.rec.Tasks(tasks.DeleteFacesForImages)
	if len(queued) != 1 {
		t.Fatalf("expected one face cleanup task, got %d", len(queued))
	}
	var p tasks.DeleteFacesPayload
	if err := queued[0].Decode(&p); err != nil {
		t.Fatal(err)
	}
	if len(p.Embeddings) != 1 || p.Embeddings[0][0] != 1 {
		t.Errorf("unexpected embeddings %v", p.Embeddings)
	}
}

func TestDeleteImages_LastTagTombstoned(t *testing.T) {
	f := newFixture(t)
	a := f.addImage(t, "", "a.jpg", 1)

	if _, err := f.lib.DeleteImages(context.Background(), []string{a}); err != nil {
		t.Fatal(err)
	}
	tags := f.catalog.Tags()
	if len(tags) != 1 || tags[0].Name != "NULL" || tags[0].Count != 0 {
		t.Errorf("expected tombstone, got %+v", tags)
	}
}

func TestDeleteImages_Partial(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
	}{
		{"object store down", func(f *fixture) { f.store.DeleteError = errors.New("bucket unavailable") }},
		{"dispatcher down", func(f *fixture) { f.rec.Err = errors.New("redis unavailable") }},
		{"catalog incomplete", func(f *fixture) { f.catalog.DeleteImagesError = errors.New("timeout") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := f.addImage(t, "", "a.jpg", 1)
			tt.setup(f)

			res, err := f.lib.DeleteImages(context.Background(), []string{a})
			if err != nil {
				t.Fatalf("expected partial success, got %v", err)
			}
			if !res.Partial || res.Deleted != 1 {
				t.Errorf("unexpected result %+v", res)
			}
		})
	}
}

func TestDeleteImages_NothingDeleted(t *testing.T) {
	f := newFixture(t)
	f.catalog.DeleteImagesError = errors.New("connection refused")

	if _, err := f.lib.DeleteImages(context.Background(), []string{"missing"}); err == nil {
		t.Error("expected error when the catalog removed nothing")
	}
}

func TestDeleteAlbums(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parent, err := f.catalog.CreateAlbum(ctx, "trips", "")
	if err != nil {
		t.Fatal(err)
	}
	child, err := f.catalog.CreateAlbum(ctx, "alps", parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	f.addImage(t, parent.ID, "p.jpg", 1)
	f.addImage(t, child.ID, "c.jpg", 2)
	keep := f.addImage(t, "", "r.jpg", 3)

	res, err := f.lib.DeleteAlbums(ctx, []string{parent.ID})
	if err != nil {
		t.Fatalf("DeleteAlbums: %v", err)
	}
	if res.Deleted != 2 || res.Partial {
		t.Errorf("unexpected result %+v", res)
	}

	for _, id := range []string{parent.ID, child.ID} {
		if _, err := f.catalog.GetAlbum(ctx, id); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("album %s should be gone, got %v", id, err)
		}
	}
	root, _ := f.catalog.EnsureRoot(ctx)
	if len(root.Sons) != 0 {
		t.Errorf("root still lists %v", root.Sons)
	}
	if !slices.Equal(root.Images, []string{keep}) {
		t.Errorf("root images = %v", root.Images)
	}
	if len(f.store.Keys()) != 2 {
		t.Errorf("remaining objects = %v", f.store.Keys())
	}

	var p tasks.DeleteFacesPayload
	if err := f.rec.Tasks(tasks.DeleteFacesForImages)[0].Decode(&p); err != nil {
		t.Fatal(err)
	}
	if len(p.Embeddings) != 2 {
		t.Errorf("expected 2 embeddings, got %d", len(p.Embeddings))
	}
}

func TestDeleteAlbums_Root(t *testing.T) {
	f := newFixture(t)
	root, _ := f.catalog.EnsureRoot(context.Background())

	_, err := f.lib.DeleteAlbums(context.Background(), []string{root.ID})
	if !errors.Is(err, database.ErrRootAlbum) {
		t.Errorf("expected ErrRootAlbum, got %v", err)
	}
}

func TestDeleteImages_NoFaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.catalog.CreateImage(ctx, &database.Image{Filename: "plain.png"})

	if _, err := f.lib.DeleteImages(ctx, []string{id}); err != nil {
		t.Fatal(err)
	}
	if n := len(f.rec.Tasks("")); n != 0 {
		t.Errorf("no face cleanup expected, got %d tasks", n)
	}
}
