// Package library runs the cleanup that follows removing images or albums
// from the catalog.
package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/kozaktomas/pixpursuit/internal/storage"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/rs/zerolog"
)

// Result summarises a deletion. Partial is set when the catalog records were
// removed but some cleanup step failed.
type Result struct {
	Deleted int  `json:"deleted"`
	Partial bool `json:"partial"`
}

// Library deletes images and albums together with their stored objects and
// face rows.
type Library struct {
	catalog    database.Catalog
	store      storage.ObjectStore
	dispatcher tasks.Dispatcher
	index      *database.FeatureIndex
	log        zerolog.Logger
}

// New creates a Library. index may be nil when no similarity index is kept.
func New(catalog database.Catalog, store storage.ObjectStore, dispatcher tasks.Dispatcher, index *database.FeatureIndex) *Library {
	return &Library{
		catalog:    catalog,
		store:      store,
		dispatcher: dispatcher,
		index:      index,
		log:        logging.Component("library"),
	}
}

// DeleteImages removes images from the catalog, then their objects and face
// rows. An error is returned only when nothing could be removed.
func (l *Library) DeleteImages(ctx context.Context, ids []string) (Result, error) {
	deleted, err := l.catalog.DeleteImages(ctx, ids)
	return l.finish(ctx, "images", deleted, err)
}

// DeleteAlbums removes the albums, their descendants and every image they
// contain. The root album cannot be deleted.
func (l *Library) DeleteAlbums(ctx context.Context, albumIDs []string) (Result, error) {
	deleted, err := l.catalog.DeleteAlbums(ctx, albumIDs, true)
	if errors.Is(err, database.ErrRootAlbum) {
		return Result{}, err
	}
	return l.finish(ctx, "albums", deleted, err)
}

func (l *Library) finish(ctx context.Context, what string, deleted []database.DeletedImage, catalogErr error) (Result, error) {
	if catalogErr != nil && len(deleted) == 0 {
		return Result{}, fmt.Errorf("delete %s: %w", what, catalogErr)
	}

	res := Result{Deleted: len(deleted), Partial: catalogErr != nil}
	if catalogErr != nil {
		l.log.Error().Err(catalogErr).Str("target", what).Msg("catalog deletion incomplete")
	}
	if !l.cascade(ctx, deleted) {
		res.Partial = true
	}
	l.log.Info().Str("target", what).Int("images", res.Deleted).Bool("partial", res.Partial).Msg("deleted")
	return res, nil
}

// cascade removes the objects and face rows of deleted images. Each step runs
// regardless of earlier failures; it reports whether all of them succeeded.
func (l *Library) cascade(ctx context.Context, deleted []database.DeletedImage) bool {
	ok := true
	var embeddings [][]float32
	for _, img := range deleted {
		if l.index != nil {
			l.index.Remove(img.ID)
		}
		for _, key := range []string{img.Filename, storage.ThumbnailKey(img.Filename)} {
			if err := l.store.Delete(ctx, key); err != nil {
				l.log.Error().Err(err).Str("key", key).Msg("failed to delete object")
				ok = false
			}
		}
		embeddings = append(embeddings, img.Embeddings...)
	}

	if len(embeddings) > 0 {
		payload := tasks.DeleteFacesPayload{Embeddings: embeddings}
		if err := l.dispatcher.Enqueue(ctx, tasks.DeleteFacesForImages, payload); err != nil {
			l.log.Error().Err(err).Int("faces", len(embeddings)).Msg("failed to enqueue face cleanup")
			ok = false
		}
	}
	return ok
}
