// Package ingest turns uploaded bytes into catalog images and runs the
// per-image analysis on workers.
package ingest

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/imaging"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/kozaktomas/pixpursuit/internal/metrics"
	"github.com/kozaktomas/pixpursuit/internal/storage"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/rs/zerolog"
)

// filenameTimeFormat is the UTC timestamp prefix of stored filenames.
const filenameTimeFormat = "20060102150405"

// Source is one image to ingest.
type Source struct {
	Name string // original name, for logs only
	Data []byte
}

// Pipeline stores uploads and queues their analysis.
type Pipeline struct {
	catalog    database.Catalog
	store      storage.ObjectStore
	dispatcher tasks.Dispatcher
	exifKeys   []string
	now        func() time.Time
	log        zerolog.Logger
}

func NewPipeline(catalog database.Catalog, store storage.ObjectStore, dispatcher tasks.Dispatcher, exifKeys []string) *Pipeline {
	return &Pipeline{
		catalog:    catalog,
		store:      store,
		dispatcher: dispatcher,
		exifKeys:   exifKeys,
		now:        time.Now,
		log:        logging.Component("ingest"),
	}
}

// IngestBatch creates one image per decodable source in albumID (root when
// empty) and returns the new ids. When size is set, larger images are
// scaled down to fit before upload. A failing image is logged and skipped.
func (p *Pipeline) IngestBatch(ctx context.Context, sources []Source, user, albumID string, size *imaging.Size) ([]string, error) {
	if albumID != "" {
		if _, err := p.catalog.GetAlbum(ctx, albumID); err != nil {
			return nil, err
		}
	}

	ids := []string{}
	for _, src := range sources {
		id, err := p.ingestOne(ctx, src, user, albumID, size)
		if err != nil {
			metrics.ImagesIngested.WithLabelValues("skipped").Inc()
			p.log.Warn().Err(err).Str("source", src.Name).Msg("skipping image")
			continue
		}
		metrics.ImagesIngested.WithLabelValues("created").Inc()
		ids = append(ids, id)
	}

	if len(ids) > 0 {
		if err := p.dispatcher.Enqueue(ctx, tasks.PredictAndUpdateTags, tasks.PredictPayload{IDs: ids}); err != nil {
			p.log.Error().Err(err).Int("images", len(ids)).Msg("failed to enqueue tag prediction")
		}
	}
	p.log.Info().Int("sources", len(sources)).Int("created", len(ids)).Str("user", user).Msg("batch ingested")
	return ids, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, src Source, user, albumID string, size *imaging.Size) (string, error) {
	img, format, err := imaging.Decode(src.Data)
	if err != nil {
		return "", err
	}

	contentType, ext := imaging.ContentType(format)
	resized := false
	if size != nil {
		fitted := imaging.Fit(img, size.Width, size.Height)
		resized = fitted.Bounds() != img.Bounds()
		img = fitted
	}
	data := src.Data
	if format != "jpeg" || resized {
		if data, err = imaging.Encode(img, format); err != nil {
			return "", err
		}
	}

	filename := p.newFilename(ext)
	imageURL, err := p.store.Put(ctx, filename, data, contentType)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	thumbURL, err := p.uploadThumbnail(ctx, img, format, filename, contentType)
	if err != nil {
		return "", err
	}

	record := &database.Image{
		Filename:     filename,
		ImageURL:     imageURL,
		ThumbnailURL: thumbURL,
		Metadata:     imaging.ExtractEXIF(src.Data, p.exifKeys),
		AddedBy:      user,
		AlbumID:      albumID,
	}
	id, err := p.catalog.CreateImage(ctx, record)
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}

	payload := tasks.ExtractDataPayload{Data: data, Filename: filename}
	if err := p.dispatcher.Enqueue(ctx, tasks.ExtractData, payload); err != nil {
		p.log.Error().Err(err).Str("image", id).Msg("failed to enqueue analysis")
	}
	return id, nil
}

func (p *Pipeline) uploadThumbnail(ctx context.Context, img image.Image, format, filename, contentType string) (string, error) {
	thumb, err := imaging.Encode(imaging.Thumbnail(img), format)
	if err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	url, err := p.store.Put(ctx, storage.ThumbnailKey(filename), thumb, contentType)
	if err != nil {
		return "", fmt.Errorf("upload thumbnail: %w", err)
	}
	return url, nil
}

// newFilename returns "<UTC yyyymmddHHMMSS>_<6 hex>.<ext>".
func (p *Pipeline) newFilename(ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s_%s.%s", p.now().UTC().Format(filenameTimeFormat), suffix, ext)
}
