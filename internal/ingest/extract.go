package ingest

import (
	"context"
	"fmt"
	"image"
	"slices"

	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/embedding"
	"github.com/kozaktomas/pixpursuit/internal/imaging"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/rs/zerolog"
)

// Analyzer runs the models over a raster.
type Analyzer interface {
	DetectFaces(ctx context.Context, img image.Image) (*embedding.Faces, error)
	ExtractFeatures(ctx context.Context, img image.Image) ([]float32, error)
}

// Extractor is the worker side of extract_data: it fills in the analysis
// fields of an image created by the pipeline.
type Extractor struct {
	catalog  database.Catalog
	analyzer Analyzer
	log      zerolog.Logger
}

func NewExtractor(catalog database.Catalog, analyzer Analyzer) *Extractor {
	return &Extractor{catalog: catalog, analyzer: analyzer, log: logging.Component("extract")}
}

// ExtractData detects faces and features in data and writes them to the
// image stored under filename. Face rows for clustering are inserted last.
func (e *Extractor) ExtractData(ctx context.Context, data []byte, filename string) error {
	img, _, err := imaging.Decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	rgb := imaging.ToRGB(img)

	faces, err := e.analyzer.DetectFaces(ctx, rgb)
	if err != nil {
		return fmt.Errorf("detect faces in %s: %w", filename, err)
	}
	features, err := e.analyzer.ExtractFeatures(ctx, rgb)
	if err != nil {
		return fmt.Errorf("extract features of %s: %w", filename, err)
	}

	fields := []struct {
		field database.ImageField
		value any
	}{
		{database.FieldEmbeddings, faces.Embeddings},
		{database.FieldEmbeddingsBox, faces.Boxes},
		{database.FieldUserFaces, faces.UserFaces},
		{database.FieldBacklogFaces, slices.Clone(faces.UserFaces)},
		{database.FieldFeatures, features},
	}
	for _, f := range fields {
		if err := e.catalog.SetFieldByFilename(ctx, f.field, f.value, filename); err != nil {
			return fmt.Errorf("set %s of %s: %w", f.field, filename, err)
		}
	}

	if err := e.catalog.InsertFaceEmbeddings(ctx, faces.Embeddings); err != nil {
		return fmt.Errorf("insert face embeddings of %s: %w", filename, err)
	}

	e.log.Info().Str("filename", filename).Int("faces", len(faces.Embeddings)).Msg("image analysed")
	return nil
}

// Handlers returns the extract_data handler.
func (e *Extractor) Handlers() tasks.Handlers {
	return tasks.Handlers{
		tasks.ExtractData: tasks.Typed(func(ctx context.Context, p tasks.ExtractDataPayload) error {
			return e.ExtractData(ctx, p.Data, p.Filename)
		}),
	}
}
