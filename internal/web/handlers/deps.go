package handlers

import (
	"context"

	"github.com/kozaktomas/pixpursuit/internal/imaging"
	"github.com/kozaktomas/pixpursuit/internal/ingest"
	"github.com/kozaktomas/pixpursuit/internal/library"
)

// Deleter removes images and albums with their stored objects.
type Deleter interface {
	DeleteImages(ctx context.Context, ids []string) (library.Result, error)
	DeleteAlbums(ctx context.Context, albumIDs []string) (library.Result, error)
}

// Trainer queues predictor training for images a user just edited.
type Trainer interface {
	TrainingInit(ctx context.Context, ids []string) error
	TrainInitAlbums(ctx context.Context, albumIDs []string) error
}

// FaceNamer names a detected face.
type FaceNamer interface {
	AddNames(ctx context.Context, id string, index int, name string) error
}

// Scraper downloads the images of a gallery page.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) ([]ingest.Source, error)
}

// ZipImporter ingests a zip archive as an album tree.
type ZipImporter interface {
	Import(ctx context.Context, data []byte, user, parentID string, size *imaging.Size) ([]string, error)
}
