// Package sources turns zip archives, gallery pages and SharePoint folders
// into ingestable images.
package sources

import (
	"context"
	"path"
	"strings"

	"github.com/kozaktomas/pixpursuit/internal/imaging"
	"github.com/kozaktomas/pixpursuit/internal/ingest"
)

// Ingester stores a batch of images. *ingest.Pipeline implements it.
type Ingester interface {
	IngestBatch(ctx context.Context, sources []ingest.Source, user, albumID string, size *imaging.Size) ([]string, error)
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tif": true, ".tiff": true,
}

// isImageName reports whether name carries a supported image extension.
func isImageName(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}
