package sources

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/imaging"
	"github.com/kozaktomas/pixpursuit/internal/ingest"
	"github.com/kozaktomas/pixpursuit/internal/logging"
)

// ErrEmptyArchive is returned when a zip holds no image entries.
var ErrEmptyArchive = errors.New("archive contains no images")

// Folder is a directory of a zip archive. Path is "" for the archive root.
type Folder struct {
	Path    string
	Sources []ingest.Source
}

// ExtractZip reads the image entries of a zip archive grouped by folder.
// Directories, macOS resource forks and non-image files are skipped. Folders
// are returned parents first.
func ExtractZip(data []byte) ([]Folder, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	log := logging.Component("zip")
	byPath := make(map[string]*Folder)
	for _, f := range r.File {
		name := strings.TrimPrefix(path.Clean(strings.ReplaceAll(f.Name, "\\", "/")), "/")
		if f.FileInfo().IsDir() || skipEntry(name) {
			continue
		}
		if f.UncompressedSize64 > constants.MaxRemoteImageSize {
			log.Warn().Str("entry", name).Uint64("size", f.UncompressedSize64).Msg("skipping oversized entry")
			continue
		}

		content, err := readEntry(f)
		if err != nil {
			log.Warn().Err(err).Str("entry", name).Msg("skipping unreadable entry")
			continue
		}

		dir := parentDir(name)
		folder, ok := byPath[dir]
		if !ok {
			folder = &Folder{Path: dir}
			byPath[dir] = folder
		}
		folder.Sources = append(folder.Sources, ingest.Source{Name: name, Data: content})
	}

	if len(byPath) == 0 {
		return nil, ErrEmptyArchive
	}

	// Intermediate folders without images still need an album.
	for dir := range byPath {
		for p := parentDir(dir); p != ""; p = parentDir(p) {
			if _, ok := byPath[p]; !ok {
				byPath[p] = &Folder{Path: p}
			}
		}
	}

	folders := make([]Folder, 0, len(byPath))
	for _, f := range byPath {
		folders = append(folders, *f)
	}
	sort.Slice(folders, func(i, j int) bool {
		di, dj := depth(folders[i].Path), depth(folders[j].Path)
		if di != dj {
			return di < dj
		}
		return folders[i].Path < folders[j].Path
	})
	return folders, nil
}

func skipEntry(name string) bool {
	if name == "." || strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	base := path.Base(name)
	return strings.HasPrefix(base, ".") || !isImageName(base)
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, constants.MaxRemoteImageSize))
}

// parentDir is path.Dir with "" for top-level entries.
func parentDir(p string) string {
	d := path.Dir(p)
	if d == "." || d == "/" {
		return ""
	}
	return d
}

func depth(p string) int {
	if p == "" {
		return 0
	}
	return strings.Count(p, "/") + 1
}

// ZipImporter mirrors a zip archive's folder tree as albums and ingests the
// images into them.
type ZipImporter struct {
	albums   database.AlbumWriter
	ingester Ingester
}

func NewZipImporter(albums database.AlbumWriter, ingester Ingester) *ZipImporter {
	return &ZipImporter{albums: albums, ingester: ingester}
}

// Import ingests the archive under parentID (root when empty). Each nested
// folder becomes a child album named after the folder. It returns the ids of
// the created images.
func (z *ZipImporter) Import(ctx context.Context, data []byte, user, parentID string, size *imaging.Size) ([]string, error) {
	folders, err := ExtractZip(data)
	if err != nil {
		return nil, err
	}
	if parentID != "" {
		if _, err := z.albums.GetAlbum(ctx, parentID); err != nil {
			return nil, err
		}
	}

	albumFor := map[string]string{"": parentID}
	ids := []string{}
	for _, folder := range folders {
		if folder.Path != "" {
			album, err := z.albums.CreateAlbum(ctx, path.Base(folder.Path), albumFor[parentDir(folder.Path)])
			if err != nil {
				return ids, fmt.Errorf("create album for %s: %w", folder.Path, err)
			}
			albumFor[folder.Path] = album.ID
		}
		if len(folder.Sources) == 0 {
			continue
		}

		created, err := z.ingester.IngestBatch(ctx, folder.Sources, user, albumFor[folder.Path], size)
		if err != nil {
			return ids, fmt.Errorf("ingest %q: %w", folder.Path, err)
		}
		ids = append(ids, created...)
	}
	return ids, nil
}
