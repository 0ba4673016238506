package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// Catalog implements database.Catalog on PostgreSQL. Every exported method
// runs through database.Retry.
type Catalog struct {
	pool *Pool
}

var _ database.Catalog = (*Catalog)(nil)

// NewCatalog creates a catalog backed by pool.
func NewCatalog(pool *Pool) *Catalog {
	return &Catalog{pool: pool}
}

const imageColumns = `id, filename, image_url, thumbnail_url, metadata, features, embeddings, embeddings_box,
	user_faces, auto_faces, backlog_faces, unknown_faces, user_tags, auto_tags, feedback, feedback_history,
	description, likes, liked_by, views, added_by, album_id, album_name, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanImage(row rowScanner) (*database.Image, error) {
	var (
		img                                        database.Image
		metadata, embeddings, boxes, fb, fbHistory []byte
		features                                   sql.Null[pgvector.Vector]
		autoFaces                                  pq.Int64Array
	)

	err := row.Scan(
		&img.ID, &img.Filename, &img.ImageURL, &img.ThumbnailURL, &metadata, &features, &embeddings, &boxes,
		pq.Array(&img.UserFaces), &autoFaces, pq.Array(&img.BacklogFaces), &img.UnknownFaces,
		pq.Array(&img.UserTags), pq.Array(&img.AutoTags), &fb, &fbHistory,
		&img.Description, &img.Likes, pq.Array(&img.LikedBy), &img.Views, &img.AddedBy, &img.AlbumID, &img.AlbumName,
		&img.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if features.Valid {
		img.Features = features.V.Slice()
	}
	img.AutoFaces = make([]int, len(autoFaces))
	for i, v := range autoFaces {
		img.AutoFaces[i] = int(v)
	}

	for _, field := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"metadata", metadata, &img.Metadata},
		{"embeddings", embeddings, &img.Embeddings},
		{"embeddings_box", boxes, &img.EmbeddingsBox},
		{"feedback", fb, &img.Feedback},
		{"feedback_history", fbHistory, &img.FeedbackHistory},
	} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", field.name, err)
		}
	}
	return &img, nil
}

func scanImages(rows *sql.Rows) ([]database.Image, error) {
	defer rows.Close()

	var images []database.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}
	return images, nil
}

func scanAlbum(row rowScanner) (*database.Album, error) {
	var a database.Album
	var parent sql.NullString
	if err := row.Scan(&a.ID, &a.Name, &parent, pq.Array(&a.Sons), pq.Array(&a.Images), &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Parent = parent.String
	return &a, nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, database.ErrNotFound)
	}
	return fmt.Errorf("get %s %s: %w", kind, id, err)
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// requireRow turns a zero-row update into ErrNotFound.
func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, database.ErrNotFound)
	}
	return nil
}

func (c *Catalog) exists(ctx context.Context, table, id string) (bool, error) {
	var ok bool
	err := c.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check %s exists: %w", table, err)
	}
	return ok, nil
}
