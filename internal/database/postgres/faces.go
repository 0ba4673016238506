package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// vectorLiterals renders embeddings as pgvector text literals so a batch can be
// passed as one text[] parameter.
func vectorLiterals(embeddings [][]float32) []string {
	out := make([]string, len(embeddings))
	for i, e := range embeddings {
		out[i] = pgvector.NewVector(e).String()
	}
	return out
}

func (c *Catalog) InsertFaceEmbeddings(ctx context.Context, embeddings [][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	return database.Retry(ctx, "insert_face_embeddings", func() error {
		_, err := c.pool.Exec(ctx, `
			INSERT INTO face_embeddings (face_emb, face_group)
			SELECT v::vector, '' FROM unnest($1::text[]) WITH ORDINALITY AS u(v, n) ORDER BY n`,
			pq.Array(vectorLiterals(embeddings)))
		return err
	})
}

func (c *Catalog) ListFaceEmbeddings(ctx context.Context) ([]database.FaceEmbedding, error) {
	return database.RetryValue(ctx, "list_face_embeddings", func() ([]database.FaceEmbedding, error) {
		rows, err := c.pool.Query(ctx, "SELECT id, face_emb, face_group FROM face_embeddings ORDER BY id")
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []database.FaceEmbedding
		for rows.Next() {
			var (
				f   database.FaceEmbedding
				vec pgvector.Vector
			)
			if err := rows.Scan(&f.ID, &vec, &f.Group); err != nil {
				return nil, fmt.Errorf("scan face embedding: %w", err)
			}
			f.Embedding = vec.Slice()
			out = append(out, f)
		}
		return out, rows.Err()
	})
}

func (c *Catalog) SetFaceGroups(ctx context.Context, groups map[int64]string) error {
	if len(groups) == 0 {
		return nil
	}
	ids := make(pq.Int64Array, 0, len(groups))
	names := make([]string, 0, len(groups))
	for id, g := range groups {
		ids = append(ids, id)
		names = append(names, g)
	}

	return database.Retry(ctx, "set_face_groups", func() error {
		_, err := c.pool.Exec(ctx, `
			UPDATE face_embeddings f SET face_group = g.name
			FROM unnest($1::bigint[], $2::text[]) AS g(id, name)
			WHERE f.id = g.id`, ids, pq.Array(names))
		return err
	})
}

// DeleteFaceEmbeddingsNear deletes every face row within radius (L2) of any
// of the embeddings. Face rows carry no image reference, so proximity is the join.
func (c *Catalog) DeleteFaceEmbeddingsNear(ctx context.Context, embeddings [][]float32, radius float64) (int, error) {
	if len(embeddings) == 0 {
		return 0, nil
	}
	return database.RetryValue(ctx, "delete_face_embeddings", func() (int, error) {
		res, err := c.pool.Exec(ctx, `
			DELETE FROM face_embeddings f
			USING unnest($1::text[]) AS q(v)
			WHERE f.face_emb <-> q.v::vector <= $2`,
			pq.Array(vectorLiterals(embeddings)), radius)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		return int(n), err
	})
}

// AddNames names face slot index of image id and returns the label it
// replaced. Naming a freshly detected face only bumps unknown_faces; renaming
// an existing label also advances the backlog slot.
func (c *Catalog) AddNames(ctx context.Context, id string, index int, name string) (string, error) {
	if index < 0 {
		return "", database.ErrInvalidIndex
	}

	return database.RetryValue(ctx, "add_names", func() (string, error) {
		var old string
		err := c.pool.QueryRow(ctx, `
			UPDATE images i SET
				user_faces[$2::int + 1] = $3::text,
				unknown_faces = i.unknown_faces + CASE WHEN o.old = $4::text THEN 1 ELSE 0 END,
				backlog_faces[$2::int + 1] = CASE WHEN o.old = $4::text THEN i.backlog_faces[$2::int + 1] ELSE $3::text END
			FROM (SELECT id, user_faces[$2::int + 1] AS old FROM images WHERE id = $1) o
			WHERE i.id = o.id AND o.old IS NOT NULL
			RETURNING o.old`, id, index, name, constants.AnonFace).Scan(&old)
		if err == nil {
			return old, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}

		ok, err := c.exists(ctx, "images", id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("image %s: %w", id, database.ErrNotFound)
		}
		return "", fmt.Errorf("image %s slot %d: %w", id, index, database.ErrInvalidIndex)
	})
}

// UpdateNames rewrites the first user_faces slot equal to old, and the
// backlog slot at the same position, in every image.
func (c *Catalog) UpdateNames(ctx context.Context, old, name string) (int, error) {
	return database.RetryValue(ctx, "update_names", func() (int, error) {
		res, err := c.pool.Exec(ctx, `
			UPDATE images SET
				user_faces[array_position(user_faces, $1::text)] = $2::text,
				backlog_faces[array_position(user_faces, $1::text)] = $2::text
			WHERE $1::text = ANY(user_faces)`, old, name)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		return int(n), err
	})
}

// AdvanceBacklog records that the rename at slot index has been propagated.
func (c *Catalog) AdvanceBacklog(ctx context.Context, id string, index int, name string) error {
	if index < 0 {
		return database.ErrInvalidIndex
	}
	return database.Retry(ctx, "advance_backlog", func() error {
		res, err := c.pool.Exec(ctx, `
			UPDATE images SET
				backlog_faces[$2::int + 1] = $3::text,
				unknown_faces = GREATEST(unknown_faces - 1, 0)
			WHERE id = $1`, id, index, name)
		if err != nil {
			return err
		}
		return requireRow(res, "image", id)
	})
}
