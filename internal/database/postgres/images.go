package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
)

func (c *Catalog) GetImage(ctx context.Context, id string) (*database.Image, error) {
	return database.RetryValue(ctx, "get_image", func() (*database.Image, error) {
		row := c.pool.QueryRow(ctx, "SELECT "+imageColumns+" FROM images WHERE id = $1", id)
		img, err := scanImage(row)
		if err != nil {
			return nil, notFound("image", id, err)
		}
		return img, nil
	})
}

func (c *Catalog) GetImageByFilename(ctx context.Context, filename string) (*database.Image, error) {
	return database.RetryValue(ctx, "get_image_by_filename", func() (*database.Image, error) {
		row := c.pool.QueryRow(ctx, "SELECT "+imageColumns+" FROM images WHERE filename = $1", filename)
		img, err := scanImage(row)
		if err != nil {
			return nil, notFound("image with filename", filename, err)
		}
		return img, nil
	})
}

func (c *Catalog) GetImages(ctx context.Context, ids []string) ([]database.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return database.RetryValue(ctx, "get_images", func() ([]database.Image, error) {
		rows, err := c.pool.Query(ctx, "SELECT "+imageColumns+" FROM images WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
		if err != nil {
			return nil, err
		}
		return scanImages(rows)
	})
}

func (c *Catalog) ListImageIDs(ctx context.Context, after string, limit int) ([]string, error) {
	return database.RetryValue(ctx, "list_image_ids", func() ([]string, error) {
		return c.queryIDs(ctx, "SELECT id FROM images WHERE id > $1 ORDER BY id LIMIT $2", after, limit)
	})
}

func (c *Catalog) ImagesWithUnknownFaces(ctx context.Context) ([]database.Image, error) {
	return database.RetryValue(ctx, "images_with_unknown_faces", func() ([]database.Image, error) {
		rows, err := c.pool.Query(ctx, "SELECT "+imageColumns+" FROM images WHERE unknown_faces > 0 ORDER BY id")
		if err != nil {
			return nil, err
		}
		return scanImages(rows)
	})
}

func (c *Catalog) ImagesWithEmbeddings(ctx context.Context) ([]database.Image, error) {
	return database.RetryValue(ctx, "images_with_embeddings", func() ([]database.Image, error) {
		rows, err := c.pool.Query(ctx,
			"SELECT "+imageColumns+" FROM images WHERE jsonb_array_length(embeddings) > 0 ORDER BY id")
		if err != nil {
			return nil, err
		}
		return scanImages(rows)
	})
}

func (c *Catalog) ListFeatures(ctx context.Context, after string, limit int) ([]database.ImageFeatures, error) {
	return database.RetryValue(ctx, "list_features", func() ([]database.ImageFeatures, error) {
		rows, err := c.pool.Query(ctx, `
			SELECT id, features FROM images
			WHERE features IS NOT NULL AND id > $1
			ORDER BY id LIMIT $2`, after, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []database.ImageFeatures
		for rows.Next() {
			var (
				id  string
				vec pgvector.Vector
			)
			if err := rows.Scan(&id, &vec); err != nil {
				return nil, fmt.Errorf("scan features: %w", err)
			}
			out = append(out, database.ImageFeatures{ID: id, Features: vec.Slice()})
		}
		return out, rows.Err()
	})
}

func (c *Catalog) FindSimilarImages(ctx context.Context, features []float32, limit int) ([]database.ImageFeatures, []float64, error) {
	type result struct {
		rows  []database.ImageFeatures
		dists []float64
	}
	res, err := database.RetryValue(ctx, "find_similar_images", func() (result, error) {
		rows, err := c.pool.Query(ctx, `
			SELECT id, features, features <=> $1 AS distance
			FROM images
			WHERE features IS NOT NULL
			ORDER BY features <=> $1
			LIMIT $2`, pgvector.NewVector(features), limit)
		if err != nil {
			return result{}, err
		}
		defer rows.Close()

		var r result
		for rows.Next() {
			var (
				id   string
				vec  pgvector.Vector
				dist float64
			)
			if err := rows.Scan(&id, &vec, &dist); err != nil {
				return result{}, fmt.Errorf("scan similar image: %w", err)
			}
			r.rows = append(r.rows, database.ImageFeatures{ID: id, Features: vec.Slice()})
			r.dists = append(r.dists, dist)
		}
		return r, rows.Err()
	})
	return res.rows, res.dists, err
}

// CreateImage inserts the record with empty analysis fields and appends it to
// its album. An empty AlbumID means the root album.
func (c *Catalog) CreateImage(ctx context.Context, img *database.Image) (string, error) {
	album, err := c.resolveAlbum(ctx, img.AlbumID)
	if err != nil {
		return "", err
	}

	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	img.AlbumID = album.ID
	img.AlbumName = album.Name

	metadata := img.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}

	err = database.Retry(ctx, "create_image", func() error {
		_, err := c.pool.Exec(ctx, `
			INSERT INTO images (id, filename, image_url, thumbnail_url, metadata, added_by, album_id, album_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			img.ID, img.Filename, img.ImageURL, img.ThumbnailURL, metaJSON, img.AddedBy, album.ID, album.Name)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert image: %w", err)
	}

	if err := c.AddPhotosToAlbum(ctx, album.ID, []string{img.ID}); err != nil {
		return img.ID, fmt.Errorf("append image to album: %w", err)
	}
	return img.ID, nil
}

// SetFieldByFilename writes a late-arriving analysis result.
func (c *Catalog) SetFieldByFilename(ctx context.Context, field database.ImageField, value any, filename string) error {
	if !field.Valid() {
		return fmt.Errorf("%s: %w", field, database.ErrInvalidField)
	}

	arg, err := fieldArg(field, value)
	if err != nil {
		return err
	}

	return database.Retry(ctx, "set_field_by_filename", func() error {
		// field is from the closed ImageField set, so the column name is safe to splice
		res, err := c.pool.Exec(ctx, "UPDATE images SET "+string(field)+" = $1 WHERE filename = $2", arg, filename)
		if err != nil {
			return err
		}
		return requireRow(res, "image with filename", filename)
	})
}

func fieldArg(field database.ImageField, value any) (any, error) {
	mismatch := fmt.Errorf("%s: unexpected value type %T: %w", field, value, database.ErrInvalidField)

	switch field {
	case database.FieldFeatures:
		v, ok := value.([]float32)
		if !ok {
			return nil, mismatch
		}
		return pgvector.NewVector(v), nil
	case database.FieldEmbeddings:
		v, ok := value.([][]float32)
		if !ok {
			return nil, mismatch
		}
		if v == nil {
			v = [][]float32{}
		}
		return json.Marshal(v)
	case database.FieldEmbeddingsBox:
		v, ok := value.([]database.Box)
		if !ok {
			return nil, mismatch
		}
		if v == nil {
			v = []database.Box{}
		}
		return json.Marshal(v)
	case database.FieldUserFaces, database.FieldBacklogFaces:
		v, ok := value.([]string)
		if !ok {
			return nil, mismatch
		}
		if v == nil {
			v = []string{}
		}
		return pq.Array(v), nil
	case database.FieldAutoFaces:
		v, ok := value.([]int)
		if !ok {
			return nil, mismatch
		}
		return intArray(v), nil
	}
	return nil, mismatch
}

func intArray(v []int) pq.Int64Array {
	out := make(pq.Int64Array, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}

func (c *Catalog) SetDescription(ctx context.Context, id, description string) error {
	return database.Retry(ctx, "set_description", func() error {
		res, err := c.pool.Exec(ctx, "UPDATE images SET description = $1 WHERE id = $2", description, id)
		if err != nil {
			return err
		}
		return requireRow(res, "image", id)
	})
}

func (c *Catalog) AddView(ctx context.Context, id string) error {
	return database.Retry(ctx, "add_view", func() error {
		res, err := c.pool.Exec(ctx, "UPDATE images SET views = views + 1 WHERE id = $1", id)
		if err != nil {
			return err
		}
		return requireRow(res, "image", id)
	})
}

// AddLike likes or unlikes an image. Repeating the same action is a no-op and
// likes never drop below zero.
func (c *Catalog) AddLike(ctx context.Context, positive bool, user, id string) error {
	imageQuery := `
		UPDATE images SET likes = likes + 1, liked_by = array_append(liked_by, $1::text)
		WHERE id = $2 AND NOT ($1::text = ANY(liked_by))`
	userQuery := `
		UPDATE users SET liked = array_append(liked, $2::text)
		WHERE username = $1 AND NOT ($2::text = ANY(liked))`
	if !positive {
		imageQuery = `
			UPDATE images SET likes = GREATEST(likes - 1, 0), liked_by = array_remove(liked_by, $1::text)
			WHERE id = $2 AND $1::text = ANY(liked_by)`
		userQuery = `UPDATE users SET liked = array_remove(liked, $2::text) WHERE username = $1`
	}

	return database.Retry(ctx, "add_like", func() error {
		res, err := c.pool.Exec(ctx, imageQuery, user, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			ok, err := c.exists(ctx, "images", id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("image %s: %w", id, database.ErrNotFound)
			}
		}
		_, err = c.pool.Exec(ctx, userQuery, user, id)
		return err
	})
}

// AddFeedback records user's vote on tag. A first vote bumps one counter, a
// repeated vote changes nothing and a flipped vote moves both counters.
func (c *Catalog) AddFeedback(ctx context.Context, tag string, positive bool, user, id string) error {
	tag = database.NormalizeLabel(tag)
	if tag == "" {
		return nil
	}

	return database.Retry(ctx, "add_feedback", func() error {
		res, err := c.pool.Exec(ctx, `
			WITH prior AS (
				SELECT id,
					(feedback_history -> $3::text ->> $1::text)::boolean AS vote,
					COALESCE((feedback -> $1::text ->> 'positive')::int, 0) AS pos,
					COALESCE((feedback -> $1::text ->> 'negative')::int, 0) AS neg
				FROM images WHERE id = $4
			)
			UPDATE images i SET
				feedback = jsonb_set(i.feedback, ARRAY[$1::text], jsonb_build_object(
					'positive', p.pos + CASE
						WHEN $2::boolean AND p.vote IS DISTINCT FROM true THEN 1
						WHEN NOT $2::boolean AND p.vote = true THEN -1
						ELSE 0 END,
					'negative', p.neg + CASE
						WHEN NOT $2::boolean AND p.vote IS DISTINCT FROM false THEN 1
						WHEN $2::boolean AND p.vote = false THEN -1
						ELSE 0 END)),
				feedback_history = jsonb_set(
					i.feedback_history || jsonb_build_object($3::text, COALESCE(i.feedback_history -> $3::text, '{}'::jsonb)),
					ARRAY[$3::text, $1::text], to_jsonb($2::boolean))
			FROM prior p
			WHERE i.id = p.id`, tag, positive, user, id)
		if err != nil {
			return err
		}
		return requireRow(res, "image", id)
	})
}

// AddAutoTags overwrites auto_tags. Feedback keeps only the keys of the new
// auto tags; tags without a counter are seeded with zero counts.
func (c *Catalog) AddAutoTags(ctx context.Context, id string, tags []string) error {
	tags = database.NormalizeTags(tags)

	return database.Retry(ctx, "add_auto_tags", func() error {
		res, err := c.pool.Exec(ctx, `
			UPDATE images SET
				auto_tags = $2::text[],
				feedback = (
					SELECT COALESCE(jsonb_object_agg(k, v), '{}'::jsonb) FROM (
						SELECT key AS k, value AS v FROM jsonb_each(feedback)
						WHERE key = ANY($2::text[])
						UNION ALL
						SELECT t, '{"positive": 0, "negative": 0}'::jsonb
						FROM unnest($2::text[]) AS u(t)
						WHERE NOT (feedback ? t)
					) kept
				)
			WHERE id = $1`, id, pq.Array(tags))
		if err != nil {
			return err
		}
		return requireRow(res, "image", id)
	})
}

// DeleteImages removes the images and every catalog reference to them. The
// sub-steps run independently; failures are joined and the removed images are
// still returned so the caller can finish the cascade.
func (c *Catalog) DeleteImages(ctx context.Context, ids []string) ([]database.DeletedImage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	images, err := c.GetImages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load images to delete: %w", err)
	}
	if len(images) == 0 {
		return nil, nil
	}

	found := make([]string, len(images))
	deleted := make([]database.DeletedImage, len(images))
	for i, img := range images {
		found[i] = img.ID
		deleted[i] = database.DeletedImage{ID: img.ID, Filename: img.Filename, Embeddings: img.Embeddings}
	}
	arr := pq.Array(found)

	steps := []struct {
		name  string
		query string
	}{
		{"detach_from_albums", `
			UPDATE albums SET images = ARRAY(
				SELECT x FROM unnest(images) WITH ORDINALITY AS u(x, n)
				WHERE NOT x = ANY($1::text[]) ORDER BY n)
			WHERE images && $1::text[]`},
		{"remove_from_liked", `
			UPDATE users SET liked = ARRAY(
				SELECT x FROM unnest(liked) WITH ORDINALITY AS u(x, n)
				WHERE NOT x = ANY($1::text[]) ORDER BY n)
			WHERE liked && $1::text[]`},
		{"decrement_tag_counts", `
			WITH removed AS (
				SELECT u.tag AS name, COUNT(*) AS n
				FROM images, unnest(user_tags) AS u(tag)
				WHERE id = ANY($1::text[])
				GROUP BY u.tag
			)
			UPDATE tags SET
				count = GREATEST(tags.count - r.n, 0),
				name = CASE WHEN tags.count - r.n <= 0 THEN 'NULL' ELSE tags.name END
			FROM removed r
			WHERE tags.name = r.name AND tags.name <> 'NULL'`},
		{"delete_records", `DELETE FROM images WHERE id = ANY($1::text[])`},
	}

	var errs []error
	for _, step := range steps {
		err := database.Retry(ctx, step.name, func() error {
			_, err := c.pool.Exec(ctx, step.query, arr)
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("step", step.name).Int("images", len(found)).Msg("image deletion step failed")
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	return deleted, errors.Join(errs...)
}

// RelocateToAlbum moves images from prev to next. Without ids it moves the
// first batch of images whose album_id is prev. An empty next means root.
func (c *Catalog) RelocateToAlbum(ctx context.Context, prev, next string, ids []string) (int, error) {
	target, err := c.resolveAlbum(ctx, next)
	if err != nil {
		return 0, err
	}
	if target.ID == prev {
		return 0, nil
	}

	if len(ids) == 0 {
		ids, err = database.RetryValue(ctx, "relocate_select", func() ([]string, error) {
			return c.queryIDs(ctx, "SELECT id FROM images WHERE album_id = $1 ORDER BY id LIMIT $2",
				prev, constants.RelocateBatchSize)
		})
		if err != nil {
			return 0, fmt.Errorf("select images to relocate: %w", err)
		}
		if len(ids) == 0 {
			return 0, nil
		}
	}

	moved, err := database.RetryValue(ctx, "relocate_images", func() ([]string, error) {
		return c.queryIDs(ctx, `
			UPDATE images SET album_id = $1, album_name = $2
			WHERE id = ANY($3::text[]) AND album_id = $4
			RETURNING id`, target.ID, target.Name, pq.Array(ids), prev)
	})
	if err != nil {
		return 0, fmt.Errorf("relocate images: %w", err)
	}
	if len(moved) == 0 {
		return 0, nil
	}

	err = database.Retry(ctx, "relocate_detach", func() error {
		_, err := c.pool.Exec(ctx, `
			UPDATE albums SET images = ARRAY(
				SELECT x FROM unnest(images) WITH ORDINALITY AS u(x, n)
				WHERE NOT x = ANY($2::text[]) ORDER BY n)
			WHERE id = $1`, prev, pq.Array(moved))
		return err
	})
	if err != nil {
		return len(moved), fmt.Errorf("detach relocated images from %s: %w", prev, err)
	}

	if err := c.AddPhotosToAlbum(ctx, target.ID, moved); err != nil {
		return len(moved), fmt.Errorf("attach relocated images to %s: %w", target.ID, err)
	}
	return len(moved), nil
}

// SetImageFaces writes the clustering result for one image.
func (c *Catalog) SetImageFaces(ctx context.Context, u database.FaceUpdate) error {
	return database.Retry(ctx, "set_image_faces", func() error {
		res, err := c.pool.Exec(ctx, `
			UPDATE images SET user_faces = $2, backlog_faces = $3, auto_faces = $4
			WHERE id = $1`,
			u.ImageID, pq.Array(nonNil(u.UserFaces)), pq.Array(nonNil(u.BacklogFaces)), intArray(u.AutoFaces))
		if err != nil {
			return err
		}
		return requireRow(res, "image", u.ImageID)
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
