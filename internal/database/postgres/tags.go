package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/lib/pq"
)

// AddTagsToImages adds each tag to the user tags of ids. Only images that did
// not already carry the tag count towards the vocabulary count. The tag is
// also dropped from auto_tags since it is now a user tag.
func (c *Catalog) AddTagsToImages(ctx context.Context, tags, ids []string) error {
	tags = database.NormalizeTags(tags)
	if len(tags) == 0 || len(ids) == 0 {
		return nil
	}

	for _, tag := range tags {
		err := database.Retry(ctx, "add_tag", func() error {
			_, err := c.pool.Exec(ctx, `
				WITH tagged AS (
					UPDATE images SET
						user_tags = array_append(user_tags, $1::text),
						auto_tags = array_remove(auto_tags, $1::text)
					WHERE id = ANY($2::text[]) AND NOT ($1::text = ANY(user_tags))
					RETURNING id
				)
				INSERT INTO tags (name, count)
				SELECT $1::text, COUNT(*) FROM tagged HAVING COUNT(*) > 0
				ON CONFLICT (name) WHERE name <> 'NULL'
				DO UPDATE SET count = tags.count + EXCLUDED.count`, tag, pq.Array(ids))
			return err
		})
		if err != nil {
			return fmt.Errorf("add tag %q: %w", tag, err)
		}
	}
	return nil
}

// AddTagsToAlbums tags every image in the albums and their descendants.
func (c *Catalog) AddTagsToAlbums(ctx context.Context, tags, albumIDs []string) error {
	ids, err := c.AlbumImageIDsRecursive(ctx, albumIDs)
	if err != nil {
		return fmt.Errorf("collect album images: %w", err)
	}
	return c.AddTagsToImages(ctx, tags, ids)
}

// RemoveTagsFromImage removes tags from the image. A tag whose count reaches
// zero keeps its row under the tombstone name.
func (c *Catalog) RemoveTagsFromImage(ctx context.Context, id string, tags []string) error {
	ok, err := database.RetryValue(ctx, "image_exists", func() (bool, error) {
		return c.exists(ctx, "images", id)
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("image %s: %w", id, database.ErrNotFound)
	}

	for _, tag := range database.NormalizeTags(tags) {
		err := database.Retry(ctx, "remove_tag", func() error {
			_, err := c.pool.Exec(ctx, `
				WITH untagged AS (
					UPDATE images SET user_tags = array_remove(user_tags, $2::text)
					WHERE id = $1 AND $2::text = ANY(user_tags)
					RETURNING id
				)
				UPDATE tags SET
					count = GREATEST(count - 1, 0),
					name = CASE WHEN count - 1 <= 0 THEN 'NULL' ELSE name END
				WHERE name = $2::text AND EXISTS (SELECT 1 FROM untagged)`, id, tag)
			return err
		})
		if err != nil {
			return fmt.Errorf("remove tag %q: %w", tag, err)
		}
	}
	return nil
}

// UniqueTags returns the vocabulary in creation order. Tombstones are kept so
// a tag's position, and with it the predictor output index, never shifts.
func (c *Catalog) UniqueTags(ctx context.Context) ([]string, error) {
	return database.RetryValue(ctx, "unique_tags", func() ([]string, error) {
		return c.queryIDs(ctx, "SELECT name FROM tags ORDER BY id")
	})
}

func (c *Catalog) ListTags(ctx context.Context) ([]database.Tag, error) {
	return database.RetryValue(ctx, "list_tags", func() ([]database.Tag, error) {
		rows, err := c.pool.Query(ctx, "SELECT id, name, count FROM tags WHERE name <> 'NULL' ORDER BY count DESC, name")
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var tags []database.Tag
		for rows.Next() {
			var t database.Tag
			if err := rows.Scan(&t.ID, &t.Name, &t.Count); err != nil {
				return nil, fmt.Errorf("scan tag: %w", err)
			}
			tags = append(tags, t)
		}
		return tags, rows.Err()
	})
}
