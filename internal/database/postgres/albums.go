package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const albumColumns = "id, name, parent, sons, images, created_at"

// subtreeCTE expands $1 (album ids) to the albums and all their descendants.
const subtreeCTE = `
	WITH RECURSIVE tree AS (
		SELECT id FROM albums WHERE id = ANY($1::text[])
		UNION
		SELECT a.id FROM albums a JOIN tree t ON a.parent = t.id
	)`

// EnsureRoot returns the root album, creating it on first use.
func (c *Catalog) EnsureRoot(ctx context.Context) (*database.Album, error) {
	return database.RetryValue(ctx, "ensure_root", func() (*database.Album, error) {
		_, err := c.pool.Exec(ctx, `
			INSERT INTO albums (id, name, parent) VALUES ($1, $2, NULL)
			ON CONFLICT DO NOTHING`, uuid.NewString(), constants.RootAlbumName)
		if err != nil {
			return nil, err
		}
		row := c.pool.QueryRow(ctx, "SELECT "+albumColumns+" FROM albums WHERE parent IS NULL")
		a, err := scanAlbum(row)
		if err != nil {
			return nil, fmt.Errorf("load root album: %w", err)
		}
		return a, nil
	})
}

// resolveAlbum returns the album id names, or root when id is empty.
func (c *Catalog) resolveAlbum(ctx context.Context, id string) (*database.Album, error) {
	if id == "" {
		return c.EnsureRoot(ctx)
	}
	return c.GetAlbum(ctx, id)
}

func (c *Catalog) GetAlbum(ctx context.Context, id string) (*database.Album, error) {
	return database.RetryValue(ctx, "get_album", func() (*database.Album, error) {
		row := c.pool.QueryRow(ctx, "SELECT "+albumColumns+" FROM albums WHERE id = $1", id)
		a, err := scanAlbum(row)
		if err != nil {
			return nil, notFound("album", id, err)
		}
		return a, nil
	})
}

// CreateAlbum creates name under parent (root when empty) and links it into
// the parent's sons.
func (c *Catalog) CreateAlbum(ctx context.Context, name, parent string) (*database.Album, error) {
	p, err := c.resolveAlbum(ctx, parent)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	album, err := database.RetryValue(ctx, "create_album", func() (*database.Album, error) {
		row := c.pool.QueryRow(ctx, `
			INSERT INTO albums (id, name, parent) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
			RETURNING `+albumColumns, id, name, p.ID)
		return scanAlbum(row)
	})
	if err != nil {
		return nil, fmt.Errorf("insert album: %w", err)
	}

	err = database.Retry(ctx, "link_album", func() error {
		_, err := c.pool.Exec(ctx, `
			UPDATE albums SET sons = array_append(sons, $1::text)
			WHERE id = $2 AND NOT ($1::text = ANY(sons))`, id, p.ID)
		return err
	})
	if err != nil {
		return album, fmt.Errorf("link album to parent %s: %w", p.ID, err)
	}
	return album, nil
}

func (c *Catalog) ListAlbums(ctx context.Context, parent string) ([]database.Album, error) {
	p, err := c.resolveAlbum(ctx, parent)
	if err != nil {
		return nil, err
	}

	return database.RetryValue(ctx, "list_albums", func() ([]database.Album, error) {
		rows, err := c.pool.Query(ctx, "SELECT "+albumColumns+" FROM albums WHERE parent = $1 ORDER BY name, id", p.ID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var albums []database.Album
		for rows.Next() {
			a, err := scanAlbum(rows)
			if err != nil {
				return nil, fmt.Errorf("scan album: %w", err)
			}
			albums = append(albums, *a)
		}
		return albums, rows.Err()
	})
}

// RenameAlbum renames a non-root album together with the album_name copy on its images.
func (c *Catalog) RenameAlbum(ctx context.Context, id, name string) error {
	a, err := c.GetAlbum(ctx, id)
	if err != nil {
		return err
	}
	if a.IsRoot() {
		return database.ErrRootAlbum
	}

	err = database.Retry(ctx, "rename_album", func() error {
		_, err := c.pool.Exec(ctx, "UPDATE albums SET name = $1 WHERE id = $2", name, id)
		return err
	})
	if err != nil {
		return err
	}
	return database.Retry(ctx, "rename_album_images", func() error {
		_, err := c.pool.Exec(ctx, "UPDATE images SET album_name = $1 WHERE album_id = $2", name, id)
		return err
	})
}

// DeleteAlbums deletes the albums, their descendants and every contained image.
// Only a top-level call detaches the albums from their parents' sons; a
// parent that is already gone is logged and skipped.
func (c *Catalog) DeleteAlbums(ctx context.Context, ids []string, topLevel bool) ([]database.DeletedImage, error) {
	var targets []*database.Album
	for _, id := range ids {
		a, err := c.GetAlbum(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			log.Warn().Str("album_id", id).Msg("album to delete does not exist")
			continue
		}
		if err != nil {
			return nil, err
		}
		if a.IsRoot() {
			return nil, database.ErrRootAlbum
		}
		targets = append(targets, a)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	topIDs := make([]string, len(targets))
	for i, a := range targets {
		topIDs[i] = a.ID
	}

	tree, err := database.RetryValue(ctx, "album_subtree", func() ([]string, error) {
		return c.queryIDs(ctx, subtreeCTE+" SELECT id FROM tree", pq.Array(topIDs))
	})
	if err != nil {
		return nil, fmt.Errorf("expand album tree: %w", err)
	}

	imageIDs, err := c.AlbumImageIDsRecursive(ctx, topIDs)
	if err != nil {
		return nil, fmt.Errorf("collect album images: %w", err)
	}

	var errs []error
	deleted, err := c.DeleteImages(ctx, imageIDs)
	if err != nil {
		errs = append(errs, err)
	}

	if topLevel {
		for _, a := range targets {
			err := database.Retry(ctx, "detach_album", func() error {
				res, err := c.pool.Exec(ctx, "UPDATE albums SET sons = array_remove(sons, $1::text) WHERE id = $2", a.ID, a.Parent)
				if err != nil {
					return err
				}
				if n, _ := res.RowsAffected(); n == 0 {
					log.Info().Str("album_id", a.ID).Str("parent", a.Parent).Msg("parent album already deleted, nothing to detach")
				}
				return nil
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("detach album %s: %w", a.ID, err))
			}
		}
	}

	err = database.Retry(ctx, "delete_albums", func() error {
		_, err := c.pool.Exec(ctx, "DELETE FROM albums WHERE id = ANY($1::text[])", pq.Array(tree))
		return err
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("delete album rows: %w", err))
	}

	return deleted, errors.Join(errs...)
}

// AddPhotosToAlbum appends ids the album does not already list, keeping their order.
func (c *Catalog) AddPhotosToAlbum(ctx context.Context, albumID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return database.Retry(ctx, "add_photos_to_album", func() error {
		res, err := c.pool.Exec(ctx, `
			UPDATE albums SET images = images || ARRAY(
				SELECT x FROM unnest($2::text[]) WITH ORDINALITY AS u(x, n)
				WHERE NOT x = ANY(images) ORDER BY n)
			WHERE id = $1`, albumID, pq.Array(ids))
		if err != nil {
			return err
		}
		return requireRow(res, "album", albumID)
	})
}

func (c *Catalog) AlbumImageIDsRecursive(ctx context.Context, albumIDs []string) ([]string, error) {
	if len(albumIDs) == 0 {
		return nil, nil
	}
	return database.RetryValue(ctx, "album_image_ids", func() ([]string, error) {
		return c.queryIDs(ctx, subtreeCTE+`
			SELECT i.id FROM images i JOIN tree t ON i.album_id = t.id ORDER BY i.id`, pq.Array(albumIDs))
	})
}

func (c *Catalog) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
