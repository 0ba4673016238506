package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/lib/pq"
)

// CreateUser inserts a new account. A taken username or email is ErrConflict.
func (c *Catalog) CreateUser(ctx context.Context, u *database.User) error {
	return database.Retry(ctx, "create_user", func() error {
		err := c.pool.QueryRow(ctx, `
			INSERT INTO users (username, password, email, verified)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at`, u.Username, u.Password, u.Email, u.Verified).Scan(&u.CreatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Username, database.ErrConflict)
		}
		return err
	})
}

func (c *Catalog) GetUser(ctx context.Context, username string) (*database.User, error) {
	return database.RetryValue(ctx, "get_user", func() (*database.User, error) {
		var u database.User
		err := c.pool.QueryRow(ctx, `
			SELECT username, password, email, verified, liked, created_at
			FROM users WHERE username = $1`, username).
			Scan(&u.Username, &u.Password, &u.Email, &u.Verified, pq.Array(&u.Liked), &u.CreatedAt)
		if err != nil {
			return nil, notFound("user", username, err)
		}
		return &u, nil
	})
}

func (c *Catalog) SetUserVerified(ctx context.Context, username string) error {
	return database.Retry(ctx, "set_user_verified", func() error {
		res, err := c.pool.Exec(ctx, "UPDATE users SET verified = TRUE WHERE username = $1", username)
		if err != nil {
			return err
		}
		return requireRow(res, "user", username)
	})
}
