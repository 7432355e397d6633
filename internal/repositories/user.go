package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/shared"
)

// UserRepository persists accounts. This is a single-user system in practice,
// so the common path is GetOrCreate with the configured username.
type UserRepository struct {
	dbtx DBTX
}

// GetOrCreate returns the user with the given username, creating it on first use.
func (r *UserRepository) GetOrCreate(ctx context.Context, username string) (*models.User, error) {
	user, err := r.GetByUsername(ctx, username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	user = models.NewUser(username)
	if err := user.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	res, err := r.dbtx.ExecContext(ctx,
		"INSERT INTO users (username, created_at, updated_at) VALUES (?, ?, ?)",
		user.Username(), user.CreatedAt(), user.UpdatedAt())
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user id: %w", err)
	}
	user.SetID(id)
	return user, nil
}

// GetByUsername retrieves a user, or [shared.ErrNotFound].
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var (
		id        int64
		name      string
		createdAt time.Time
		updatedAt time.Time
		deletedAt sql.NullTime
	)

	err := r.dbtx.QueryRowContext(ctx, `
		SELECT id, username, created_at, updated_at, deleted_at
		FROM users WHERE username = ? AND deleted_at IS NULL
	`, username).Scan(&id, &name, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %q", shared.ErrNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	user := models.NewUser(name)
	user.SetID(id)
	user.SetCreatedAt(createdAt)
	user.SetUpdatedAt(updatedAt)
	user.SetDeletedAt(timePtr(deletedAt))
	return user, nil
}
