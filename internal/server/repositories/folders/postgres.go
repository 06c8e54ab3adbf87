// Package folders provides the PostgreSQL-backed folder repository.
package folders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

const columns = `id, owner_id, name, parent_id, is_favorite, deleted_at, created_at, updated_at`

// PostgresRepository implements folder storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFolder(row scanner) (*models.Folder, error) {
	var (
		f         models.Folder
		parentID  sql.NullString
		deletedAt sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &parentID, &f.IsFavorite, &deletedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if parentID.Valid {
		f.ParentID = &parentID.String
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		f.DeletedAt = &t
	}
	return &f, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.Folder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select folders: %w", err)
	}
	defer rows.Close()

	var result []*models.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetByID returns the folder or common.ErrorNotFound.
func (r *PostgresRepository) GetByID(ctx context.Context, ownerID, id string) (*models.Folder, error) {
	query := `SELECT ` + columns + ` FROM folders WHERE owner_id = $1 AND id = $2`

	f, err := scanFolder(r.db.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

// GetMany returns the owner's folders among ids. Missing or foreign ids are
// silently absent; callers compare lengths.
func (r *PostgresRepository) GetMany(ctx context.Context, ownerID string, ids []string) ([]*models.Folder, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + columns + ` FROM folders WHERE owner_id = $1 AND id IN (` + dbx.Placeholders(2, len(ids)) + `)`
	return r.query(ctx, query, dbx.Args([]any{ownerID}, ids)...)
}

// List returns the owner's folders matching filter, ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context, ownerID string, filter models.FolderFilter) ([]*models.Folder, error) {
	where := []string{"owner_id = $1"}
	args := []any{ownerID}

	switch {
	case filter.Root:
		where = append(where, "parent_id IS NULL")
	case filter.ParentID != nil:
		args = append(args, *filter.ParentID)
		where = append(where, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	if filter.Trashed != nil {
		if *filter.Trashed {
			where = append(where, "deleted_at IS NOT NULL")
		} else {
			where = append(where, "deleted_at IS NULL")
		}
	}
	if filter.Favorite != nil {
		args = append(args, *filter.Favorite)
		where = append(where, fmt.Sprintf("is_favorite = $%d", len(args)))
	}

	query := `SELECT ` + columns + ` FROM folders WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at, id`
	return r.query(ctx, query, args...)
}

// Create inserts a folder row. ID, OwnerID and Name must be set.
func (r *PostgresRepository) Create(ctx context.Context, folder *models.Folder) error {
	query := `
		INSERT INTO folders (id, owner_id, name, parent_id, is_favorite)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		folder.ID, folder.OwnerID, folder.Name, folder.ParentID, folder.IsFavorite,
	).Scan(&folder.CreatedAt, &folder.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) execMany(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// UpdateName replaces the stored name token.
func (r *PostgresRepository) UpdateName(ctx context.Context, ownerID, id, name string) error {
	query := `UPDATE folders SET name = $3, updated_at = now() WHERE owner_id = $1 AND id = $2`
	return r.execOne(ctx, query, ownerID, id, name)
}

// UpdateParent moves one folder; nil parentID moves it to the root.
func (r *PostgresRepository) UpdateParent(ctx context.Context, ownerID, id string, parentID *string) error {
	query := `UPDATE folders SET parent_id = $3, updated_at = now() WHERE owner_id = $1 AND id = $2`
	return r.execOne(ctx, query, ownerID, id, parentID)
}

// MoveMany sets parent_id on all of the owner's folders among ids in one statement.
func (r *PostgresRepository) MoveMany(ctx context.Context, ownerID string, ids []string, parentID *string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `UPDATE folders SET parent_id = $2, updated_at = now() WHERE owner_id = $1 AND id IN (` + dbx.Placeholders(3, len(ids)) + `)`
	return r.execMany(ctx, query, dbx.Args([]any{ownerID, parentID}, ids)...)
}

// SetDeletedAt trashes (non-nil) or restores (nil) one folder.
func (r *PostgresRepository) SetDeletedAt(ctx context.Context, ownerID, id string, deletedAt *time.Time) error {
	query := `UPDATE folders SET deleted_at = $3, updated_at = now() WHERE owner_id = $1 AND id = $2`
	return r.execOne(ctx, query, ownerID, id, deletedAt)
}

// SetDeletedAtMany is SetDeletedAt for several folders in one statement.
func (r *PostgresRepository) SetDeletedAtMany(ctx context.Context, ownerID string, ids []string, deletedAt *time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `UPDATE folders SET deleted_at = $2, updated_at = now() WHERE owner_id = $1 AND id IN (` + dbx.Placeholders(3, len(ids)) + `)`
	return r.execMany(ctx, query, dbx.Args([]any{ownerID, deletedAt}, ids)...)
}

// ToggleFavorite flips is_favorite and returns the new value.
func (r *PostgresRepository) ToggleFavorite(ctx context.Context, ownerID, id string) (bool, error) {
	query := `
		UPDATE folders SET is_favorite = NOT is_favorite, updated_at = now()
		WHERE owner_id = $1 AND id = $2
		RETURNING is_favorite
	`
	var fav bool
	if err := r.db.QueryRowContext(ctx, query, ownerID, id).Scan(&fav); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, common.ErrorNotFound
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return fav, nil
}

// Delete removes the row. Sub-folders and contained files go with it
// through ON DELETE CASCADE.
func (r *PostgresRepository) Delete(ctx context.Context, ownerID, id string) error {
	query := `DELETE FROM folders WHERE owner_id = $1 AND id = $2`
	return r.execOne(ctx, query, ownerID, id)
}
