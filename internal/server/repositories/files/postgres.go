package files

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

const columns = `id, owner_id, folder_id, name, size, mime_type, content_ref, is_favorite, deleted_at, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*models.File, error) {
	var (
		f         models.File
		folderID  sql.NullString
		size      int64
		deletedAt sql.NullTime
	)
	err := row.Scan(&f.ID, &f.OwnerID, &folderID, &f.Name, &size, &f.MimeType, &f.ContentRef,
		&f.IsFavorite, &deletedAt, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if folderID.Valid {
		f.FolderID = &folderID.String
	}
	if size > 0 {
		f.Size = uint64(size)
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		f.DeletedAt = &t
	}
	return &f, nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*models.File, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	var result []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
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

func (r *PostgresRepository) GetByID(ctx context.Context, ownerID, id string) (*models.File, error) {
	query := `SELECT ` + columns + ` FROM files WHERE owner_id = $1 AND id = $2`

	f, err := scanFile(r.db.QueryRowContext(ctx, query, ownerID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) GetMany(ctx context.Context, ownerID string, ids []string) ([]*models.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + columns + ` FROM files WHERE owner_id = $1 AND id IN (` + dbx.Placeholders(2, len(ids)) + `)`
	return r.query(ctx, query, dbx.Args([]any{ownerID}, ids)...)
}

func (r *PostgresRepository) List(ctx context.Context, ownerID string, filter models.FileFilter) ([]*models.File, error) {
	where := []string{"owner_id = $1"}
	args := []any{ownerID}

	switch {
	case filter.Root:
		where = append(where, "folder_id IS NULL")
	case filter.FolderID != nil:
		args = append(args, *filter.FolderID)
		where = append(where, fmt.Sprintf("folder_id = $%d", len(args)))
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

	query := `SELECT ` + columns + ` FROM files WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at, id`
	return r.query(ctx, query, args...)
}

// Create inserts a file row. Size must fit into BIGINT; the service checks it.
func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (id, owner_id, folder_id, name, size, mime_type, content_ref, is_favorite)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		file.ID, file.OwnerID, file.FolderID, file.Name, int64(file.Size), file.MimeType, file.ContentRef, file.IsFavorite,
	).Scan(&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
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

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	n, err := r.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateName(ctx context.Context, ownerID, id, name string) error {
	query := `UPDATE files SET name = $3, updated_at = now() WHERE owner_id = $1 AND id = $2`
	return r.execOne(ctx, query, ownerID, id, name)
}

// UpdateFolder moves one file; nil folderID moves it to the root.
func (r *PostgresRepository) UpdateFolder(ctx context.Context, ownerID, id string, folderID *string) error {
	query := `UPDATE files SET folder_id = $3, updated_at = now() WHERE owner_id = $1 AND id = $2`
	return r.execOne(ctx, query, ownerID, id, folderID)
}

func (r *PostgresRepository) MoveMany(ctx context.Context, ownerID string, ids []string, folderID *string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `UPDATE files SET folder_id = $2, updated_at = now() WHERE owner_id = $1 AND id IN (` + dbx.Placeholders(3, len(ids)) + `)`
	return r.exec(ctx, query, dbx.Args([]any{ownerID, folderID}, ids)...)
}

func (r *PostgresRepository) SetDeletedAt(ctx context.Context, ownerID, id string, deletedAt *time.Time) error {
	query := `UPDATE files SET deleted_at = $3, updated_at = now() WHERE owner_id = $1 AND id = $2`
	return r.execOne(ctx, query, ownerID, id, deletedAt)
}

func (r *PostgresRepository) SetDeletedAtMany(ctx context.Context, ownerID string, ids []string, deletedAt *time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `UPDATE files SET deleted_at = $2, updated_at = now() WHERE owner_id = $1 AND id IN (` + dbx.Placeholders(3, len(ids)) + `)`
	return r.exec(ctx, query, dbx.Args([]any{ownerID, deletedAt}, ids)...)
}

// TrashInFolder stamps every live file directly inside folderID with at.
func (r *PostgresRepository) TrashInFolder(ctx context.Context, ownerID, folderID string, at time.Time) (int64, error) {
	query := `
		UPDATE files SET deleted_at = $3, updated_at = now()
		WHERE owner_id = $1 AND folder_id = $2 AND deleted_at IS NULL
	`
	return r.exec(ctx, query, ownerID, folderID, at)
}

// RestoreInFolder clears deleted_at on the files that were trashed together
// with their folder, i.e. the ones carrying exactly the folder's stamp.
func (r *PostgresRepository) RestoreInFolder(ctx context.Context, ownerID, folderID string, at time.Time) (int64, error) {
	query := `
		UPDATE files SET deleted_at = NULL, updated_at = now()
		WHERE owner_id = $1 AND folder_id = $2 AND deleted_at = $3
	`
	return r.exec(ctx, query, ownerID, folderID, at)
}

func (r *PostgresRepository) ToggleFavorite(ctx context.Context, ownerID, id string) (bool, error) {
	query := `
		UPDATE files SET is_favorite = NOT is_favorite, updated_at = now()
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

// ContentRefsInFolders returns blob refs of all files (trashed or not)
// directly inside any of folderIDs.
func (r *PostgresRepository) ContentRefsInFolders(ctx context.Context, ownerID string, folderIDs []string) ([]string, error) {
	if len(folderIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT content_ref FROM files
		WHERE owner_id = $1 AND content_ref <> '' AND folder_id IN (` + dbx.Placeholders(2, len(folderIDs)) + `)`

	rows, err := r.db.QueryContext(ctx, query, dbx.Args([]any{ownerID}, folderIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to select content refs: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID, id string) error {
	query := `DELETE FROM files WHERE owner_id = $1 AND id = $2`
	return r.execOne(ctx, query, ownerID, id)
}
