package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// Repository persists file metadata. Every method is scoped by owner.
type Repository interface {
	GetByID(ctx context.Context, ownerID, id string) (*models.File, error)
	GetMany(ctx context.Context, ownerID string, ids []string) ([]*models.File, error)
	List(ctx context.Context, ownerID string, filter models.FileFilter) ([]*models.File, error)
	Create(ctx context.Context, file *models.File) error
	UpdateName(ctx context.Context, ownerID, id, name string) error
	UpdateFolder(ctx context.Context, ownerID, id string, folderID *string) error
	MoveMany(ctx context.Context, ownerID string, ids []string, folderID *string) (int64, error)
	SetDeletedAt(ctx context.Context, ownerID, id string, deletedAt *time.Time) error
	SetDeletedAtMany(ctx context.Context, ownerID string, ids []string, deletedAt *time.Time) (int64, error)
	TrashInFolder(ctx context.Context, ownerID, folderID string, at time.Time) (int64, error)
	RestoreInFolder(ctx context.Context, ownerID, folderID string, at time.Time) (int64, error)
	ToggleFavorite(ctx context.Context, ownerID, id string) (bool, error)
	ContentRefsInFolders(ctx context.Context, ownerID string, folderIDs []string) ([]string, error)
	Delete(ctx context.Context, ownerID, id string) error
}
