package folders

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/server/models"
)

// Repository persists folders. Every method is scoped by owner: a row owned
// by someone else behaves exactly like a missing row.
type Repository interface {
	GetByID(ctx context.Context, ownerID, id string) (*models.Folder, error)
	GetMany(ctx context.Context, ownerID string, ids []string) ([]*models.Folder, error)
	List(ctx context.Context, ownerID string, filter models.FolderFilter) ([]*models.Folder, error)
	Create(ctx context.Context, folder *models.Folder) error
	UpdateName(ctx context.Context, ownerID, id, name string) error
	UpdateParent(ctx context.Context, ownerID, id string, parentID *string) error
	MoveMany(ctx context.Context, ownerID string, ids []string, parentID *string) (int64, error)
	SetDeletedAt(ctx context.Context, ownerID, id string, deletedAt *time.Time) error
	SetDeletedAtMany(ctx context.Context, ownerID string, ids []string, deletedAt *time.Time) (int64, error)
	ToggleFavorite(ctx context.Context, ownerID, id string) (bool, error)
	Delete(ctx context.Context, ownerID, id string) error
}
