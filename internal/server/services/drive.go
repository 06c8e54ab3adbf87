package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/blobstore"
	"github.com/dmitrijs2005/gophdrive/internal/server/config"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
)

// Drive groups the hierarchy services that share one store and key source.
type Drive struct {
	Folders   *FolderService
	Files     *FileService
	Migration *Migration
}

func NewDrive(db *sql.DB, m repomanager.RepositoryManager, ks KeySource, blobs blobstore.Store, logger logging.Logger, cfg *config.Config) *Drive {
	return &Drive{
		Folders:   NewFolderService(db, m, ks, blobs, logger, cfg),
		Files:     NewFileService(db, m, ks, blobs, logger),
		Migration: NewMigration(db, m, ks, logger),
	}
}

// Search runs the folder and file searches for one query.
func (d *Drive) Search(ctx context.Context, ownerID, query string) (*models.SearchResult, error) {
	fs, err := d.Folders.Search(ctx, ownerID, query)
	if err != nil {
		return nil, err
	}
	items, err := d.Files.Search(ctx, ownerID, query)
	if err != nil {
		return nil, err
	}
	return &models.SearchResult{Folders: fs, Files: items}, nil
}

// Trash lists trashed folders and files together.
func (d *Drive) Trash(ctx context.Context, ownerID string) (*models.Contents, error) {
	fs, err := d.Folders.ListTrashed(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items, err := d.Files.ListTrashed(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &models.Contents{Folders: fs, Files: items}, nil
}

// Favorites lists live favorite folders and files together.
func (d *Drive) Favorites(ctx context.Context, ownerID string) (*models.Contents, error) {
	fs, err := d.Folders.ListFavorites(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	items, err := d.Files.ListFavorites(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &models.Contents{Folders: fs, Files: items}, nil
}
