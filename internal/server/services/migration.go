package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
)

// ResealReport counts the names rewritten by ResealNames.
type ResealReport struct {
	Folders int `json:"folders"`
	Files   int `json:"files"`
}

// Migration moves stored names onto the canonical key and the current
// token format.
type Migration struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	keys        KeySource
	logger      logging.Logger
}

func NewMigration(db *sql.DB, m repomanager.RepositoryManager, ks KeySource, logger logging.Logger) *Migration {
	return &Migration{db: db, repomanager: m, keys: ks, logger: logger}
}

// ResealNames re-encrypts, in one transaction, every folder and file name of
// the owner that is plaintext, legacy-format or legacy-key. Trashed entities
// are included.
func (m *Migration) ResealNames(ctx context.Context, ownerID string) (*ResealReport, error) {
	ring, err := m.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()

	report := &ResealReport{}
	err = dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := m.repomanager.Folders(tx)
		fs, err := folderRepo.List(ctx, ownerID, models.FolderFilter{})
		if err != nil {
			return err
		}
		for _, f := range fs {
			token, changed, err := ring.Reseal(f.Name)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			if err := folderRepo.UpdateName(ctx, ownerID, f.ID, token); err != nil {
				return err
			}
			report.Folders++
		}

		fileRepo := m.repomanager.Files(tx)
		items, err := fileRepo.List(ctx, ownerID, models.FileFilter{})
		if err != nil {
			return err
		}
		for _, f := range items {
			token, changed, err := ring.Reseal(f.Name)
			if err != nil {
				return err
			}
			if !changed {
				continue
			}
			if err := fileRepo.UpdateName(ctx, ownerID, f.ID, token); err != nil {
				return err
			}
			report.Files++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info(ctx, "names resealed", "owner_id", ownerID, "folders", report.Folders, "files", report.Files)
	return report, nil
}
