package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/blobstore"
	"github.com/dmitrijs2005/gophdrive/internal/server/config"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/folders"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
)

// CreateFolderInput describes a new folder. A nil ParentID creates it at the
// root.
type CreateFolderInput struct {
	Name     string
	ParentID *string `validate:"omitempty,uuid"`
}

// FolderService owns folder operations for a single owner per call.
type FolderService struct {
	db           *sql.DB
	repomanager  repomanager.RepositoryManager
	keys         KeySource
	blobs        blobstore.Store
	logger       logging.Logger
	maxTreeDepth int
	now          func() time.Time
}

func NewFolderService(db *sql.DB, m repomanager.RepositoryManager, ks KeySource, blobs blobstore.Store, logger logging.Logger, cfg *config.Config) *FolderService {
	return &FolderService{
		db:           db,
		repomanager:  m,
		keys:         ks,
		blobs:        blobs,
		logger:       logger,
		maxTreeDepth: cfg.MaxTreeDepth,
		now:          stamp,
	}
}

// live loads a folder that must exist and must not be in trash.
func live(ctx context.Context, repo folders.Repository, ownerID, id string) (*models.Folder, error) {
	f, err := repo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if f.Trashed() {
		return nil, common.ErrorNotFound
	}
	return f, nil
}

// trashed loads a folder that must exist and must be in trash.
func trashed(ctx context.Context, repo folders.Repository, ownerID, id string) (*models.Folder, error) {
	f, err := repo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !f.Trashed() {
		return nil, common.ErrorNotFound
	}
	return f, nil
}

func (s *FolderService) index(ctx context.Context, repo folders.Repository, ownerID string) (*folderIndex, error) {
	all, err := repo.List(ctx, ownerID, models.FolderFilter{})
	if err != nil {
		return nil, err
	}
	return newFolderIndex(all), nil
}

// List returns the direct sub-folders of parentID, or the root folders when
// parentID is nil.
func (s *FolderService) List(ctx context.Context, ownerID string, parentID *string, includeTrashed bool) ([]*models.FolderView, error) {
	if err := validateOptionalID(parentID); err != nil {
		return nil, err
	}
	repo := s.repomanager.Folders(s.db)

	filter := models.FolderFilter{ParentID: parentID, Root: parentID == nil}
	if !includeTrashed {
		filter.Trashed = common.Ptr(false)
	}
	if parentID != nil {
		parent, err := repo.GetByID(ctx, ownerID, *parentID)
		if err != nil {
			return nil, err
		}
		if parent.Trashed() && !includeTrashed {
			return nil, common.ErrorNotFound
		}
	}

	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()

	items, err := repo.List(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}
	return folderViews(ring, items), nil
}

// Contents returns the live folders and files directly inside folderID, or
// at the root when folderID is nil.
func (s *FolderService) Contents(ctx context.Context, ownerID string, folderID *string) (*models.Contents, error) {
	if err := validateOptionalID(folderID); err != nil {
		return nil, err
	}
	repo := s.repomanager.Folders(s.db)
	if folderID != nil {
		if _, err := live(ctx, repo, ownerID, *folderID); err != nil {
			return nil, err
		}
	}

	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()

	subs, err := repo.List(ctx, ownerID, models.FolderFilter{ParentID: folderID, Root: folderID == nil, Trashed: common.Ptr(false)})
	if err != nil {
		return nil, err
	}
	fs, err := s.repomanager.Files(s.db).List(ctx, ownerID, models.FileFilter{FolderID: folderID, Root: folderID == nil, Trashed: common.Ptr(false)})
	if err != nil {
		return nil, err
	}
	return &models.Contents{Folders: folderViews(ring, subs), Files: fileViews(ring, fs)}, nil
}

// Tree returns the owner's live folders as a forest.
func (s *FolderService) Tree(ctx context.Context, ownerID string) ([]*models.TreeNode, error) {
	all, err := s.repomanager.Folders(s.db).List(ctx, ownerID, models.FolderFilter{Trashed: common.Ptr(false)})
	if err != nil {
		return nil, err
	}

	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()

	return buildTree(all, func(f *models.Folder) string { return ring.Open(f.Name) }, s.maxTreeDepth), nil
}

// Path returns the chain of folders from the root down to id.
func (s *FolderService) Path(ctx context.Context, ownerID, id string) ([]*models.FolderView, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	repo := s.repomanager.Folders(s.db)
	idx, err := s.index(ctx, repo, ownerID)
	if err != nil {
		return nil, err
	}
	if _, ok := idx.byID[id]; !ok {
		return nil, common.ErrorNotFound
	}

	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()

	var chain []*models.FolderView
	cur, ok := idx.byID[id]
	for ok {
		if len(chain) > len(idx.byID) {
			return nil, fmt.Errorf("%w: parent chain of %s loops", common.ErrorInternal, id)
		}
		chain = append(chain, folderView(ring, cur))
		if cur.ParentID == nil {
			break
		}
		cur, ok = idx.byID[*cur.ParentID]
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Create adds a folder under a live parent (or at the root).
func (s *FolderService) Create(ctx context.Context, ownerID string, in CreateFolderInput) (*models.FolderView, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, formatValidationError(err)
	}

	repo := s.repomanager.Folders(s.db)
	if in.ParentID != nil {
		if _, err := live(ctx, repo, ownerID, *in.ParentID); err != nil {
			return nil, err
		}
	}

	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()

	token, err := ring.Seal(name)
	if err != nil {
		return nil, err
	}

	f := &models.Folder{ID: newID(), OwnerID: ownerID, Name: token, ParentID: in.ParentID}
	if err := repo.Create(ctx, f); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "folder created", "owner_id", ownerID, "folder_id", f.ID)
	return folderView(ring, f), nil
}

// Rename replaces the name of a live folder.
func (s *FolderService) Rename(ctx context.Context, ownerID, id, newName string) (*models.FolderView, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	name, err := normalizeName(newName)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Folders(s.db)
	f, err := live(ctx, repo, ownerID, id)
	if err != nil {
		return nil, err
	}

	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()

	token, err := ring.Seal(name)
	if err != nil {
		return nil, err
	}
	if err := repo.UpdateName(ctx, ownerID, id, token); err != nil {
		return nil, err
	}
	f.Name = token

	s.logger.Info(ctx, "folder renamed", "owner_id", ownerID, "folder_id", id)
	return folderView(ring, f), nil
}

// checkTarget validates a move destination and that none of ids is the
// target or one of its ancestors.
func checkTarget(idx *folderIndex, ids []string, target *string) error {
	if target == nil {
		return nil
	}
	t, ok := idx.byID[*target]
	if !ok || t.Trashed() {
		return common.ErrorNotFound
	}
	for _, id := range ids {
		if id == *target {
			return fmt.Errorf("%w: folder %s cannot be moved into itself", common.ErrInvalidOperation, id)
		}
		if idx.reaches(*target, id) {
			return fmt.Errorf("%w: folder %s is an ancestor of %s", common.ErrInvalidOperation, id, *target)
		}
	}
	return nil
}

// Move re-parents a live folder. A nil parentID moves it to the root.
func (s *FolderService) Move(ctx context.Context, ownerID, id string, parentID *string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := validateOptionalID(parentID); err != nil {
		return err
	}
	if parentID != nil && *parentID == id {
		return fmt.Errorf("%w: folder %s cannot be moved into itself", common.ErrInvalidOperation, id)
	}

	repo := s.repomanager.Folders(s.db)
	idx, err := s.index(ctx, repo, ownerID)
	if err != nil {
		return err
	}
	f, ok := idx.byID[id]
	if !ok || f.Trashed() {
		return common.ErrorNotFound
	}
	if err := checkTarget(idx, []string{id}, parentID); err != nil {
		return err
	}

	if err := repo.UpdateParent(ctx, ownerID, id, parentID); err != nil {
		return err
	}
	s.logger.Info(ctx, "folder moved", "owner_id", ownerID, "folder_id", id, "parent_id", common.Deref(parentID))
	return nil
}

// BatchMove re-parents several folders in one statement. Validation runs
// against the state read before the update; the two are not one transaction,
// so a concurrent move between them can still slip a cycle through.
func (s *FolderService) BatchMove(ctx context.Context, ownerID string, ids []string, parentID *string) (int64, error) {
	ids, err := validateIDs(ids)
	if err != nil {
		return 0, err
	}
	if err := validateOptionalID(parentID); err != nil {
		return 0, err
	}
	if parentID != nil {
		for _, id := range ids {
			if id == *parentID {
				return 0, fmt.Errorf("%w: target %s is part of the batch", common.ErrInvalidOperation, id)
			}
		}
	}

	repo := s.repomanager.Folders(s.db)
	idx, err := s.index(ctx, repo, ownerID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		f, ok := idx.byID[id]
		if !ok || f.Trashed() {
			return 0, common.ErrorNotFound
		}
	}
	if err := checkTarget(idx, ids, parentID); err != nil {
		return 0, err
	}

	n, err := repo.MoveMany(ctx, ownerID, ids, parentID)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "folders moved", "owner_id", ownerID, "count", n, "parent_id", common.Deref(parentID))
	return n, nil
}

// SoftDelete trashes a folder and the live files directly inside it with one
// timestamp, in one transaction. Sub-folders are not touched.
func (s *FolderService) SoftDelete(ctx context.Context, ownerID, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	var trashedFiles int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Folders(tx)
		if _, err := live(ctx, repo, ownerID, id); err != nil {
			return err
		}
		at := s.now()
		if err := repo.SetDeletedAt(ctx, ownerID, id, &at); err != nil {
			return err
		}
		n, err := s.repomanager.Files(tx).TrashInFolder(ctx, ownerID, id, at)
		if err != nil {
			return err
		}
		trashedFiles = n
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "folder trashed", "owner_id", ownerID, "folder_id", id, "files", trashedFiles)
	return nil
}

// BatchSoftDelete is SoftDelete for several folders, all or nothing.
func (s *FolderService) BatchSoftDelete(ctx context.Context, ownerID string, ids []string) (int64, error) {
	ids, err := validateIDs(ids)
	if err != nil {
		return 0, err
	}

	var n int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Folders(tx)
		found, err := repo.GetMany(ctx, ownerID, ids)
		if err != nil {
			return err
		}
		if len(found) != len(ids) {
			return common.ErrorNotFound
		}
		for _, f := range found {
			if f.Trashed() {
				return common.ErrorNotFound
			}
		}

		at := s.now()
		if n, err = repo.SetDeletedAtMany(ctx, ownerID, ids, &at); err != nil {
			return err
		}
		fileRepo := s.repomanager.Files(tx)
		for _, id := range ids {
			if _, err := fileRepo.TrashInFolder(ctx, ownerID, id, at); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info(ctx, "folders trashed", "owner_id", ownerID, "count", n)
	return n, nil
}

// Restore takes a folder out of trash together with the files that were
// trashed along with it. Files trashed on their own stay in trash. If the
// parent is gone or still in trash the folder comes back at the root.
func (s *FolderService) Restore(ctx context.Context, ownerID, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	var toRoot bool
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Folders(tx)
		f, err := trashed(ctx, repo, ownerID, id)
		if err != nil {
			return err
		}

		if f.ParentID != nil {
			if _, err := live(ctx, repo, ownerID, *f.ParentID); err != nil {
				if !errors.Is(err, common.ErrorNotFound) {
					return err
				}
				toRoot = true
				if err := repo.UpdateParent(ctx, ownerID, id, nil); err != nil {
					return err
				}
			}
		}

		if err := repo.SetDeletedAt(ctx, ownerID, id, nil); err != nil {
			return err
		}
		_, err = s.repomanager.Files(tx).RestoreInFolder(ctx, ownerID, id, *f.DeletedAt)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "folder restored", "owner_id", ownerID, "folder_id", id, "to_root", toRoot)
	return nil
}

// PermanentDelete removes a trashed folder. Sub-folders and files go with it
// through the schema's cascades; their blobs are removed after commit.
func (s *FolderService) PermanentDelete(ctx context.Context, ownerID, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	var refs []string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Folders(tx)
		if _, err := trashed(ctx, repo, ownerID, id); err != nil {
			return err
		}
		idx, err := s.index(ctx, repo, ownerID)
		if err != nil {
			return err
		}
		if refs, err = s.repomanager.Files(tx).ContentRefsInFolders(ctx, ownerID, idx.subtree(id)); err != nil {
			return err
		}
		return repo.Delete(ctx, ownerID, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "folder purged", "owner_id", ownerID, "folder_id", id, "blobs", len(refs))
	removeBlobs(ctx, s.blobs, s.logger, refs)
	return nil
}

// ToggleFavorite flips the favorite flag of a live folder.
func (s *FolderService) ToggleFavorite(ctx context.Context, ownerID, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	repo := s.repomanager.Folders(s.db)
	if _, err := live(ctx, repo, ownerID, id); err != nil {
		return false, err
	}
	return repo.ToggleFavorite(ctx, ownerID, id)
}

func (s *FolderService) listDecrypted(ctx context.Context, ownerID string, filter models.FolderFilter) ([]*models.FolderView, error) {
	items, err := s.repomanager.Folders(s.db).List(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}
	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()
	return folderViews(ring, items), nil
}

func (s *FolderService) ListTrashed(ctx context.Context, ownerID string) ([]*models.FolderView, error) {
	return s.listDecrypted(ctx, ownerID, models.FolderFilter{Trashed: common.Ptr(true)})
}

func (s *FolderService) ListFavorites(ctx context.Context, ownerID string) ([]*models.FolderView, error) {
	return s.listDecrypted(ctx, ownerID, models.FolderFilter{Trashed: common.Ptr(false), Favorite: common.Ptr(true)})
}

// Search matches query against decrypted names of the owner's live folders.
func (s *FolderService) Search(ctx context.Context, ownerID, query string) ([]*models.FolderView, error) {
	q, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	all, err := s.listDecrypted(ctx, ownerID, models.FolderFilter{Trashed: common.Ptr(false)})
	if err != nil {
		return nil, err
	}
	out := make([]*models.FolderView, 0)
	for _, v := range all {
		if matches(v.Name, q) {
			out = append(out, v)
		}
	}
	return out, nil
}

func removeBlobs(ctx context.Context, blobs blobstore.Store, logger logging.Logger, refs []string) {
	for _, ref := range refs {
		if err := blobs.Delete(ctx, ref); err != nil {
			logger.Warn(ctx, "blob cleanup failed", "ref", ref, "error", err)
		}
	}
}
