package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/blobstore"
	"github.com/dmitrijs2005/gophdrive/internal/server/keys"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
)

// CreateFileInput registers metadata for content that already sits in the
// blob store under ContentRef.
type CreateFileInput struct {
	Name       string
	FolderID   *string `validate:"omitempty,uuid"`
	Size       uint64  `validate:"lte=9223372036854775807"`
	MimeType   string  `validate:"omitempty,max=255"`
	ContentRef string  `validate:"required,max=1024"`
}

// UploadInput describes content passed to Upload. Size may be zero when
// unknown.
type UploadInput struct {
	Name     string
	FolderID *string `validate:"omitempty,uuid"`
	Size     uint64  `validate:"lte=9223372036854775807"`
	MimeType string  `validate:"omitempty,max=255"`
}

type FileService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	keys        KeySource
	blobs       blobstore.Store
	logger      logging.Logger
	now         func() time.Time
}

func NewFileService(db *sql.DB, m repomanager.RepositoryManager, ks KeySource, blobs blobstore.Store, logger logging.Logger) *FileService {
	return &FileService{
		db:          db,
		repomanager: m,
		keys:        ks,
		blobs:       blobs,
		logger:      logger,
		now:         stamp,
	}
}

func liveFile(ctx context.Context, repo files.Repository, ownerID, id string) (*models.File, error) {
	f, err := repo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if f.Trashed() {
		return nil, common.ErrorNotFound
	}
	return f, nil
}

func trashedFile(ctx context.Context, repo files.Repository, ownerID, id string) (*models.File, error) {
	f, err := repo.GetByID(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if !f.Trashed() {
		return nil, common.ErrorNotFound
	}
	return f, nil
}

// checkFolder verifies that folderID, if set, is a live folder of the owner.
func (s *FileService) checkFolder(ctx context.Context, db dbx.DBTX, ownerID string, folderID *string) error {
	if folderID == nil {
		return nil
	}
	_, err := live(ctx, s.repomanager.Folders(db), ownerID, *folderID)
	return err
}

// List returns files directly inside folderID, or at the root when nil.
func (s *FileService) List(ctx context.Context, ownerID string, folderID *string, includeTrashed bool) ([]*models.FileView, error) {
	if err := validateOptionalID(folderID); err != nil {
		return nil, err
	}
	if folderID != nil {
		f, err := s.repomanager.Folders(s.db).GetByID(ctx, ownerID, *folderID)
		if err != nil {
			return nil, err
		}
		if f.Trashed() && !includeTrashed {
			return nil, common.ErrorNotFound
		}
	}

	filter := models.FileFilter{FolderID: folderID, Root: folderID == nil}
	if !includeTrashed {
		filter.Trashed = common.Ptr(false)
	}
	return s.listDecrypted(ctx, ownerID, filter)
}

func (s *FileService) insert(ctx context.Context, ownerID string, ring *keys.KeyRing, name string, f *models.File) (*models.FileView, error) {
	token, err := ring.Seal(name)
	if err != nil {
		return nil, err
	}
	f.ID = newID()
	f.OwnerID = ownerID
	f.Name = token
	if f.MimeType == "" {
		f.MimeType = defaultMimeType
	}
	if err := s.repomanager.Files(s.db).Create(ctx, f); err != nil {
		return nil, err
	}
	return fileView(ring, f), nil
}

// Create registers a file whose content is already stored.
func (s *FileService) Create(ctx context.Context, ownerID string, in CreateFileInput) (*models.FileView, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, formatValidationError(err)
	}
	if err := s.checkFolder(ctx, s.db, ownerID, in.FolderID); err != nil {
		return nil, err
	}

	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()

	v, err := s.insert(ctx, ownerID, ring, name, &models.File{
		FolderID:   in.FolderID,
		Size:       in.Size,
		MimeType:   in.MimeType,
		ContentRef: in.ContentRef,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "file created", "owner_id", ownerID, "file_id", v.ID)
	return v, nil
}

// Upload stores body in the blob store and then records the file. If the
// row cannot be written the blob is removed again.
func (s *FileService) Upload(ctx context.Context, ownerID string, in UploadInput, body io.Reader) (*models.FileView, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, formatValidationError(err)
	}
	if err := s.checkFolder(ctx, s.db, ownerID, in.FolderID); err != nil {
		return nil, err
	}

	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()

	mime := in.MimeType
	if mime == "" {
		mime = defaultMimeType
	}
	body, size, err := measure(body, in.Size)
	if err != nil {
		return nil, err
	}
	ref, err := s.blobs.Put(ctx, ownerID, body, int64(size), mime)
	if err != nil {
		return nil, err
	}
	if c, ok := body.(*countingReader); ok {
		size = uint64(c.n)
	}

	v, err := s.insert(ctx, ownerID, ring, name, &models.File{
		FolderID:   in.FolderID,
		Size:       size,
		MimeType:   mime,
		ContentRef: ref,
	})
	if err != nil {
		removeBlobs(ctx, s.blobs, s.logger, []string{ref})
		return nil, err
	}
	s.logger.Info(ctx, "file uploaded", "owner_id", ownerID, "file_id", v.ID, "size", v.Size)
	return v, nil
}

// measure takes the size of seekable bodies from the body itself. Other
// bodies are counted while they are read.
func measure(body io.Reader, declared uint64) (io.Reader, uint64, error) {
	rs, ok := body.(io.ReadSeeker)
	if !ok {
		return &countingReader{r: body}, declared, nil
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("measure body: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("measure body: %w", err)
	}
	return rs, uint64(end), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Open returns the metadata of a live file and a reader over its content.
// The caller closes the reader.
func (s *FileService) Open(ctx context.Context, ownerID, id string) (*models.FileView, io.ReadCloser, error) {
	if err := validateID(id); err != nil {
		return nil, nil, err
	}
	f, err := liveFile(ctx, s.repomanager.Files(s.db), ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	if f.ContentRef == "" {
		return nil, nil, common.ErrorNotFound
	}

	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}
	defer ring.Wipe()

	rc, err := s.blobs.Get(ctx, f.ContentRef)
	if err != nil {
		return nil, nil, err
	}
	return fileView(ring, f), rc, nil
}

// DownloadURL returns a presigned URL for the content of a live file.
func (s *FileService) DownloadURL(ctx context.Context, ownerID, id string, ttl time.Duration) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	f, err := liveFile(ctx, s.repomanager.Files(s.db), ownerID, id)
	if err != nil {
		return "", err
	}
	if f.ContentRef == "" {
		return "", common.ErrorNotFound
	}
	return s.blobs.PresignGet(ctx, f.ContentRef, ttl)
}

func (s *FileService) Rename(ctx context.Context, ownerID, id, newName string) (*models.FileView, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	name, err := normalizeName(newName)
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Files(s.db)
	f, err := liveFile(ctx, repo, ownerID, id)
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

	s.logger.Info(ctx, "file renamed", "owner_id", ownerID, "file_id", id)
	return fileView(ring, f), nil
}

// Move puts a live file into a live folder, or at the root when folderID is nil.
func (s *FileService) Move(ctx context.Context, ownerID, id string, folderID *string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := validateOptionalID(folderID); err != nil {
		return err
	}

	repo := s.repomanager.Files(s.db)
	if _, err := liveFile(ctx, repo, ownerID, id); err != nil {
		return err
	}
	if err := s.checkFolder(ctx, s.db, ownerID, folderID); err != nil {
		return err
	}
	if err := repo.UpdateFolder(ctx, ownerID, id, folderID); err != nil {
		return err
	}

	s.logger.Info(ctx, "file moved", "owner_id", ownerID, "file_id", id, "folder_id", common.Deref(folderID))
	return nil
}

// BatchMove moves several live files in one statement, all or nothing on
// validation.
func (s *FileService) BatchMove(ctx context.Context, ownerID string, ids []string, folderID *string) (int64, error) {
	ids, err := validateIDs(ids)
	if err != nil {
		return 0, err
	}
	if err := validateOptionalID(folderID); err != nil {
		return 0, err
	}

	repo := s.repomanager.Files(s.db)
	if err := s.allLive(ctx, repo, ownerID, ids); err != nil {
		return 0, err
	}
	if err := s.checkFolder(ctx, s.db, ownerID, folderID); err != nil {
		return 0, err
	}

	n, err := repo.MoveMany(ctx, ownerID, ids, folderID)
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "files moved", "owner_id", ownerID, "count", n, "folder_id", common.Deref(folderID))
	return n, nil
}

func (s *FileService) allLive(ctx context.Context, repo files.Repository, ownerID string, ids []string) error {
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
	return nil
}

func (s *FileService) SoftDelete(ctx context.Context, ownerID, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	repo := s.repomanager.Files(s.db)
	if _, err := liveFile(ctx, repo, ownerID, id); err != nil {
		return err
	}
	at := s.now()
	if err := repo.SetDeletedAt(ctx, ownerID, id, &at); err != nil {
		return err
	}
	s.logger.Info(ctx, "file trashed", "owner_id", ownerID, "file_id", id)
	return nil
}

func (s *FileService) BatchSoftDelete(ctx context.Context, ownerID string, ids []string) (int64, error) {
	ids, err := validateIDs(ids)
	if err != nil {
		return 0, err
	}

	var n int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)
		if err := s.allLive(ctx, repo, ownerID, ids); err != nil {
			return err
		}
		at := s.now()
		n, err = repo.SetDeletedAtMany(ctx, ownerID, ids, &at)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info(ctx, "files trashed", "owner_id", ownerID, "count", n)
	return n, nil
}

// Restore takes a file out of trash. If its folder is gone or in trash the
// file comes back at the root.
func (s *FileService) Restore(ctx context.Context, ownerID, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	var toRoot bool
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)
		f, err := trashedFile(ctx, repo, ownerID, id)
		if err != nil {
			return err
		}
		if err := s.checkFolder(ctx, tx, ownerID, f.FolderID); err != nil {
			if !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			toRoot = true
			if err := repo.UpdateFolder(ctx, ownerID, id, nil); err != nil {
				return err
			}
		}
		return repo.SetDeletedAt(ctx, ownerID, id, nil)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "file restored", "owner_id", ownerID, "file_id", id, "to_root", toRoot)
	return nil
}

// PermanentDelete removes a trashed file and then its blob.
func (s *FileService) PermanentDelete(ctx context.Context, ownerID, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	repo := s.repomanager.Files(s.db)
	f, err := trashedFile(ctx, repo, ownerID, id)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, ownerID, id); err != nil {
		return err
	}

	s.logger.Info(ctx, "file purged", "owner_id", ownerID, "file_id", id)
	if f.ContentRef != "" {
		removeBlobs(ctx, s.blobs, s.logger, []string{f.ContentRef})
	}
	return nil
}

func (s *FileService) ToggleFavorite(ctx context.Context, ownerID, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	repo := s.repomanager.Files(s.db)
	if _, err := liveFile(ctx, repo, ownerID, id); err != nil {
		return false, err
	}
	return repo.ToggleFavorite(ctx, ownerID, id)
}

func (s *FileService) listDecrypted(ctx context.Context, ownerID string, filter models.FileFilter) ([]*models.FileView, error) {
	items, err := s.repomanager.Files(s.db).List(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}
	ring, err := s.keys.KeyRing(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer ring.Wipe()
	return fileViews(ring, items), nil
}

func (s *FileService) ListTrashed(ctx context.Context, ownerID string) ([]*models.FileView, error) {
	return s.listDecrypted(ctx, ownerID, models.FileFilter{Trashed: common.Ptr(true)})
}

func (s *FileService) ListFavorites(ctx context.Context, ownerID string) ([]*models.FileView, error) {
	return s.listDecrypted(ctx, ownerID, models.FileFilter{Trashed: common.Ptr(false), Favorite: common.Ptr(true)})
}

// Search matches query against decrypted names of the owner's live files.
func (s *FileService) Search(ctx context.Context, ownerID, query string) ([]*models.FileView, error) {
	q, err := normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	all, err := s.listDecrypted(ctx, ownerID, models.FileFilter{Trashed: common.Ptr(false)})
	if err != nil {
		return nil, err
	}
	out := make([]*models.FileView, 0)
	for _, v := range all {
		if matches(v.Name, q) {
			out = append(out, v)
		}
	}
	return out, nil
}
