// Package services implements the folder and file hierarchy: creation,
// rename, move with cycle checks, trash and restore, purge, favorites,
// search and tree assembly. Names are stored encrypted and only ever
// handled in plaintext inside a single call.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/server/keys"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// KeySource yields an owner's key ring for one operation.
type KeySource interface {
	KeyRing(ctx context.Context, ownerID string) (*keys.KeyRing, error)
}

const (
	maxNameLength = 255
	maxBatchSize  = 1000

	defaultMimeType = "application/octet-stream"
)

var validate = validator.New()

// timestamps are compared for equality after a round trip through
// timestamptz, which keeps microseconds.
func stamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newID() string {
	return uuid.NewString()
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		field := e.Field()
		if field == "" {
			field = "value"
		}
		return fmt.Errorf("%w: %s failed on '%s'", common.ErrorValidation, field, e.Tag())
	}
	return fmt.Errorf("%w: %v", common.ErrorValidation, err)
}

func validateID(id string) error {
	if err := validate.Var(id, "required,uuid"); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func validateOptionalID(id *string) error {
	if id == nil {
		return nil
	}
	return validateID(*id)
}

// validateIDs checks a batch and returns it without duplicates, order kept.
func validateIDs(ids []string) ([]string, error) {
	if err := validate.Var(ids, fmt.Sprintf("required,min=1,max=%d,dive,required,uuid", maxBatchSize)); err != nil {
		return nil, formatValidationError(err)
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := validate.Var(name, fmt.Sprintf("required,max=%d,excludes=/", maxNameLength)); err != nil {
		return "", formatValidationError(err)
	}
	return name, nil
}

func folderView(ring *keys.KeyRing, f *models.Folder) *models.FolderView {
	return &models.FolderView{
		ID:         f.ID,
		Name:       ring.Open(f.Name),
		ParentID:   f.ParentID,
		IsFavorite: f.IsFavorite,
		DeletedAt:  f.DeletedAt,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
}

func folderViews(ring *keys.KeyRing, in []*models.Folder) []*models.FolderView {
	out := make([]*models.FolderView, 0, len(in))
	for _, f := range in {
		out = append(out, folderView(ring, f))
	}
	return out
}

func fileView(ring *keys.KeyRing, f *models.File) *models.FileView {
	return &models.FileView{
		ID:         f.ID,
		Name:       ring.Open(f.Name),
		FolderID:   f.FolderID,
		Size:       f.Size,
		MimeType:   f.MimeType,
		IsFavorite: f.IsFavorite,
		DeletedAt:  f.DeletedAt,
		CreatedAt:  f.CreatedAt,
		UpdatedAt:  f.UpdatedAt,
	}
}

func fileViews(ring *keys.KeyRing, in []*models.File) []*models.FileView {
	out := make([]*models.FileView, 0, len(in))
	for _, f := range in {
		out = append(out, fileView(ring, f))
	}
	return out
}

// matches is a case-insensitive substring test on decrypted names.
func matches(name, query string) bool {
	return strings.Contains(strings.ToLower(name), query)
}

func normalizeQuery(query string) (string, error) {
	query = strings.TrimSpace(query)
	if err := validate.Var(query, fmt.Sprintf("required,max=%d", maxNameLength)); err != nil {
		return "", formatValidationError(err)
	}
	return strings.ToLower(query), nil
}
