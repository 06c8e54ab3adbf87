package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/flagx"
	"github.com/dmitrijs2005/gophdrive/internal/server"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/services"
	"github.com/google/uuid"
)

type FolderService interface {
	List(ctx context.Context, ownerID string, parentID *string, includeTrashed bool) ([]*models.FolderView, error)
	Contents(ctx context.Context, ownerID string, folderID *string) (*models.Contents, error)
	Tree(ctx context.Context, ownerID string) ([]*models.TreeNode, error)
	Path(ctx context.Context, ownerID, id string) ([]*models.FolderView, error)
	Create(ctx context.Context, ownerID string, in services.CreateFolderInput) (*models.FolderView, error)
	Rename(ctx context.Context, ownerID, id, newName string) (*models.FolderView, error)
	Move(ctx context.Context, ownerID, id string, parentID *string) error
	BatchMove(ctx context.Context, ownerID string, ids []string, parentID *string) (int64, error)
	SoftDelete(ctx context.Context, ownerID, id string) error
	BatchSoftDelete(ctx context.Context, ownerID string, ids []string) (int64, error)
	Restore(ctx context.Context, ownerID, id string) error
	PermanentDelete(ctx context.Context, ownerID, id string) error
	ToggleFavorite(ctx context.Context, ownerID, id string) (bool, error)
}

type FileService interface {
	List(ctx context.Context, ownerID string, folderID *string, includeTrashed bool) ([]*models.FileView, error)
	Upload(ctx context.Context, ownerID string, in services.UploadInput, body io.Reader) (*models.FileView, error)
	Open(ctx context.Context, ownerID, id string) (*models.FileView, io.ReadCloser, error)
	DownloadURL(ctx context.Context, ownerID, id string, ttl time.Duration) (string, error)
	Rename(ctx context.Context, ownerID, id, newName string) (*models.FileView, error)
	Move(ctx context.Context, ownerID, id string, folderID *string) error
	BatchMove(ctx context.Context, ownerID string, ids []string, folderID *string) (int64, error)
	SoftDelete(ctx context.Context, ownerID, id string) error
	BatchSoftDelete(ctx context.Context, ownerID string, ids []string) (int64, error)
	Restore(ctx context.Context, ownerID, id string) error
	PermanentDelete(ctx context.Context, ownerID, id string) error
	ToggleFavorite(ctx context.Context, ownerID, id string) (bool, error)
}

type DriveService interface {
	Search(ctx context.Context, ownerID, query string) (*models.SearchResult, error)
	Trash(ctx context.Context, ownerID string) (*models.Contents, error)
	Favorites(ctx context.Context, ownerID string) (*models.Contents, error)
}

type OwnerService interface {
	Provision(ctx context.Context, userName string) (*services.OwnerView, error)
	IssueToken(ctx context.Context, ownerID string) (string, error)
	OwnerFromToken(token string) (string, error)
}

type Resealer interface {
	ResealNames(ctx context.Context, ownerID string) (*services.ResealReport, error)
}

type Migrator interface {
	Migrate(ctx context.Context) error
}

// App dispatches one vaultctl invocation.
type App struct {
	folders  FolderService
	files    FileService
	drive    DriveService
	owners   OwnerService
	resealer Resealer
	migrator Migrator
	out      io.Writer
}

func NewApp(srv *server.App, out io.Writer) *App {
	return &App{
		folders:  srv.Drive.Folders,
		files:    srv.Drive.Files,
		drive:    srv.Drive,
		owners:   srv.Owners,
		resealer: srv.Drive.Migration,
		migrator: srv,
		out:      out,
	}
}

// ErrUsage is returned for unknown commands and wrong argument counts.
var ErrUsage = errors.New("usage")

var knownFlags = []string{"-token", "-owner", "-ttl", "-type"}

type options struct {
	token   string
	owner   string
	ttl     time.Duration
	mime    string
	command string
	args    []string
}

func parseOptions(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("vaultctl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.token, "token", "", "owner token")
	fs.StringVar(&o.owner, "owner", "", "owner id")
	fs.DurationVar(&o.ttl, "ttl", 15*time.Minute, "presigned URL lifetime")
	fs.StringVar(&o.mime, "type", "", "upload: content type")
	if err := fs.Parse(flagx.FilterArgs(args, knownFlags)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	pos := flagx.Positional(args)
	if len(pos) == 0 {
		return nil, fmt.Errorf("%w: no command", ErrUsage)
	}
	o.command, o.args = pos[0], pos[1:]
	return o, nil
}

// ownerID resolves the acting owner from -token, falling back to -owner.
func (a *App) ownerID(o *options) (string, error) {
	id := o.owner
	switch {
	case o.token != "":
		var err error
		if id, err = a.owners.OwnerFromToken(o.token); err != nil {
			return "", err
		}
	case o.owner == "":
		return "", fmt.Errorf("%w: -token or -owner is required", ErrUsage)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: owner id %q is not a uuid", common.ErrorValidation, id)
	}
	return id, nil
}

func (a *App) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// eitherKind runs the folder variant and falls back to the file variant
// when no live folder matches.
func eitherKind(folderFn, fileFn func() error) error {
	err := folderFn()
	if errors.Is(err, common.ErrorNotFound) {
		return fileFn()
	}
	return err
}

// target parses a destination argument: "-" means the root.
func target(arg string) *string {
	if arg == "-" {
		return nil
	}
	return &arg
}

func optionalArg(args []string, i int) *string {
	if len(args) <= i {
		return nil
	}
	return target(args[i])
}

func need(o *options, lo, hi int) error {
	if len(o.args) < lo || (hi >= 0 && len(o.args) > hi) {
		return fmt.Errorf("%w: %s", ErrUsage, usage[o.command])
	}
	return nil
}
