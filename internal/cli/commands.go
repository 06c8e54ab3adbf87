package cli

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/dmitrijs2005/gophdrive/internal/filex"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/services"
)

var usage = map[string]string{
	"migrate":   "migrate",
	"useradd":   "useradd <username>",
	"token":     "token <owner-id>",
	"tree":      "tree",
	"ls":        "ls [folder-id]",
	"lsall":     "lsall [folder-id]",
	"path":      "path <folder-id>",
	"mkdir":     "mkdir <name> [parent-id]",
	"mv":        "mv <id>... <folder-id|->",
	"rename":    "rename <id> <name>",
	"rm":        "rm <id>...",
	"restore":   "restore <id>",
	"purge":     "purge <id>",
	"trash":     "trash",
	"fav":       "fav <id>",
	"favorites": "favorites",
	"search":    "search <query>",
	"reseal":    "reseal",
	"upload":    "upload <path> [folder-id]",
	"download":  "download <id> <path>",
	"url":       "url <id>",
}

type status struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	Count  int64  `json:"count,omitempty"`
}

// Execute runs the command named in args.
func (a *App) Execute(ctx context.Context, args []string) error {
	o, err := parseOptions(args)
	if err != nil {
		return err
	}
	if _, ok := usage[o.command]; !ok {
		return fmt.Errorf("%w: unknown command %q", ErrUsage, o.command)
	}

	switch o.command {
	case "migrate":
		if err := need(o, 0, 0); err != nil {
			return err
		}
		if err := a.migrator.Migrate(ctx); err != nil {
			return err
		}
		return a.print(status{Status: "migrated"})
	case "useradd":
		if err := need(o, 1, 1); err != nil {
			return err
		}
		v, err := a.owners.Provision(ctx, o.args[0])
		if err != nil {
			return err
		}
		return a.print(v)
	case "token":
		if err := need(o, 1, 1); err != nil {
			return err
		}
		token, err := a.owners.IssueToken(ctx, o.args[0])
		if err != nil {
			return err
		}
		return a.print(map[string]string{"token": token})
	}

	owner, err := a.ownerID(o)
	if err != nil {
		return err
	}
	return a.run(ctx, owner, o)
}

func (a *App) run(ctx context.Context, owner string, o *options) error {
	switch o.command {
	case "tree":
		if err := need(o, 0, 0); err != nil {
			return err
		}
		nodes, err := a.folders.Tree(ctx, owner)
		if err != nil {
			return err
		}
		return a.print(nodes)

	case "ls":
		if err := need(o, 0, 1); err != nil {
			return err
		}
		c, err := a.folders.Contents(ctx, owner, optionalArg(o.args, 0))
		if err != nil {
			return err
		}
		return a.print(c)

	case "lsall":
		if err := need(o, 0, 1); err != nil {
			return err
		}
		return a.listAll(ctx, owner, optionalArg(o.args, 0))

	case "path":
		if err := need(o, 1, 1); err != nil {
			return err
		}
		p, err := a.folders.Path(ctx, owner, o.args[0])
		if err != nil {
			return err
		}
		return a.print(p)

	case "mkdir":
		if err := need(o, 1, 2); err != nil {
			return err
		}
		v, err := a.folders.Create(ctx, owner, services.CreateFolderInput{Name: o.args[0], ParentID: optionalArg(o.args, 1)})
		if err != nil {
			return err
		}
		return a.print(v)

	case "mv":
		if err := need(o, 2, -1); err != nil {
			return err
		}
		return a.move(ctx, owner, o.args[:len(o.args)-1], target(o.args[len(o.args)-1]))

	case "rename":
		if err := need(o, 2, 2); err != nil {
			return err
		}
		return a.rename(ctx, owner, o.args[0], o.args[1])

	case "rm":
		if err := need(o, 1, -1); err != nil {
			return err
		}
		return a.remove(ctx, owner, o.args)

	case "restore":
		if err := need(o, 1, 1); err != nil {
			return err
		}
		id := o.args[0]
		err := eitherKind(
			func() error { return a.folders.Restore(ctx, owner, id) },
			func() error { return a.files.Restore(ctx, owner, id) },
		)
		if err != nil {
			return err
		}
		return a.print(status{Status: "restored", ID: id})

	case "purge":
		if err := need(o, 1, 1); err != nil {
			return err
		}
		id := o.args[0]
		err := eitherKind(
			func() error { return a.folders.PermanentDelete(ctx, owner, id) },
			func() error { return a.files.PermanentDelete(ctx, owner, id) },
		)
		if err != nil {
			return err
		}
		return a.print(status{Status: "purged", ID: id})

	case "trash":
		if err := need(o, 0, 0); err != nil {
			return err
		}
		c, err := a.drive.Trash(ctx, owner)
		if err != nil {
			return err
		}
		return a.print(c)

	case "fav":
		if err := need(o, 1, 1); err != nil {
			return err
		}
		return a.toggleFavorite(ctx, owner, o.args[0])

	case "favorites":
		if err := need(o, 0, 0); err != nil {
			return err
		}
		c, err := a.drive.Favorites(ctx, owner)
		if err != nil {
			return err
		}
		return a.print(c)

	case "search":
		if err := need(o, 1, 1); err != nil {
			return err
		}
		res, err := a.drive.Search(ctx, owner, o.args[0])
		if err != nil {
			return err
		}
		return a.print(res)

	case "reseal":
		if err := need(o, 0, 0); err != nil {
			return err
		}
		report, err := a.resealer.ResealNames(ctx, owner)
		if err != nil {
			return err
		}
		return a.print(report)

	case "upload":
		if err := need(o, 1, 2); err != nil {
			return err
		}
		return a.upload(ctx, owner, o.args[0], optionalArg(o.args, 1), o.mime)

	case "download":
		if err := need(o, 2, 2); err != nil {
			return err
		}
		return a.download(ctx, owner, o.args[0], o.args[1])

	case "url":
		if err := need(o, 1, 1); err != nil {
			return err
		}
		url, err := a.files.DownloadURL(ctx, owner, o.args[0], o.ttl)
		if err != nil {
			return err
		}
		return a.print(map[string]string{"url": url})
	}

	return fmt.Errorf("%w: unknown command %q", ErrUsage, o.command)
}

func (a *App) listAll(ctx context.Context, owner string, folderID *string) error {
	fs, err := a.folders.List(ctx, owner, folderID, true)
	if err != nil {
		return err
	}
	items, err := a.files.List(ctx, owner, folderID, true)
	if err != nil {
		return err
	}
	return a.print(&models.Contents{Folders: fs, Files: items})
}

func (a *App) move(ctx context.Context, owner string, ids []string, dest *string) error {
	if len(ids) == 1 {
		id := ids[0]
		err := eitherKind(
			func() error { return a.folders.Move(ctx, owner, id, dest) },
			func() error { return a.files.Move(ctx, owner, id, dest) },
		)
		if err != nil {
			return err
		}
		return a.print(status{Status: "moved", ID: id})
	}

	var n int64
	err := eitherKind(
		func() (err error) { n, err = a.folders.BatchMove(ctx, owner, ids, dest); return err },
		func() (err error) { n, err = a.files.BatchMove(ctx, owner, ids, dest); return err },
	)
	if err != nil {
		return err
	}
	return a.print(status{Status: "moved", Count: n})
}

func (a *App) rename(ctx context.Context, owner, id, name string) error {
	var out any
	err := eitherKind(
		func() error {
			v, err := a.folders.Rename(ctx, owner, id, name)
			out = v
			return err
		},
		func() error {
			v, err := a.files.Rename(ctx, owner, id, name)
			out = v
			return err
		},
	)
	if err != nil {
		return err
	}
	return a.print(out)
}

func (a *App) remove(ctx context.Context, owner string, ids []string) error {
	if len(ids) == 1 {
		id := ids[0]
		err := eitherKind(
			func() error { return a.folders.SoftDelete(ctx, owner, id) },
			func() error { return a.files.SoftDelete(ctx, owner, id) },
		)
		if err != nil {
			return err
		}
		return a.print(status{Status: "trashed", ID: id})
	}

	var n int64
	err := eitherKind(
		func() (err error) { n, err = a.folders.BatchSoftDelete(ctx, owner, ids); return err },
		func() (err error) { n, err = a.files.BatchSoftDelete(ctx, owner, ids); return err },
	)
	if err != nil {
		return err
	}
	return a.print(status{Status: "trashed", Count: n})
}

func (a *App) toggleFavorite(ctx context.Context, owner, id string) error {
	var fav bool
	err := eitherKind(
		func() (err error) { fav, err = a.folders.ToggleFavorite(ctx, owner, id); return err },
		func() (err error) { fav, err = a.files.ToggleFavorite(ctx, owner, id); return err },
	)
	if err != nil {
		return err
	}
	return a.print(map[string]any{"id": id, "favorite": fav})
}

func (a *App) upload(ctx context.Context, owner, path string, folderID *string, contentType string) error {
	f, size, err := filex.OpenRegular(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	v, err := a.files.Upload(ctx, owner, services.UploadInput{
		Name:     filepath.Base(path),
		FolderID: folderID,
		Size:     uint64(size),
		MimeType: contentType,
	}, f)
	if err != nil {
		return err
	}
	return a.print(v)
}

func (a *App) download(ctx context.Context, owner, id, path string) error {
	meta, rc, err := a.files.Open(ctx, owner, id)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := filex.WriteFile(path, rc); err != nil {
		return err
	}
	return a.print(meta)
}
