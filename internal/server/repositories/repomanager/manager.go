package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/folders"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to either the pool or a
// transaction, so services decide the transactional scope.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Folders(db dbx.DBTX) folders.Repository
	Files(db dbx.DBTX) files.Repository
}
