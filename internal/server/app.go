// Package server wires configuration, the Postgres store, the blob store and
// the hierarchy services into one App.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/blobstore"
	"github.com/dmitrijs2005/gophdrive/internal/server/config"
	"github.com/dmitrijs2005/gophdrive/internal/server/keys"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophdrive/internal/server/services"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	repomanager repomanager.RepositoryManager

	Drive  *services.Drive
	Owners *services.Owners
}

// Seams for tests.
var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newBlobStore = func(ctx context.Context, opts blobstore.Options) (blobstore.Store, error) {
		return blobstore.NewS3Store(ctx, opts)
	}
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
)

// NewApp opens the database and the blob store and builds the services.
// cfg.SessionKey must be set by now; the caller prompts for it if needed.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if cfg.SessionKey == "" {
		return nil, fmt.Errorf("%w: session key is not set", common.ErrorValidation)
	}

	db, err := openDB(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	blobs, err := newBlobStore(ctx, blobstore.Options{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
		AccessKey:    cfg.S3RootUser,
		SecretKey:    cfg.S3RootPassword,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	m := newRepositoryManager()
	serverKey := keys.ServerKey(cfg.SessionKey, cfg.SessionSalt)
	resolver := keys.NewResolver(keys.NewUserSessionProvider(m.Users(db), serverKey))

	return &App{
		config:      cfg,
		logger:      logger,
		db:          db,
		repomanager: m,
		Drive:       services.NewDrive(db, m, resolver, blobs, logger, cfg),
		Owners:      services.NewOwners(db, m, serverKey, logger, cfg),
	}, nil
}

// Migrate brings the schema up to date.
func (a *App) Migrate(ctx context.Context) error {
	if err := a.repomanager.RunMigrations(ctx, a.db); err != nil {
		return err
	}
	a.logger.Info(ctx, "schema migrated")
	return nil
}

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			cancelFunc()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// Run calls fn with a context that is cancelled on SIGINT/SIGTERM/SIGQUIT or
// when the configured operation timeout runs out.
func (a *App) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancelFunc := context.WithTimeout(ctx, a.config.OperationTimeout)
	defer cancelFunc()

	stop := a.initSignalHandler(cancelFunc)
	defer stop()

	if err := fn(ctx); err != nil {
		a.logger.Error(ctx, "command failed", "error", err)
		return err
	}
	return nil
}

func (a *App) Close() error {
	return a.db.Close()
}
