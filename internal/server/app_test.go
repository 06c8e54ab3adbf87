package server

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/blobstore"
	"github.com/dmitrijs2005/gophdrive/internal/server/config"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBlobs struct{ blobstore.Store }

type fakeUsers struct{ users.Repository }

type fakeManager struct {
	repomanager.RepositoryManager
	migrated int
	err      error
	usersOn  []dbx.DBTX
}

func (m *fakeManager) Users(db dbx.DBTX) users.Repository {
	m.usersOn = append(m.usersOn, db)
	return fakeUsers{}
}

func (m *fakeManager) RunMigrations(context.Context, *sql.DB) error {
	m.migrated++
	return m.err
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SessionKey = "passphrase"
	return cfg
}

func stubSeams(t *testing.T, m *fakeManager) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	oldOpen, oldBlobs, oldManager := openDB, newBlobStore, newRepositoryManager
	t.Cleanup(func() {
		openDB, newBlobStore, newRepositoryManager = oldOpen, oldBlobs, oldManager
		_ = db.Close()
	})

	openDB = func(string) (*sql.DB, error) { return db, nil }
	newBlobStore = func(context.Context, blobstore.Options) (blobstore.Store, error) { return fakeBlobs{}, nil }
	newRepositoryManager = func() repomanager.RepositoryManager { return m }
	return mock
}

func TestNewApp(t *testing.T) {
	m := &fakeManager{}
	stubSeams(t, m)

	app, err := NewApp(context.Background(), testConfig(), logging.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, app.Drive)
	assert.NotNil(t, app.Owners)

	require.Len(t, m.usersOn, 1, "key resolver reads users through the pool")
	assert.Same(t, app.db, m.usersOn[0])

	require.NoError(t, app.Migrate(context.Background()))
	assert.Equal(t, 1, m.migrated)
}

func TestNewApp_RequiresSessionKey(t *testing.T) {
	cfg := testConfig()
	cfg.SessionKey = ""

	_, err := NewApp(context.Background(), cfg, logging.NewNop())
	assert.ErrorIs(t, err, common.ErrorValidation)
}

func TestNewApp_OpenError(t *testing.T) {
	stubSeams(t, &fakeManager{})
	openDB = func(string) (*sql.DB, error) { return nil, errors.New("bad dsn") }

	_, err := NewApp(context.Background(), testConfig(), logging.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db open error")
}

func TestNewApp_BlobStoreErrorClosesDB(t *testing.T) {
	mock := stubSeams(t, &fakeManager{})
	newBlobStore = func(context.Context, blobstore.Options) (blobstore.Store, error) {
		return nil, errors.New("no credentials")
	}
	mock.ExpectClose()

	_, err := NewApp(context.Background(), testConfig(), logging.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob store init error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_Error(t *testing.T) {
	stubSeams(t, &fakeManager{err: errors.New("boom")})

	app, err := NewApp(context.Background(), testConfig(), logging.NewNop())
	require.NoError(t, err)
	assert.Error(t, app.Migrate(context.Background()))
}

func TestRun_AppliesTimeout(t *testing.T) {
	stubSeams(t, &fakeManager{})
	cfg := testConfig()
	cfg.OperationTimeout = time.Minute

	app, err := NewApp(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)

	var deadline time.Time
	err = app.Run(context.Background(), func(ctx context.Context) error {
		var ok bool
		deadline, ok = ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	want := errors.New("failed")
	assert.ErrorIs(t, app.Run(context.Background(), func(context.Context) error { return want }), want)
}
