package services

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/dmitrijs2005/gophdrive/internal/dbx"
	"github.com/dmitrijs2005/gophdrive/internal/logging"
	"github.com/dmitrijs2005/gophdrive/internal/server/config"
	"github.com/dmitrijs2005/gophdrive/internal/server/keys"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/folders"
	"github.com/dmitrijs2005/gophdrive/internal/server/repositories/users"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory stand-in for the Postgres schema, including the
// ON DELETE CASCADE behaviour of folders.
type memStore struct {
	mu      sync.Mutex
	folders map[string]*models.Folder
	files   map[string]*models.File
	seq     int
	fail    map[string]error

	snap   *memSnapshot
	writes []memWrite
}

// memSnapshot is the state at Begin, put back on Rollback.
type memSnapshot struct {
	folders map[string]*models.Folder
	files   map[string]*models.File
	seq     int
}

// memWrite is one mutating repository call and whether it ran on a *sql.Tx.
type memWrite struct {
	op   string
	inTx bool
}

func newMemStore() *memStore {
	return &memStore{
		folders: map[string]*models.Folder{},
		files:   map[string]*models.File{},
		fail:    map[string]error{},
	}
}

func (m *memStore) failure(op string) error {
	return m.fail[op]
}

func (m *memStore) record(op string, h dbx.DBTX) {
	_, inTx := h.(*sql.Tx)
	m.writes = append(m.writes, memWrite{op: op, inTx: inTx})
}

func (m *memStore) begin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &memSnapshot{
		folders: make(map[string]*models.Folder, len(m.folders)),
		files:   make(map[string]*models.File, len(m.files)),
		seq:     m.seq,
	}
	for id, f := range m.folders {
		snap.folders[id] = copyFolder(f)
	}
	for id, f := range m.files {
		snap.files[id] = copyFile(f)
	}
	m.snap = snap
}

func (m *memStore) end(commit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !commit && m.snap != nil {
		m.folders, m.files, m.seq = m.snap.folders, m.snap.files, m.snap.seq
	}
	m.snap = nil
}

func (m *memStore) tick() time.Time {
	m.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Millisecond)
}

func copyFolder(f *models.Folder) *models.Folder {
	c := *f
	return &c
}

func copyFile(f *models.File) *models.File {
	c := *f
	return &c
}

func matchFlags(deletedAt *time.Time, fav bool, trashed, favorite *bool) bool {
	if trashed != nil && (deletedAt != nil) != *trashed {
		return false
	}
	if favorite != nil && fav != *favorite {
		return false
	}
	return true
}

type memFolders struct {
	*memStore
	h dbx.DBTX
}

func (r memFolders) GetByID(_ context.Context, ownerID, id string) (*models.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("folders.GetByID"); err != nil {
		return nil, err
	}
	f, ok := r.folders[id]
	if !ok || f.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	return copyFolder(f), nil
}

func (r memFolders) GetMany(_ context.Context, ownerID string, ids []string) ([]*models.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Folder
	for _, id := range ids {
		if f, ok := r.folders[id]; ok && f.OwnerID == ownerID {
			out = append(out, copyFolder(f))
		}
	}
	return out, nil
}

func (r memFolders) List(_ context.Context, ownerID string, filter models.FolderFilter) ([]*models.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("folders.List"); err != nil {
		return nil, err
	}
	var out []*models.Folder
	for _, f := range r.folders {
		if f.OwnerID != ownerID {
			continue
		}
		if filter.Root && f.ParentID != nil {
			continue
		}
		if !filter.Root && filter.ParentID != nil && (f.ParentID == nil || *f.ParentID != *filter.ParentID) {
			continue
		}
		if !matchFlags(f.DeletedAt, f.IsFavorite, filter.Trashed, filter.Favorite) {
			continue
		}
		out = append(out, copyFolder(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memFolders) Create(_ context.Context, f *models.Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("folders.Create", r.h)
	if err := r.failure("folders.Create"); err != nil {
		return err
	}
	if _, ok := r.folders[f.ID]; ok {
		return fmt.Errorf("duplicate id %s", f.ID)
	}
	f.CreatedAt = r.tick()
	f.UpdatedAt = f.CreatedAt
	r.folders[f.ID] = copyFolder(f)
	return nil
}

func (r memFolders) update(ownerID, id string, fn func(f *models.Folder)) error {
	f, ok := r.folders[id]
	if !ok || f.OwnerID != ownerID {
		return common.ErrorNotFound
	}
	fn(f)
	f.UpdatedAt = r.tick()
	return nil
}

func (r memFolders) UpdateName(_ context.Context, ownerID, id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("folders.UpdateName", r.h)
	return r.update(ownerID, id, func(f *models.Folder) { f.Name = name })
}

func (r memFolders) UpdateParent(_ context.Context, ownerID, id string, parentID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("folders.UpdateParent", r.h)
	return r.update(ownerID, id, func(f *models.Folder) { f.ParentID = parentID })
}

func (r memFolders) MoveMany(_ context.Context, ownerID string, ids []string, parentID *string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("folders.MoveMany", r.h)
	var n int64
	for _, id := range ids {
		if r.update(ownerID, id, func(f *models.Folder) { f.ParentID = parentID }) == nil {
			n++
		}
	}
	return n, nil
}

func (r memFolders) SetDeletedAt(_ context.Context, ownerID, id string, deletedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("folders.SetDeletedAt", r.h)
	if err := r.failure("folders.SetDeletedAt"); err != nil {
		return err
	}
	return r.update(ownerID, id, func(f *models.Folder) { f.DeletedAt = deletedAt })
}

func (r memFolders) SetDeletedAtMany(_ context.Context, ownerID string, ids []string, deletedAt *time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("folders.SetDeletedAtMany", r.h)
	var n int64
	for _, id := range ids {
		if r.update(ownerID, id, func(f *models.Folder) { f.DeletedAt = deletedAt }) == nil {
			n++
		}
	}
	return n, nil
}

func (r memFolders) ToggleFavorite(_ context.Context, ownerID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("folders.ToggleFavorite", r.h)
	var fav bool
	err := r.update(ownerID, id, func(f *models.Folder) {
		f.IsFavorite = !f.IsFavorite
		fav = f.IsFavorite
	})
	return fav, err
}

func (r memFolders) Delete(_ context.Context, ownerID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("folders.Delete", r.h)
	if err := r.failure("folders.Delete"); err != nil {
		return err
	}
	f, ok := r.folders[id]
	if !ok || f.OwnerID != ownerID {
		return common.ErrorNotFound
	}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		delete(r.folders, cur)
		for fid, file := range r.files {
			if file.FolderID != nil && *file.FolderID == cur {
				delete(r.files, fid)
			}
		}
		for cid, c := range r.folders {
			if c.ParentID != nil && *c.ParentID == cur {
				queue = append(queue, cid)
			}
		}
	}
	return nil
}

type memFiles struct {
	*memStore
	h dbx.DBTX
}

func (r memFiles) GetByID(_ context.Context, ownerID, id string) (*models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok || f.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	return copyFile(f), nil
}

func (r memFiles) GetMany(_ context.Context, ownerID string, ids []string) ([]*models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.File
	for _, id := range ids {
		if f, ok := r.files[id]; ok && f.OwnerID == ownerID {
			out = append(out, copyFile(f))
		}
	}
	return out, nil
}

func (r memFiles) List(_ context.Context, ownerID string, filter models.FileFilter) ([]*models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure("files.List"); err != nil {
		return nil, err
	}
	var out []*models.File
	for _, f := range r.files {
		if f.OwnerID != ownerID {
			continue
		}
		if filter.Root && f.FolderID != nil {
			continue
		}
		if !filter.Root && filter.FolderID != nil && (f.FolderID == nil || *f.FolderID != *filter.FolderID) {
			continue
		}
		if !matchFlags(f.DeletedAt, f.IsFavorite, filter.Trashed, filter.Favorite) {
			continue
		}
		out = append(out, copyFile(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memFiles) Create(_ context.Context, f *models.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.Create", r.h)
	if err := r.failure("files.Create"); err != nil {
		return err
	}
	f.CreatedAt = r.tick()
	f.UpdatedAt = f.CreatedAt
	r.files[f.ID] = copyFile(f)
	return nil
}

func (r memFiles) update(ownerID, id string, fn func(f *models.File)) error {
	f, ok := r.files[id]
	if !ok || f.OwnerID != ownerID {
		return common.ErrorNotFound
	}
	fn(f)
	f.UpdatedAt = r.tick()
	return nil
}

func (r memFiles) UpdateName(_ context.Context, ownerID, id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.UpdateName", r.h)
	return r.update(ownerID, id, func(f *models.File) { f.Name = name })
}

func (r memFiles) UpdateFolder(_ context.Context, ownerID, id string, folderID *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.UpdateFolder", r.h)
	return r.update(ownerID, id, func(f *models.File) { f.FolderID = folderID })
}

func (r memFiles) MoveMany(_ context.Context, ownerID string, ids []string, folderID *string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.MoveMany", r.h)
	var n int64
	for _, id := range ids {
		if r.update(ownerID, id, func(f *models.File) { f.FolderID = folderID }) == nil {
			n++
		}
	}
	return n, nil
}

func (r memFiles) SetDeletedAt(_ context.Context, ownerID, id string, deletedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.SetDeletedAt", r.h)
	return r.update(ownerID, id, func(f *models.File) { f.DeletedAt = deletedAt })
}

func (r memFiles) SetDeletedAtMany(_ context.Context, ownerID string, ids []string, deletedAt *time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.SetDeletedAtMany", r.h)
	var n int64
	for _, id := range ids {
		if r.update(ownerID, id, func(f *models.File) { f.DeletedAt = deletedAt }) == nil {
			n++
		}
	}
	return n, nil
}

func (r memFiles) TrashInFolder(_ context.Context, ownerID, folderID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.TrashInFolder", r.h)
	if err := r.failure("files.TrashInFolder"); err != nil {
		return 0, err
	}
	var n int64
	for _, f := range r.files {
		if f.OwnerID == ownerID && f.FolderID != nil && *f.FolderID == folderID && f.DeletedAt == nil {
			t := at
			f.DeletedAt = &t
			n++
		}
	}
	return n, nil
}

func (r memFiles) RestoreInFolder(_ context.Context, ownerID, folderID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.RestoreInFolder", r.h)
	var n int64
	for _, f := range r.files {
		if f.OwnerID == ownerID && f.FolderID != nil && *f.FolderID == folderID && f.DeletedAt != nil && f.DeletedAt.Equal(at) {
			f.DeletedAt = nil
			n++
		}
	}
	return n, nil
}

func (r memFiles) ToggleFavorite(_ context.Context, ownerID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.ToggleFavorite", r.h)
	var fav bool
	err := r.update(ownerID, id, func(f *models.File) {
		f.IsFavorite = !f.IsFavorite
		fav = f.IsFavorite
	})
	return fav, err
}

func (r memFiles) ContentRefsInFolders(_ context.Context, ownerID string, folderIDs []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.ContentRefsInFolders", r.h)
	in := map[string]bool{}
	for _, id := range folderIDs {
		in[id] = true
	}
	var refs []string
	for _, f := range r.files {
		if f.OwnerID == ownerID && f.FolderID != nil && in[*f.FolderID] && f.ContentRef != "" {
			refs = append(refs, f.ContentRef)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

func (r memFiles) Delete(_ context.Context, ownerID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("files.Delete", r.h)
	f, ok := r.files[id]
	if !ok || f.OwnerID != ownerID {
		return common.ErrorNotFound
	}
	delete(r.files, id)
	return nil
}

type fakeRepoManager struct {
	store *memStore
	users *memUsers
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return m.users }
func (m *fakeRepoManager) Folders(db dbx.DBTX) folders.Repository       { return memFolders{m.store, db} }
func (m *fakeRepoManager) Files(db dbx.DBTX) files.Repository           { return memFiles{m.store, db} }

type memUsers struct {
	users.Repository
	mu        sync.Mutex
	byID      map[string]*models.User
	createErr error
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*models.User{}}
}

func (u *memUsers) Create(_ context.Context, user *models.User) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.createErr != nil {
		return nil, u.createErr
	}
	c := *user
	c.ID = uuid.NewString()
	c.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u.byID[c.ID] = &c
	out := c
	return &out, nil
}

func (u *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.byID[id]; ok {
		c := *user
		return &c, nil
	}
	return nil, common.ErrorNotFound
}

func (u *memUsers) GetByUserName(_ context.Context, userName string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.byID {
		if user.UserName == userName {
			c := *user
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

// fakeSessions hands out copies: the resolver wipes what it receives.
type fakeSessions struct {
	secrets map[string]keys.Secrets
}

func (f *fakeSessions) Secrets(_ context.Context, ownerID string) (*keys.Secrets, error) {
	s, ok := f.secrets[ownerID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &keys.Secrets{
		Raw:    append([]byte(nil), s.Raw...),
		Record: append([]byte(nil), s.Record...),
	}, nil
}

type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	putErr    error
	deleteErr error
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, ownerID string, body io.Reader, _ int64, _ string) (string, error) {
	if b.putErr != nil {
		return "", b.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ref := fmt.Sprintf("users/%s/%d", ownerID, len(b.objects)+len(b.deleted))
	b.objects[ref] = data
	return ref, nil
}

func (b *memBlobs) Get(_ context.Context, ref string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[ref]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlobs) Delete(_ context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, ref)
	b.deleted = append(b.deleted, ref)
	return nil
}

func (b *memBlobs) PresignGet(_ context.Context, ref string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("http://blobs/%s?ttl=%s", ref, ttl), nil
}

// txConnector opens the sqlmock connection for the services' pool and
// mirrors transaction boundaries onto the memStore.
type txConnector struct {
	drv   driver.Driver
	dsn   string
	store *memStore
}

func (c *txConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.drv.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &txConn{Conn: conn, store: c.store}, nil
}

func (c *txConnector) Driver() driver.Driver { return c.drv }

type txConn struct {
	driver.Conn
	store *memStore
}

func (c *txConn) Begin() (driver.Tx, error) {
	tx, err := c.Conn.Begin()
	if err != nil {
		return nil, err
	}
	c.store.begin()
	return &txHook{Tx: tx, store: c.store}, nil
}

type txHook struct {
	driver.Tx
	store *memStore
}

func (t *txHook) Commit() error {
	err := t.Tx.Commit()
	t.store.end(err == nil)
	return err
}

func (t *txHook) Rollback() error {
	err := t.Tx.Rollback()
	t.store.end(false)
	return err
}

func newTxDB(t *testing.T, store *memStore) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	dsn := "services_" + uuid.NewString()
	mockDB, mock, err := sqlmock.NewWithDSN(dsn)
	require.NoError(t, err)

	db := sql.OpenDB(&txConnector{drv: mockDB.Driver(), dsn: dsn, store: store})
	t.Cleanup(func() {
		_ = db.Close()
		_ = mockDB.Close()
	})
	return db, mock
}

const (
	ownerA = "owner-a"
	ownerB = "owner-b"
)

type env struct {
	db      *sql.DB
	mock    sqlmock.Sqlmock
	store   *memStore
	blobs   *memBlobs
	drive   *Drive
	secrets map[string]keys.Secrets
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := newMemStore()
	db, mock := newTxDB(t, store)

	secrets := map[string]keys.Secrets{
		ownerA: {Raw: []byte("raw-secret-a"), Record: []byte("stored-token-a")},
		ownerB: {Raw: []byte("raw-secret-b"), Record: []byte("stored-token-b")},
	}
	blobs := newMemBlobs()
	resolver := keys.NewResolver(&fakeSessions{secrets: secrets})
	cfg := &config.Config{MaxTreeDepth: 256}

	drive := NewDrive(db, &fakeRepoManager{store: store, users: newMemUsers()}, resolver, blobs, logging.NewNop(), cfg)
	clock := &stepClock{t: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
	drive.Folders.now = clock.Now
	drive.Files.now = clock.Now

	return &env{
		db:      db,
		mock:    mock,
		store:   store,
		blobs:   blobs,
		drive:   drive,
		secrets: secrets,
	}
}

// stepClock advances one second per call so trash stamps never collide.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newBody(s string) io.Reader {
	return strings.NewReader(s)
}

func (e *env) expectTx(commit bool) {
	e.mock.ExpectBegin()
	if commit {
		e.mock.ExpectCommit()
	} else {
		e.mock.ExpectRollback()
	}
}

// resetWrites forgets the repository writes recorded so far.
func (e *env) resetWrites() {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.writes = nil
}

// requireWritesInTx checks that every recorded write ran on a transaction
// and that the wanted operations are among them.
func (e *env) requireWritesInTx(t *testing.T, want ...string) {
	t.Helper()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	var ops []string
	for _, w := range e.store.writes {
		assert.True(t, w.inTx, "%s ran outside the transaction", w.op)
		ops = append(ops, w.op)
	}
	for _, op := range want {
		assert.Contains(t, ops, op)
	}
	e.store.writes = nil
}

func (e *env) mkdir(t *testing.T, owner, name string, parent *string) *models.FolderView {
	t.Helper()
	v, err := e.drive.Folders.Create(context.Background(), owner, CreateFolderInput{Name: name, ParentID: parent})
	require.NoError(t, err)
	return v
}

func (e *env) mkfile(t *testing.T, owner, name string, folder *string) *models.FileView {
	t.Helper()
	v, err := e.drive.Files.Create(context.Background(), owner, CreateFileInput{
		Name: name, FolderID: folder, Size: 10, MimeType: "text/plain", ContentRef: "ref-" + name,
	})
	require.NoError(t, err)
	return v
}

func (e *env) storedFolder(t *testing.T, id string) *models.Folder {
	t.Helper()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	f, ok := e.store.folders[id]
	require.True(t, ok, "folder %s missing", id)
	return copyFolder(f)
}

func (e *env) storedFile(t *testing.T, id string) *models.File {
	t.Helper()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	f, ok := e.store.files[id]
	require.True(t, ok, "file %s missing", id)
	return copyFile(f)
}
