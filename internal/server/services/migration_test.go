package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/gophdrive/internal/cryptox"
	"github.com/dmitrijs2005/gophdrive/internal/server/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) plantFolder(t *testing.T, owner, stored string) string {
	t.Helper()
	id := uuid.NewString()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.folders[id] = &models.Folder{ID: id, OwnerID: owner, Name: stored, CreatedAt: e.store.tick()}
	return id
}

func (e *env) plantFile(t *testing.T, owner, stored string) string {
	t.Helper()
	id := uuid.NewString()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.store.files[id] = &models.File{ID: id, OwnerID: owner, Name: stored, ContentRef: "r", CreatedAt: e.store.tick()}
	return id
}

func TestResealNames(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	canonical := cryptox.DeriveKey([]byte("raw-secret-a"))
	legacy := cryptox.DeriveKey([]byte("stored-token-a"))

	legacyKey, err := cryptox.Encrypt("Legacy Key", legacy)
	require.NoError(t, err)
	legacyFormat, err := cryptox.EncryptLegacy("Legacy Format", canonical)
	require.NoError(t, err)
	foreign, err := cryptox.Encrypt("not ours", cryptox.DeriveKey([]byte("someone else")))
	require.NoError(t, err)

	fLegacyKey := e.plantFolder(t, ownerA, legacyKey)
	fPlain := e.plantFolder(t, ownerA, "Plain Folder")
	fForeign := e.plantFolder(t, ownerA, foreign)
	current := e.mkdir(t, ownerA, "Current", nil)
	before := e.storedFolder(t, current.ID).Name

	fileLegacy := e.plantFile(t, ownerA, legacyFormat)
	otherOwner := e.plantFile(t, ownerB, "b's plain file")

	// trashed names are resealed too
	at := e.store.tick()
	e.store.folders[fPlain].DeletedAt = &at

	e.resetWrites()
	e.expectTx(true)
	report, err := e.drive.Migration.ResealNames(ctx, ownerA)
	require.NoError(t, err)
	assert.Equal(t, &ResealReport{Folders: 2, Files: 1}, report)
	e.requireWritesInTx(t, "folders.UpdateName", "files.UpdateName")

	for id, want := range map[string]string{fLegacyKey: "Legacy Key", fPlain: "Plain Folder"} {
		res := cryptox.Open(e.storedFolder(t, id).Name, canonical)
		require.True(t, res.Ok())
		assert.Equal(t, cryptox.FormatGCM, res.Format)
		assert.Equal(t, want, res.Text)
	}
	res := cryptox.Open(e.storedFile(t, fileLegacy).Name, canonical)
	require.True(t, res.Ok())
	assert.Equal(t, cryptox.FormatGCM, res.Format)
	assert.Equal(t, "Legacy Format", res.Text)

	assert.Equal(t, foreign, e.storedFolder(t, fForeign).Name)
	assert.Equal(t, before, e.storedFolder(t, current.ID).Name)
	assert.Equal(t, "b's plain file", e.storedFile(t, otherOwner).Name)

	e.expectTx(true)
	report, err = e.drive.Migration.ResealNames(ctx, ownerA)
	require.NoError(t, err)
	assert.Equal(t, &ResealReport{}, report)
	require.NoError(t, e.mock.ExpectationsWereMet())
}

func TestResealNames_RollsBackOnStoreError(t *testing.T) {
	e := newEnv(t)
	e.plantFolder(t, ownerA, "plain")
	e.store.fail["folders.List"] = assert.AnError

	e.expectTx(false)
	_, err := e.drive.Migration.ResealNames(context.Background(), ownerA)
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, e.mock.ExpectationsWereMet())
}

func TestResealNames_FileFailureUndoesFolderRewrites(t *testing.T) {
	e := newEnv(t)
	folderID := e.plantFolder(t, ownerA, "plain folder")
	e.plantFile(t, ownerA, "plain file")
	e.store.fail["files.List"] = assert.AnError

	e.expectTx(false)
	_, err := e.drive.Migration.ResealNames(context.Background(), ownerA)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, "plain folder", e.storedFolder(t, folderID).Name)
	require.NoError(t, e.mock.ExpectationsWereMet())
}

func TestResealNames_UnknownOwner(t *testing.T) {
	e := newEnv(t)
	_, err := e.drive.Migration.ResealNames(context.Background(), "nobody")
	assert.Error(t, err)
}
