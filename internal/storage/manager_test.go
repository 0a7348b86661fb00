package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/midi-sniffer/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *LocalStore {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestNewLocalStoreCreatesKindDirectories(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "files")
	_, err := NewLocalStore(dir)
	require.NoError(t, err)

	for _, kind := range []string{"table", "capture", "profile"} {
		st, err := os.Stat(filepath.Join(dir, kind))
		require.NoError(t, err, kind)
		assert.True(t, st.IsDir())
	}
}

func TestLocalStoreSaveAndGet(t *testing.T) {
	store := createTestStore(t)

	info, err := store.Save(models.FileKindTable, "DDJ-TEST.midi.csv", strings.NewReader("@file,1,DDJ-TEST\n"))
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, models.FileKindTable, info.Kind)
	assert.Equal(t, int64(17), info.Size)

	got, err := store.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, info, got)

	path, err := store.GetFilePath(info.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.baseDir, "table", info.ID), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "@file,1,DDJ-TEST\n", string(data))
}

func TestLocalStoreNotFound(t *testing.T) {
	store := createTestStore(t)

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = store.GetFilePath("missing")
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.ErrorIs(t, store.Delete("missing"), ErrFileNotFound)
	assert.ErrorIs(t, store.SetDevice("missing", "x"), ErrFileNotFound)
}

func TestLocalStoreListByKind(t *testing.T) {
	store := createTestStore(t)

	a, err := store.Save(models.FileKindTable, "a.csv", strings.NewReader("a"))
	require.NoError(t, err)
	a.UploadedAt = time.Now().Add(-time.Minute)
	b, err := store.Save(models.FileKindTable, "b.csv", strings.NewReader("b"))
	require.NoError(t, err)
	_, err = store.Save(models.FileKindCapture, "c.log", strings.NewReader("c"))
	require.NoError(t, err)

	tables, err := store.List(models.FileKindTable, 10)
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, b.ID, tables[0].ID)
	assert.Equal(t, a.ID, tables[1].ID)

	all, err := store.List("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := store.List("", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestLocalStoreDeleteAndSetDevice(t *testing.T) {
	store := createTestStore(t)

	info, err := store.Save(models.FileKindCapture, "s.log", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, store.SetDevice(info.ID, "DDJ-FLX10"))

	got, err := store.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, "DDJ-FLX10", got.Device)

	path, err := store.GetFilePath(info.ID)
	require.NoError(t, err)
	require.NoError(t, store.Delete(info.ID))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = store.Get(info.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
}
