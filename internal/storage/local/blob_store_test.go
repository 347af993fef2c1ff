package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seedbank-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ExistingDir", func(t *testing.T) {
		store, err := local.New(t.TempDir())
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "snapshots")
		_, err := local.New(dir)
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("EmptyDir", func(t *testing.T) {
		_, err := local.New("  ")
		assert.Error(t, err)
	})

	t.Run("PathIsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(file)
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(dir)
	require.NoError(t, err)

	html := []byte("<ul class=\"products\"></ul>")
	uri, err := store.PutObject(context.Background(), "snapshots/v1/job/page-001-abcd.html", "text/html", html)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))

	got, err := os.ReadFile(filepath.Join(dir, "snapshots", "v1", "job", "page-001-abcd.html"))
	require.NoError(t, err)
	assert.Equal(t, html, got)
}

func TestPutObjectRejectsEscape(t *testing.T) {
	store, err := local.New(t.TempDir())
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../outside.html", "text/html", []byte("x"))
	assert.Error(t, err)

	_, err = store.PutObject(context.Background(), "", "text/html", []byte("x"))
	assert.Error(t, err)
}
