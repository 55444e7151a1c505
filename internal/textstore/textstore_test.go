package textstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/notes-rag-server/internal/source"
)

func TestSaveLoad(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "texts"))
	require.NoError(t, err)

	doc := source.New(source.OriginImage, "scans/page 1.png", "handwritten\nnotes")
	path, err := store.Save(doc)
	require.NoError(t, err)

	assert.Equal(t, "image_page-1_"+doc.ID+".txt", filepath.Base(path))

	loaded, err := store.Load(path)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, loaded.ID)
	assert.Equal(t, doc.Origin, loaded.Origin)
	assert.Equal(t, "page-1", loaded.Name)
	assert.Equal(t, doc.Text, loaded.Text)
}

func TestSave_UnnamedGetsUUID(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	doc := source.FromText("", "quick thought")
	path, err := store.Save(doc)
	require.NoError(t, err)

	base := filepath.Base(path)
	assert.True(t, strings.HasPrefix(base, "text_"))
	assert.True(t, strings.HasSuffix(base, "_"+doc.ID+".txt"))
	assert.Greater(t, len(base), len("text__"+doc.ID+".txt")+30)
}

func TestSave_RequiresID(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(source.Document{Origin: source.OriginText, Text: "x"})
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	a := source.FromText("b_name_with_underscores", "one")
	b := source.New(source.OriginAudio, "memo.m4a", "two")
	_, err = store.Save(a)
	require.NoError(t, err)
	_, err = store.Save(b)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	records, err := store.List()
	require.NoError(t, err)
	require.Len(t, records, 2)

	// audio_ sorts before text_.
	assert.Equal(t, b.ID, records[0].DocumentID)
	assert.Equal(t, source.OriginAudio, records[0].Origin)
	assert.Equal(t, "memo", records[0].Name)
	assert.Equal(t, a.ID, records[1].DocumentID)
	assert.Equal(t, "b_name_with_underscores", records[1].Name)
}

func TestLoad_InvalidName(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	path := filepath.Join(dir, "video_clip_123.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err = store.Load(path)
	assert.ErrorIs(t, err, ErrInvalidName)
}
