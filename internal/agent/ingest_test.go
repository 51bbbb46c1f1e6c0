package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadInputDocumentsMissingPath(t *testing.T) {
	t.Parallel()

	docs, err := loadInputDocuments("")
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = loadInputDocuments(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadInputDocumentsDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("# Two"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("One"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json"), []byte(`{"goals": []}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignore.bin"), []byte{0x00}, 0o644))

	docs, err := loadInputDocuments(dir)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "text/plain", docs[0].MediaType)
	assert.Equal(t, "One", docs[0].Content)
	assert.Equal(t, "text/markdown", docs[1].MediaType)
	assert.Equal(t, "application/json", docs[2].MediaType)
}

func TestLoadInputDocumentsSingleFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "spec.markdown")
	require.NoError(t, os.WriteFile(path, []byte("# Spec"), 0o644))

	docs, err := loadInputDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, path, docs[0].Path)
	assert.Equal(t, "text/markdown", docs[0].MediaType)
}

func TestLoadInputDocumentsUnsupportedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image.png")
	require.NoError(t, os.WriteFile(path, []byte{0x89}, 0o644))

	docs, err := loadInputDocuments(path)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFirstLine(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Build an API", firstLine("\n\n  Build an API  \nmore"))
	assert.Equal(t, "", firstLine("\n \n"))
}
