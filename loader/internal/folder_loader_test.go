package internal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractrag/extract"
	"contractrag/types"
)

func newTestLoader(t *testing.T) *FolderLoader {
	t.Helper()
	root := t.TempDir()
	l, err := NewFolderLoader(types.Config{
		SourceDir:  filepath.Join(root, "source"),
		ArchiveDir: filepath.Join(root, "archive"),
		BadDir:     filepath.Join(root, "bad"),
	}, extract.NewLocal(), nil)
	require.NoError(t, err)
	return l
}

func TestScan_HandsOverSettledFiles(t *testing.T) {
	l := newTestLoader(t)
	path := filepath.Join(l.cfg.SourceDir, "ucc_article_2.txt")
	require.NoError(t, os.WriteFile(path, []byte("Sales of goods."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(l.cfg.SourceDir, ".partial"), []byte("x"), 0644))

	fileChan := make(chan string, 1)
	ctx := context.Background()

	require.True(t, l.scan(ctx, fileChan))
	assert.Empty(t, fileChan, "first sighting only starts tracking")

	time.Sleep(5 * time.Millisecond)
	require.True(t, l.scan(ctx, fileChan))
	require.Len(t, fileChan, 1)
	assert.Equal(t, path, <-fileChan)

	require.True(t, l.scan(ctx, fileChan))
	assert.Empty(t, fileChan, "files in processing are not sent twice")

	l.Release(path, true)
	assert.NotContains(t, l.FileFirstSeen, path)
}

func TestLoad(t *testing.T) {
	l := newTestLoader(t)
	good := filepath.Join(l.cfg.SourceDir, "nda-best-practices.txt")
	require.NoError(t, os.WriteFile(good, []byte("Cap liability at fees paid."), 0644))
	bad := filepath.Join(l.cfg.SourceDir, "scan.png")
	require.NoError(t, os.WriteFile(bad, []byte{0x89, 'P', 'N', 'G'}, 0644))

	doc := l.Load(context.Background(), good)
	require.NoError(t, doc.Err)
	assert.Equal(t, "Cap liability at fees paid.", doc.Text)
	assert.Equal(t, "nda best practices", doc.Title)
	assert.Equal(t, extract.KindText, doc.Kind)

	doc = l.Load(context.Background(), bad)
	assert.ErrorIs(t, doc.Err, types.ErrUnsupportedFormat)

	doc = l.Load(context.Background(), filepath.Join(l.cfg.SourceDir, "missing.txt"))
	assert.Error(t, doc.Err)
}

func TestMoveToArchive_RenamesOnClash(t *testing.T) {
	l := newTestLoader(t)

	var dests []string
	for range 2 {
		path := filepath.Join(l.cfg.SourceDir, "gdpr.txt")
		require.NoError(t, os.WriteFile(path, []byte("Article 28"), 0644))
		dest, err := l.MoveToArchive(path, StateArchived)
		require.NoError(t, err)
		assert.NoFileExists(t, path)
		dests = append(dests, dest)
	}
	assert.Equal(t, "gdpr.txt", filepath.Base(dests[0]))
	assert.Equal(t, "gdpr_1.txt", filepath.Base(dests[1]))

	path := filepath.Join(l.cfg.SourceDir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0644))
	dest, err := l.MoveToArchive(path, StateBad)
	require.NoError(t, err)
	assert.Contains(t, dest, l.cfg.BadDir)
}
