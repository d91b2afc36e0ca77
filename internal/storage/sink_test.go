package storage

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkWrite(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	root := filepath.Join(t.TempDir(), "https_example_com")
	sink, err := NewSink(root, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	require.NoError(t, sink.EnsureRoot())

	stored, err := sink.Write(context.Background(), "css/site.css", []byte("body{}"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "css", "site.css"), stored.Path)
	assert.Equal(t, int64(6), stored.Size)

	data, err := os.ReadFile(stored.Path)
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(data))

	out := logs.String()
	assert.Equal(t, 1, strings.Count(out, "path="+root+"\n"), out)
	assert.Contains(t, out, "created directory")

	entries, err := os.ReadDir(filepath.Join(root, "css"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSinkReusesExistingRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.txt"), []byte("x"), 0o644))

	var logs bytes.Buffer
	sink, err := NewSink(root, slog.New(slog.NewTextHandler(&logs, nil)))
	require.NoError(t, err)
	require.NoError(t, sink.EnsureRoot())

	assert.NotContains(t, logs.String(), "created directory")
	_, err = os.Stat(filepath.Join(root, "keep.txt"))
	assert.NoError(t, err)
}

func TestSinkRootUnavailable(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	sink, err := NewSink(filepath.Join(blocker, "root"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	assert.ErrorIs(t, sink.EnsureRoot(), ErrRootUnavailable)

	_, err = NewSink("  ", nil)
	assert.ErrorIs(t, err, ErrRootUnavailable)
}

func TestSinkRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	sink, err := NewSink(t.TempDir(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	for _, rel := range []string{"../evil.html", "/etc/passwd", ""} {
		_, err := sink.Write(context.Background(), rel, []byte("x"))
		assert.ErrorIs(t, err, ErrUnsafePath, rel)
	}
}

func TestSinkOverwritesSamePath(t *testing.T) {
	t.Parallel()

	sink, err := NewSink(t.TempDir(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sink.Write(context.Background(), "index.html", []byte("same"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(sink.Root(), "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "same", string(data))
}

func TestSinkHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	sink, err := NewSink(t.TempDir(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sink.Write(ctx, "a.html", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}
