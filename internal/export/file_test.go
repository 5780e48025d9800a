package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExporter_NeverOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "downloads")
	e := NewFileExporter(dir, nil)
	ctx := context.Background()

	first, err := e.Export(ctx, "clip.webm", "video/webm", strings.NewReader("one"), 3)
	require.NoError(t, err)
	second, err := e.Export(ctx, "clip.webm", "video/webm", strings.NewReader("two"), 3)
	require.NoError(t, err)
	third, err := e.Export(ctx, "clip.webm", "video/webm", strings.NewReader("three"), 5)
	require.NoError(t, err)

	assert.Equal(t, "clip.webm", filepath.Base(first))
	assert.Equal(t, "clip (1).webm", filepath.Base(second))
	assert.Equal(t, "clip (2).webm", filepath.Base(third))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))
	data, err = os.ReadFile(third)
	require.NoError(t, err)
	assert.Equal(t, "three", string(data))
}

func TestFileExporter_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileExporter(dir, nil).Export(ctx, "x.webm", "video/webm", strings.NewReader("data"), 4)
	require.ErrorIs(t, err, context.Canceled)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial file is removed")
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "passwd", SafeName("../../etc/passwd"))
	assert.Equal(t, "evil.webm", SafeName(`C:\Users\evil.webm`))
	assert.Equal(t, "a_b_.webm", SafeName("a:b?.webm"))
	assert.Equal(t, "recording.bin", SafeName("  "))
	assert.Equal(t, "recording.bin", SafeName(".."))
}
