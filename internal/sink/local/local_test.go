package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndFinalize(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "sub", "chunk-0")

	s, err := New(final, 0o755, 0o644)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, 0, []byte("hello ")))
	require.NoError(t, s.Write(ctx, 6, []byte("world")))
	require.NoError(t, s.Finalize(ctx))

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestWriteAfterFinalizeFails(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "chunk-0")

	s, err := New(final, 0o755, 0o644)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, 0, []byte("x")))
	require.NoError(t, s.Finalize(ctx))

	assert.Error(t, s.Write(ctx, 1, []byte("y")))
	assert.Error(t, s.Finalize(ctx))
}

func TestEmptyWriteIsNoop(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "chunk-0")

	s, err := New(final, 0o755, 0o644)
	require.NoError(t, err)

	require.NoError(t, s.Write(context.Background(), 0, nil))
}
