package creator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarrstream/zarrstream/internal/datatype"
	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/metadata"
	"github.com/zarrstream/zarrstream/internal/pool"
)

func testDims(t *testing.T) *dimension.Dimensions {
	t.Helper()
	dims := []dimension.Dim{
		{Name: "t", Kind: dimension.Time, ArraySizePx: 0, ChunkSizePx: 5, ShardSizeChunks: 2},
		{Name: "c", Kind: dimension.Channel, ArraySizePx: 3, ChunkSizePx: 2, ShardSizeChunks: 2},
		{Name: "z", Kind: dimension.Space, ArraySizePx: 5, ChunkSizePx: 2, ShardSizeChunks: 1},
		{Name: "y", Kind: dimension.Space, ArraySizePx: 48, ChunkSizePx: 16, ShardSizeChunks: 1},
		{Name: "x", Kind: dimension.Space, ArraySizePx: 64, ChunkSizePx: 16, ShardSizeChunks: 2},
	}
	d, err := dimension.New(dims, datatype.Uint16, true)
	require.NoError(t, err)
	return d
}

func chunksAlongTest(d dimension.Dim) uint32 {
	if d.ArraySizePx == 0 {
		return 1
	}
	return uint32((d.ArraySizePx + d.ChunkSizePx - 1) / d.ChunkSizePx)
}

func TestDataSinkPathsCounts(t *testing.T) {
	d := testDims(t)
	paths := dataSinkPaths("base", d, chunksAlongTest)

	// c:ceil(3/2)=2, z:ceil(5/2)=3, y:ceil(48/16)=3, x:ceil(64/16)=4
	assert.Len(t, paths, 2*3*3*4)
	assert.Contains(t, paths, "base/0/0/0/0")
	assert.Contains(t, paths, "base/1/2/2/3")
}

func TestMetadataSinkPathsV2(t *testing.T) {
	assert.Equal(t, []string{".zattrs", ".zgroup", "0/.zattrs", "acquire.json"}, metadataSinkPaths(metadata.V2))
}

func TestMetadataSinkPathsV3(t *testing.T) {
	assert.Equal(t, []string{"zarr.json", "meta/root.group.json", "meta/acquire.json"}, metadataSinkPaths(metadata.V3))
}

func TestMakeDataSinksLocalCreatesLeavesAndDirs(t *testing.T) {
	dir := t.TempDir()
	d := testDims(t)

	p := pool.New(4)
	defer p.Close()
	cr := New(p)

	sinks, err := cr.MakeDataSinksLocal(context.Background(), dir, d, chunksAlongTest)
	require.NoError(t, err)
	assert.Len(t, sinks, 2*3*3*4)

	for _, s := range sinks {
		require.NoError(t, s.Finalize(context.Background()))
	}

	info, err := os.Stat(filepath.Join(dir, "0", "0", "0", "0"))
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestMakeMetadataSinksLocal(t *testing.T) {
	dir := t.TempDir()

	p := pool.New(2)
	defer p.Close()
	cr := New(p)

	sinks, err := cr.MakeMetadataSinksLocal(context.Background(), metadata.V2, dir)
	require.NoError(t, err)
	assert.Len(t, sinks, 4)

	for _, s := range sinks {
		require.NoError(t, s.Finalize(context.Background()))
	}

	_, err = os.Stat(filepath.Join(dir, ".zattrs"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "0", ".zattrs"))
	require.NoError(t, err)
}
