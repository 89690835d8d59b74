package dimension

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zarrstream/zarrstream/internal/datatype"
)

// testDims builds the five-dimensional t/c/z/y/x array used throughout
// core spec §8's concrete scenarios.
func testDims(t *testing.T, v3 bool) *Dimensions {
	t.Helper()
	dims := []Dim{
		{Name: "t", Kind: Time, ArraySizePx: 0, ChunkSizePx: 5, ShardSizeChunks: 2},
		{Name: "c", Kind: Channel, ArraySizePx: 3, ChunkSizePx: 2, ShardSizeChunks: 2},
		{Name: "z", Kind: Space, ArraySizePx: 5, ChunkSizePx: 2, ShardSizeChunks: 1},
		{Name: "y", Kind: Space, ArraySizePx: 48, ChunkSizePx: 16, ShardSizeChunks: 1},
		{Name: "x", Kind: Space, ArraySizePx: 64, ChunkSizePx: 16, ShardSizeChunks: 2},
	}
	d, err := New(dims, datatype.Uint16, v3)
	require.NoError(t, err)
	return d
}

func TestChunkLatticeIndex(t *testing.T) {
	d := testDims(t, false)

	cases := []struct {
		frame uint64
		dim   int
		want  uint32
	}{
		{0, 2, 0}, {0, 1, 0}, {0, 0, 0},
		{2, 2, 1},
		{5, 2, 0}, {5, 1, 0}, {5, 0, 0},
		{12, 2, 1}, {12, 1, 1},
		{26, 1, 1},
		{75, 0, 1},
	}
	for _, c := range cases {
		got := d.ChunkLatticeIndex(c.frame, c.dim)
		require.Equalf(t, c.want, got, "chunk_lattice_index(%d, %d)", c.frame, c.dim)
	}
}

func TestTileGroupOffset(t *testing.T) {
	d := testDims(t, false)

	cases := map[uint64]uint32{
		0: 0, 1: 0, 2: 12, 3: 12, 4: 24, 10: 36, 14: 60, 75: 0,
	}
	for frame, want := range cases {
		got := d.TileGroupOffset(frame)
		require.Equalf(t, want, got, "tile_group_offset(%d)", frame)
	}
}

func TestChunkInternalOffset(t *testing.T) {
	d := testDims(t, false)

	cases := map[uint64]uint64{
		0: 0, 1: 512, 4: 0, 5: 1024, 15: 2048, 25: 2048, 75: 0,
	}
	for frame, want := range cases {
		got := d.ChunkInternalOffset(frame)
		require.Equalf(t, want, got, "chunk_internal_offset(%d)", frame)
	}
}

func TestNumberOfChunksInMemoryAndBytesPerChunk(t *testing.T) {
	d := testDims(t, false)

	// chunks_along(c)=ceil(3/2)=2, chunks_along(z)=ceil(5/2)=3,
	// chunks_along(y)=ceil(48/16)=3, chunks_along(x)=ceil(64/16)=4
	require.Equal(t, uint32(2*3*3*4), d.NumberOfChunksInMemory())

	// bytes_per_type(2) * 5*2*2*16*16
	require.Equal(t, 2*5*2*2*16*16, d.BytesPerChunk())
}

// scenario4Dims is core spec §8 scenario 4: t=∞ chunk 5 shard 2, c=8 chunk 4
// shard 2, z=6 chunk 2 shard 1, y=48 chunk 16 shard 1, x=64 chunk 16 shard 2.
func scenario4Dims(t *testing.T) *Dimensions {
	t.Helper()
	dims := []Dim{
		{Name: "t", Kind: Time, ArraySizePx: 0, ChunkSizePx: 5, ShardSizeChunks: 2},
		{Name: "c", Kind: Channel, ArraySizePx: 8, ChunkSizePx: 4, ShardSizeChunks: 2},
		{Name: "z", Kind: Space, ArraySizePx: 6, ChunkSizePx: 2, ShardSizeChunks: 1},
		{Name: "y", Kind: Space, ArraySizePx: 48, ChunkSizePx: 16, ShardSizeChunks: 1},
		{Name: "x", Kind: Space, ArraySizePx: 64, ChunkSizePx: 16, ShardSizeChunks: 2},
	}
	d, err := New(dims, datatype.Uint16, true)
	require.NoError(t, err)
	return d
}

// TestShardIndexForChunkMatchesExpectedPeriod asserts the exact expected
// value core spec §8 scenario 4 gives: shard_index_for_chunk(k) = (k/2) mod
// 18 for k in [0, 144), covering two full wraps of the 72-chunk lattice.
func TestShardIndexForChunkMatchesExpectedPeriod(t *testing.T) {
	d := scenario4Dims(t)

	for k := uint32(0); k < 144; k++ {
		want := (k / 2) % 18
		got := d.ShardIndexForChunk(k)
		require.Equalf(t, want, got, "shard_index_for_chunk(%d)", k)
	}
}

// scenario5Dims is core spec §8 scenario 5: t=∞ chunk 32 shard 1, y=960
// chunk 320 shard 2, x=1080 chunk 270 shard 3.
func scenario5Dims(t *testing.T) *Dimensions {
	t.Helper()
	dims := []Dim{
		{Name: "t", Kind: Time, ArraySizePx: 0, ChunkSizePx: 32, ShardSizeChunks: 1},
		{Name: "y", Kind: Space, ArraySizePx: 960, ChunkSizePx: 320, ShardSizeChunks: 2},
		{Name: "x", Kind: Space, ArraySizePx: 1080, ChunkSizePx: 270, ShardSizeChunks: 3},
	}
	d, err := New(dims, datatype.Uint8, true)
	require.NoError(t, err)
	return d
}

// TestShardIndexAndInternalIndexExactValues asserts the exact
// (shard_index, shard_internal_index) pairs core spec §8 scenario 5 gives.
func TestShardIndexAndInternalIndexExactValues(t *testing.T) {
	d := scenario5Dims(t)

	cases := []struct {
		chunk, shard, internal uint32
	}{
		{0, 0, 0},
		{1, 0, 1},
		{2, 0, 2},
		{3, 1, 0},
		{4, 0, 3},
		{7, 1, 3},
		{8, 2, 0},
		{11, 3, 0},
	}
	for _, c := range cases {
		gotShard := d.ShardIndexForChunk(c.chunk)
		require.Equalf(t, c.shard, gotShard, "shard_index_for_chunk(%d)", c.chunk)

		gotInternal := d.ShardInternalIndex(c.chunk)
		require.Equalf(t, c.internal, gotInternal, "shard_internal_index(%d)", c.chunk)
	}
}

func TestNewRejectsTooFewDimensions(t *testing.T) {
	_, err := New([]Dim{
		{Name: "y", ArraySizePx: 4, ChunkSizePx: 2},
		{Name: "x", ArraySizePx: 4, ChunkSizePx: 2},
	}, datatype.Uint8, false)
	require.Error(t, err)
}

func TestNewRejectsZeroSizeNotAtIndexZero(t *testing.T) {
	_, err := New([]Dim{
		{Name: "t", ArraySizePx: 4, ChunkSizePx: 2},
		{Name: "y", ArraySizePx: 0, ChunkSizePx: 2},
		{Name: "x", ArraySizePx: 4, ChunkSizePx: 2},
	}, datatype.Uint8, false)
	require.Error(t, err)
}

func TestNewRejectsZeroShardSizeForV3(t *testing.T) {
	_, err := New([]Dim{
		{Name: "t", ArraySizePx: 0, ChunkSizePx: 2, ShardSizeChunks: 1},
		{Name: "y", ArraySizePx: 4, ChunkSizePx: 2, ShardSizeChunks: 0},
		{Name: "x", ArraySizePx: 4, ChunkSizePx: 2, ShardSizeChunks: 1},
	}, datatype.Uint8, true)
	require.Error(t, err)
}

func TestNewRejectsChunkLargerThanArray(t *testing.T) {
	_, err := New([]Dim{
		{Name: "t", ArraySizePx: 0, ChunkSizePx: 2},
		{Name: "y", ArraySizePx: 4, ChunkSizePx: 8},
		{Name: "x", ArraySizePx: 4, ChunkSizePx: 2},
	}, datatype.Uint8, false)
	require.Error(t, err)
}
