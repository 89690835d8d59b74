package zarrstream

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zarrstream/zarrstream/internal/datatype"
	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/metadata"
)

// smallConfig builds an 8x8 frame, chunk==array_size, so a single round of
// downsampling (array 8->4, chunk clamped 8->4) stops the pyramid at
// exactly 2 writers, per downsample()'s "chunk strictly smaller" rule.
func smallConfig(t *testing.T, dir string, version metadata.Version, multiscale bool) Config {
	t.Helper()
	v3 := version == metadata.V3
	shard := uint32(0)
	if v3 {
		shard = 1
	}
	return Config{
		Version:   version,
		StorePath: dir,
		Dtype:     datatype.Uint8,
		Dimensions: []dimension.Dim{
			{Name: "t", Kind: dimension.Time, ArraySizePx: 0, ChunkSizePx: 1, ShardSizeChunks: shard},
			{Name: "c", Kind: dimension.Channel, ArraySizePx: 2, ChunkSizePx: 2, ShardSizeChunks: shard},
			{Name: "y", Kind: dimension.Space, ArraySizePx: 8, ChunkSizePx: 8, ShardSizeChunks: shard},
			{Name: "x", Kind: dimension.Space, ArraySizePx: 8, ChunkSizePx: 8, ShardSizeChunks: shard},
		},
		Multiscale: multiscale,
	}
}

func TestNewStreamRejectsInvalidVersion(t *testing.T) {
	cfg := smallConfig(t, t.TempDir(), metadata.Version(9), false)
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewStreamRejectsInvalidCustomMetadata(t *testing.T) {
	cfg := smallConfig(t, t.TempDir(), metadata.V2, false)
	cfg.CustomMetadata = []byte(`{not json`)
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestStreamV2SingleLevelWritesBaseMetadataAndChunks(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(t, dir, metadata.V2, false)
	cfg.CustomMetadata = []byte(`{"experiment": "t1"}`)

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, s.writers, 1)

	frame := make([]byte, 64)
	n, err := s.Append(ctx, frame)
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	require.NoError(t, s.Close(ctx))

	for _, name := range []string{".zattrs", ".zgroup", "acquire.json"} {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		require.NoErrorf(t, err, "missing %s", name)
		assert.NotEmpty(t, raw)
	}

	var custom map[string]string
	raw, err := os.ReadFile(filepath.Join(dir, "acquire.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &custom))
	assert.Equal(t, "t1", custom["experiment"])

	_, err = os.Stat(filepath.Join(dir, "0", ".zarray"))
	require.NoError(t, err)
}

func TestStreamV2MultiscaleBuildsTwoLevels(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(t, dir, metadata.V2, true)

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, s.writers, 2)
	require.NotNil(t, s.engine)

	// Two frames: the first seeds level 1's slot, the second averages and
	// emits it, per the scaled-frame state machine.
	_, err = s.Append(ctx, make([]byte, 64))
	require.NoError(t, err)
	_, err = s.Append(ctx, make([]byte, 64))
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx))

	raw, err := os.ReadFile(filepath.Join(dir, ".zattrs"))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	var multiscales []map[string]interface{}
	require.NoError(t, json.Unmarshal(doc["multiscales"], &multiscales))
	datasets := multiscales[0]["datasets"].([]interface{})
	assert.Len(t, datasets, 2)

	_, err = os.Stat(filepath.Join(dir, "1", ".zarray"))
	require.NoError(t, err)
}

func TestStreamV3WritesProtocolMetadata(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(t, dir, metadata.V3, false)

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err)

	_, err = s.Append(ctx, make([]byte, 64))
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	raw, err := os.ReadFile(filepath.Join(dir, "zarr.json"))
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "https://purl.org/zarr/spec/protocol/core/3.0", doc["zarr_format"])

	_, err = os.Stat(filepath.Join(dir, "meta", "root", "0.array.json"))
	require.NoError(t, err)
}

func TestStreamAppendAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig(t, dir, metadata.V2, false)

	ctx := context.Background()
	s, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	_, err = s.Append(ctx, make([]byte, 64))
	assert.Error(t, err)

	// Close is idempotent.
	assert.NoError(t, s.Close(ctx))
}
