// Package metadata builds the JSON documents that describe an array's
// shape, chunking and compression (core spec §4.6, §4.7) and the group-
// and base-level documents that tie array levels together as an OME-NGFF
// multiscale pyramid (core spec §4.9), grounded on zarrv2.array.writer.cpp,
// zarrv3.array.writer.cpp and zarr.stream.cpp's write_*_metadata_ methods.
package metadata

import (
	"encoding/json"

	"github.com/zarrstream/zarrstream/internal/compress"
	"github.com/zarrstream/zarrstream/internal/datatype"
	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/errors"
)

// zarrV2Compressor is the "compressor" object of a .zarray document.
type zarrV2Compressor struct {
	ID      string `json:"id"`
	Cname   string `json:"cname"`
	Clevel  int    `json:"clevel"`
	Shuffle int    `json:"shuffle"`
}

// zarrV2Array is the .zarray document (core spec §4.6).
type zarrV2Array struct {
	ZarrFormat        int               `json:"zarr_format"`
	Shape             []uint64          `json:"shape"`
	Chunks            []uint32          `json:"chunks"`
	Dtype             string            `json:"dtype"`
	FillValue         int               `json:"fill_value"`
	Order             string            `json:"order"`
	Filters           interface{}       `json:"filters"`
	DimensionSeparator string           `json:"dimension_separator"`
	Compressor        *zarrV2Compressor `json:"compressor"`
}

// ArrayV2 builds the .zarray document for one array level. framesWritten is
// the number of frames appended so far on the outermost axis; it becomes
// shape[0] after being divided down through any intervening non-spatial
// dimensions exactly as the original computes append_size.
func ArrayV2(dims *dimension.Dimensions, dtype datatype.DataType, framesWritten uint64, params *compress.Params) ([]byte, error) {
	n := dims.Ndims()

	appendSize := framesWritten
	for i := n - 3; i > 0; i-- {
		d := dims.Dim(i)
		if d.ArraySizePx == 0 {
			return nil, errors.Fatalf("metadata: dimension %d has zero array_size_px", i)
		}
		appendSize = (appendSize + uint64(d.ArraySizePx) - 1) / uint64(d.ArraySizePx)
	}

	shape := make([]uint64, 0, n)
	shape = append(shape, appendSize)

	chunks := make([]uint32, 0, n)
	chunks = append(chunks, dims.FinalDim().ChunkSizePx)
	for i := 1; i < n; i++ {
		d := dims.Dim(i)
		shape = append(shape, uint64(d.ArraySizePx))
		chunks = append(chunks, d.ChunkSizePx)
	}

	doc := zarrV2Array{
		ZarrFormat:         2,
		Shape:              shape,
		Chunks:             chunks,
		Dtype:              dtype.ZarrV2Code(),
		FillValue:          0,
		Order:              "C",
		Filters:            nil,
		DimensionSeparator: "/",
	}
	if params != nil {
		doc.Compressor = &zarrV2Compressor{
			ID:      "blosc",
			Cname:   params.CodecID,
			Clevel:  params.Clevel,
			Shuffle: int(params.Shuffle),
		}
	}

	return json.MarshalIndent(doc, "", "    ")
}

type zarrV3ChunkGrid struct {
	ChunkShape []uint32 `json:"chunk_shape"`
	Separator  string   `json:"separator"`
	Type       string   `json:"type"`
}

type zarrV3CompressorConfig struct {
	Blocksize int    `json:"blocksize"`
	Clevel    int    `json:"clevel"`
	Cname     string `json:"cname"`
	Shuffle   int    `json:"shuffle"`
}

type zarrV3Compressor struct {
	Codec         string                 `json:"codec"`
	Configuration zarrV3CompressorConfig `json:"configuration"`
}

type shardingConfig struct {
	ChunksPerShard []uint32 `json:"chunks_per_shard"`
}

type storageTransformer struct {
	Type          string         `json:"type"`
	Extension     string         `json:"extension"`
	Configuration shardingConfig `json:"configuration"`
}

// zarrV3Array is the {level}.array.json document (core spec §4.7).
type zarrV3Array struct {
	Attributes          map[string]interface{} `json:"attributes"`
	ChunkGrid            zarrV3ChunkGrid        `json:"chunk_grid"`
	ChunkMemoryLayout    string                 `json:"chunk_memory_layout"`
	DataType             string                 `json:"data_type"`
	Extensions           []interface{}          `json:"extensions"`
	FillValue             int                    `json:"fill_value"`
	Shape                 []uint64               `json:"shape"`
	Compressor            *zarrV3Compressor      `json:"compressor"`
	StorageTransformers   []storageTransformer   `json:"storage_transformers"`
}

// ArrayV3 builds the {level}.array.json document, including the sharding
// storage transformer whose chunks_per_shard gives the reader the shard
// layout needed to decode the trailing offset table.
func ArrayV3(dims *dimension.Dimensions, dtype datatype.DataType, framesWritten uint64, params *compress.Params) ([]byte, error) {
	n := dims.Ndims()

	appendSize := framesWritten
	for i := n - 3; i > 0; i-- {
		d := dims.Dim(i)
		if d.ArraySizePx == 0 {
			return nil, errors.Fatalf("metadata: dimension %d has zero array_size_px", i)
		}
		appendSize = (appendSize + uint64(d.ArraySizePx) - 1) / uint64(d.ArraySizePx)
	}

	shape := make([]uint64, 0, n)
	shape = append(shape, appendSize)

	finalDim := dims.FinalDim()
	chunkShape := make([]uint32, 0, n)
	chunkShape = append(chunkShape, finalDim.ChunkSizePx)
	shardShape := make([]uint32, 0, n)
	shardShape = append(shardShape, finalDim.ShardSizeChunks)

	for i := 1; i < n; i++ {
		d := dims.Dim(i)
		shape = append(shape, uint64(d.ArraySizePx))
		chunkShape = append(chunkShape, d.ChunkSizePx)
		shardShape = append(shardShape, d.ShardSizeChunks)
	}

	doc := zarrV3Array{
		Attributes: map[string]interface{}{},
		ChunkGrid: zarrV3ChunkGrid{
			ChunkShape: chunkShape,
			Separator:  "/",
			Type:       "regular",
		},
		ChunkMemoryLayout: "C",
		DataType:          dtype.ZarrV3Code(),
		Extensions:        []interface{}{},
		FillValue:         0,
		Shape:             shape,
		StorageTransformers: []storageTransformer{
			{
				Type:      "indexed",
				Extension: "https://purl.org/zarr/spec/storage_transformers/sharding/1.0",
				Configuration: shardingConfig{
					ChunksPerShard: shardShape,
				},
			},
		},
	}
	if params != nil {
		doc.Compressor = &zarrV3Compressor{
			Codec: "https://purl.org/zarr/spec/codec/blosc/1.0",
			Configuration: zarrV3CompressorConfig{
				Blocksize: 0,
				Clevel:    params.Clevel,
				Cname:     params.CodecID,
				Shuffle:   int(params.Shuffle),
			},
		}
	}

	return json.MarshalIndent(doc, "", "    ")
}
