// Package arraywriter implements the chunk-tiling, flush/rollover state
// machine shared by the Zarr v2 and v3 writers (core spec §4.5), grounded
// on original_source/src/streaming/array.writer.cpp.
package arraywriter

import (
	"context"
	"sync"

	"github.com/zarrstream/zarrstream/internal/compress"
	"github.com/zarrstream/zarrstream/internal/datatype"
	"github.com/zarrstream/zarrstream/internal/debug"
	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/errors"
	"github.com/zarrstream/zarrstream/internal/pool"
	"github.com/zarrstream/zarrstream/internal/sink"
	"github.com/zarrstream/zarrstream/internal/sink/creator"
	"github.com/zarrstream/zarrstream/internal/sink/local"
	"github.com/zarrstream/zarrstream/internal/sink/s3"
)

// newLocalMetadataSink creates a single file sink at path, mirroring the
// original's static SinkCreator::make_sink for a lone metadata document.
func newLocalMetadataSink(path string) (sink.Sink, error) {
	return local.New(path, 0o755, 0o644)
}

// Config describes one array level's dimensions, data type, destination
// and compression settings (core spec §4.5, mirrors ArrayWriterConfig).
type Config struct {
	Dimensions        *dimension.Dimensions
	Dtype             datatype.DataType
	LevelOfDetail     int
	StorePath         string
	CompressionParams *compress.Params

	// S3ConnectionPool is nil for a filesystem-backed array; non-nil
	// selects the S3 code path (is_s3_array_ in the original).
	S3ConnectionPool *s3.ConnectionPool
}

func (c Config) isS3() bool { return c.S3ConnectionPool != nil }

// Writer is the common surface of ZarrV2Writer and ZarrV3Writer.
type Writer interface {
	WriteFrame(ctx context.Context, data []byte) (int, error)
	Finalize(ctx context.Context) error
}

// base implements the tiling/flush/rollover state machine that is
// identical across Zarr versions; version-specific behavior is supplied
// by the six function fields below, set once by the concrete writer's
// constructor (standing in for array.writer.cpp's pure virtual methods).
type base struct {
	cfg     Config
	pool    *pool.Pool
	creator *creator.Creator

	mu           sync.Mutex
	chunkBuffers [][]byte
	dataSinks    []sink.Sink
	metadataSink sink.Sink

	bytesToFlush     uint64
	framesWritten    uint32
	appendChunkIndex uint32
	isFinalizing     bool

	// flushChunks writes the (possibly compressed) chunk buffers to
	// data_sinks_, creating them first if empty.
	flushChunks func(ctx context.Context) error
	// rolloverDue reports whether the current append chunk/shard boundary
	// has been crossed and new data sinks must be created.
	rolloverDue func() bool
	// writeArrayMetadata (re)writes the array-level metadata document.
	writeArrayMetadata func(ctx context.Context) error
	// dataRoot returns the root path new data sinks should be created
	// under, given the current append-chunk index.
	dataRoot func() string
	// partsAlong returns how many leaves a dimension should fan out into
	// when creating data sinks (chunks_along for v2, shards_along for v3).
	partsAlong creator.PartsAlongDimension
	// metadataPath returns the path of the single array-level metadata
	// document.
	metadataPath func() string
}

func newBase(cfg Config, p *pool.Pool) *base {
	return &base{cfg: cfg, pool: p, creator: creator.New(p)}
}

// WriteFrame tiles data into the chunk buffers and flushes once a full
// set of chunks (or shards) has been written.
func (b *base) WriteFrame(ctx context.Context, data []byte) (int, error) {
	nbytesFrame := frameByteSize(b.cfg.Dimensions, b.cfg.Dtype)
	if len(data) != nbytesFrame {
		return 0, errors.Fatalf("arraywriter: frame size mismatch: expected %d, got %d", nbytesFrame, len(data))
	}

	b.mu.Lock()
	if len(b.chunkBuffers) == 0 {
		b.makeBuffers()
	}
	b.mu.Unlock()

	written, err := b.writeFrameToChunks(data)
	if err != nil {
		return written, err
	}

	debug.Log("arraywriter: wrote %d bytes of frame %d", written, b.framesWritten)
	b.bytesToFlush += uint64(written)
	b.framesWritten++

	if b.shouldFlush() {
		if err := b.flush(ctx); err != nil {
			return written, err
		}
	}

	return written, nil
}

// frameByteSize is bytes_of_frame: one full 2-D slice of the array.
func frameByteSize(dims *dimension.Dimensions, dtype datatype.DataType) int {
	return dtype.BytesPerType() * int(dims.HeightDim().ArraySizePx) * int(dims.WidthDim().ArraySizePx)
}

func (b *base) makeBuffers() {
	debug.Log("arraywriter: creating chunk buffers")
	n := int(b.cfg.Dimensions.NumberOfChunksInMemory())
	nbytes := b.cfg.Dimensions.BytesPerChunk()

	b.chunkBuffers = make([][]byte, n)
	for i := range b.chunkBuffers {
		b.chunkBuffers[i] = make([]byte, nbytes)
	}
}

// writeFrameToChunks splits one frame into tiles and copies each into its
// chunk buffer, ported from write_frame_to_chunks_.
func (b *base) writeFrameToChunks(data []byte) (int, error) {
	dims := b.cfg.Dimensions
	bytesPerPx := b.cfg.Dtype.BytesPerType()

	xDim := dims.WidthDim()
	frameCols := int(xDim.ArraySizePx)
	tileCols := int(xDim.ChunkSizePx)

	yDim := dims.HeightDim()
	frameRows := int(yDim.ArraySizePx)
	tileRows := int(yDim.ChunkSizePx)

	if tileCols == 0 || tileRows == 0 {
		return 0, nil
	}

	bytesPerRow := tileCols * bytesPerPx

	nTilesX := (frameCols + tileCols - 1) / tileCols
	nTilesY := (frameRows + tileRows - 1) / tileRows

	frameID := uint64(b.framesWritten)
	groupOffset := int(dims.TileGroupOffset(frameID))
	chunkOffset := int(dims.ChunkInternalOffset(frameID))

	b.mu.Lock()
	defer b.mu.Unlock()

	bytesWritten := 0
	for i := 0; i < nTilesY; i++ {
		for j := 0; j < nTilesX; j++ {
			c := groupOffset + i*nTilesX + j
			chunk := b.chunkBuffers[c]
			chunkPos := chunkOffset

			for k := 0; k < tileRows; k++ {
				frameRow := i*tileRows + k
				if frameRow < frameRows {
					frameCol := j * tileCols
					regionWidth := frameCols - frameCol
					if regionWidth > tileCols {
						regionWidth = tileCols
					}

					regionStart := bytesPerPx * (frameRow*frameCols + frameCol)
					nbytes := regionWidth * bytesPerPx
					regionStop := regionStart + nbytes

					if regionStop > len(data) {
						return bytesWritten, errors.Fatal("arraywriter: buffer overflow reading frame data")
					}
					if nbytes > len(chunk)-chunkPos {
						return bytesWritten, errors.Fatal("arraywriter: buffer overflow writing chunk data")
					}

					copy(chunk[chunkPos:chunkPos+nbytes], data[regionStart:regionStop])
					bytesWritten += nbytes
				}
				chunkPos += bytesPerRow
			}
		}
	}

	return bytesWritten, nil
}

// shouldFlush is should_flush_: a full tile-group's worth of frames has
// accumulated in the chunk buffers.
func (b *base) shouldFlush() bool {
	dims := b.cfg.Dimensions
	framesBeforeFlush := uint64(dims.FinalDim().ChunkSizePx)
	for i := 1; i < dims.Ndims()-2; i++ {
		framesBeforeFlush *= uint64(dims.Dim(i).ArraySizePx)
	}
	if framesBeforeFlush == 0 {
		panic("arraywriter: zero frames_before_flush")
	}
	return uint64(b.framesWritten)%framesBeforeFlush == 0
}

// compressBuffers runs the optional Blosc-family compression stage across
// all chunk buffers in parallel, mutating chunkBuffers in place.
func (b *base) compressBuffers(ctx context.Context) error {
	if b.cfg.CompressionParams == nil {
		return nil
	}

	debug.Log("arraywriter: compressing")
	b.mu.Lock()
	defer b.mu.Unlock()
	return compress.CompressBuffers(ctx, b.pool, *b.cfg.CompressionParams, b.cfg.Dtype.BytesPerType(), b.chunkBuffers)
}

// flush compresses and writes out the current chunk buffers, rolling over
// to a new append-chunk index and rewriting metadata when warranted.
func (b *base) flush(ctx context.Context) error {
	debug.RunHook("arraywriter.flush", b.cfg.LevelOfDetail)

	if b.bytesToFlush == 0 {
		return nil
	}

	if err := b.compressBuffers(ctx); err != nil {
		return err
	}
	if err := b.flushChunks(ctx); err != nil {
		return err
	}

	shouldRollover := b.rolloverDue()
	if shouldRollover {
		if err := b.rollover(ctx); err != nil {
			return err
		}
	}

	if shouldRollover || b.isFinalizing {
		if err := b.writeArrayMetadata(ctx); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.makeBuffers()
	b.mu.Unlock()
	b.bytesToFlush = 0

	return nil
}

// closeSinks finalizes and discards every data sink, ready for a new
// append-chunk index's worth of sinks to be created on the next flush.
func (b *base) closeSinks(ctx context.Context) error {
	for i, s := range b.dataSinks {
		if err := s.Finalize(ctx); err != nil {
			return errors.Wrapf(err, "arraywriter: failed to finalize sink %d", i)
		}
	}
	b.dataSinks = nil
	return nil
}

func (b *base) rollover(ctx context.Context) error {
	debug.Log("arraywriter: rolling over")
	if err := b.closeSinks(ctx); err != nil {
		return err
	}
	b.appendChunkIndex++
	return nil
}

// makeDataSinksLocalOrS3 creates data_sinks_ for the current append-chunk
// index, dispatching to the filesystem or S3 creator depending on config.
func (b *base) makeDataSinksLocalOrS3(ctx context.Context) error {
	root := b.dataRoot()

	var sinks []sink.Sink
	var err error
	if b.cfg.isS3() {
		sinks, err = b.creator.MakeDataSinksS3(ctx, b.cfg.S3ConnectionPool, root, b.cfg.Dimensions, b.partsAlong)
	} else {
		sinks, err = b.creator.MakeDataSinksLocal(ctx, root, b.cfg.Dimensions, b.partsAlong)
	}
	if err != nil {
		return errors.Wrapf(err, "arraywriter: failed to create data sinks in %s", root)
	}

	b.dataSinks = sinks
	return nil
}

// makeMetadataSinkIfAbsent creates the single array-level metadata sink,
// a no-op if one already exists (mirroring make_metadata_sink_).
func (b *base) makeMetadataSinkIfAbsent(ctx context.Context) error {
	if b.metadataSink != nil {
		return nil
	}

	path := b.metadataPath()

	var s sink.Sink
	var err error
	if b.cfg.isS3() {
		s, err = s3.New(b.cfg.S3ConnectionPool, path)
	} else {
		s, err = newLocalMetadataSink(path)
	}
	if err != nil {
		return errors.Wrapf(err, "arraywriter: failed to create metadata sink %s", path)
	}

	b.metadataSink = s
	return nil
}

// Finalize flushes any remaining buffered frames, marking the writer as
// finalizing so that flush rewrites metadata, then finalizes any data
// sinks still open and the metadata sink. Mirrors finalize_array.
func (b *base) Finalize(ctx context.Context) error {
	b.isFinalizing = true
	if err := b.flush(ctx); err != nil {
		return errors.Wrap(err, "arraywriter: failed to finalize array writer")
	}
	if err := b.closeSinks(ctx); err != nil {
		return errors.Wrap(err, "arraywriter: failed to finalize array writer")
	}

	if b.metadataSink == nil {
		return nil
	}
	if err := b.metadataSink.Finalize(ctx); err != nil {
		return errors.Wrap(err, "arraywriter: failed to finalize metadata sink")
	}
	return nil
}
