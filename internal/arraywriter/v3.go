package arraywriter

import (
	"context"
	"encoding/binary"
	"path"
	"strconv"
	"sync"

	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/errors"
	"github.com/zarrstream/zarrstream/internal/metadata"
	"github.com/zarrstream/zarrstream/internal/pool"
)

// shardsAlongDim returns ceil(chunks_along(d) / shard_size_chunks).
func shardsAlongDim(d dimension.Dim) uint32 {
	return (chunksAlongDim(d) + d.ShardSizeChunks - 1) / d.ShardSizeChunks
}

// noOffset marks an unwritten slot in a shard's trailing offset table,
// mirroring the original's std::numeric_limits<uint64_t>::max() sentinel.
const noOffset = ^uint64(0)

// ZarrV3Writer packs chunks into shard files, maintaining a per-shard
// trailing offset table of (offset, nbytes) pairs written once the shard
// is complete or the stream finalizes, grounded on zarrv3.array.writer.cpp.
type ZarrV3Writer struct {
	*base

	shardMu          sync.Mutex
	shardFileOffsets []uint64
	shardTables      [][]uint64 // one table per shard, 2*chunks_per_shard entries
}

// NewZarrV3Writer constructs a writer for one array level under cfg.
func NewZarrV3Writer(cfg Config, p *pool.Pool) (*ZarrV3Writer, error) {
	if cfg.Dimensions == nil {
		return nil, errors.Fatal("arraywriter: dimensions must not be nil")
	}

	numShards := cfg.Dimensions.NumberOfShards()
	chunksPerShard := cfg.Dimensions.ChunksPerShard()

	w := &ZarrV3Writer{
		base:             newBase(cfg, p),
		shardFileOffsets: make([]uint64, numShards),
		shardTables:      make([][]uint64, numShards),
	}
	for i := range w.shardTables {
		table := make([]uint64, 2*chunksPerShard)
		for j := range table {
			table[j] = noOffset
		}
		w.shardTables[i] = table
	}

	w.partsAlong = shardsAlongDim
	w.dataRoot = w.zarrV3DataRoot
	w.metadataPath = w.zarrV3MetadataPath
	w.rolloverDue = w.shouldRolloverV3
	w.flushChunks = w.flushChunksV3
	w.writeArrayMetadata = w.writeArrayMetadataV3

	return w, nil
}

func (w *ZarrV3Writer) zarrV3DataRoot() string {
	return path.Join(w.cfg.StorePath, "data", "root", strconv.Itoa(w.cfg.LevelOfDetail), "c"+strconv.FormatUint(uint64(w.appendChunkIndex), 10))
}

func (w *ZarrV3Writer) zarrV3MetadataPath() string {
	return path.Join(w.cfg.StorePath, "meta", "root", strconv.Itoa(w.cfg.LevelOfDetail)+".array.json")
}

// shouldRolloverV3 is should_rollover_, using the shard-aware frame count
// (chunk_size_px * shard_size_chunks of the append dimension) per the
// corrected multiplier decision.
func (w *ZarrV3Writer) shouldRolloverV3() bool {
	dims := w.cfg.Dimensions
	appendDim := dims.FinalDim()
	framesBeforeFlush := uint64(appendDim.ChunkSizePx) * uint64(appendDim.ShardSizeChunks)
	for i := 1; i < dims.Ndims()-2; i++ {
		framesBeforeFlush *= uint64(dims.Dim(i).ArraySizePx)
	}
	if framesBeforeFlush == 0 {
		panic("arraywriter: zero frames_before_flush")
	}
	return uint64(w.framesWritten)%framesBeforeFlush == 0
}

// flushChunksV3 partitions chunk buffers by shard, writes each shard's
// chunks sequentially into its file, and appends the trailing offset
// table once the shard is complete (or the stream is finalizing).
func (w *ZarrV3Writer) flushChunksV3(ctx context.Context) error {
	if len(w.dataSinks) == 0 {
		if err := w.makeDataSinksLocalOrS3(ctx); err != nil {
			return err
		}
	}

	dims := w.cfg.Dimensions
	nShards := int(dims.NumberOfShards())
	if len(w.dataSinks) != nShards {
		return errors.Fatalf("arraywriter: data sink count %d does not match shard count %d", len(w.dataSinks), nShards)
	}

	chunksInShard := make([][]uint32, nShards)
	for i := range w.chunkBuffers {
		shardIdx := dims.ShardIndexForChunk(uint32(i))
		chunksInShard[shardIdx] = append(chunksInShard[shardIdx], uint32(i))
	}

	writeTable := w.isFinalizing || w.shouldRolloverV3()

	errs := make([]error, nShards)
	var wg sync.WaitGroup

	w.shardMu.Lock()
	w.mu.Lock()
	for shardIdx := 0; shardIdx < nShards; shardIdx++ {
		shardIdx := shardIdx
		chunks := chunksInShard[shardIdx]
		wg.Add(1)
		w.pool.Submit(ctx, func() error {
			defer wg.Done()
			if err := w.writeShard(ctx, shardIdx, chunks, writeTable); err != nil {
				errs[shardIdx] = err
				return err
			}
			return nil
		})
	}
	w.mu.Unlock()
	w.shardMu.Unlock()

	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	if writeTable {
		w.shardMu.Lock()
		for _, table := range w.shardTables {
			for i := range table {
				table[i] = noOffset
			}
		}
		for i := range w.shardFileOffsets {
			w.shardFileOffsets[i] = 0
		}
		w.shardMu.Unlock()
	}

	return nil
}

// writeShard writes every chunk assigned to shardIdx at the shard's
// current file offset, updating the shard's offset table entry for each,
// then appends the serialized table if writeTable is set.
func (w *ZarrV3Writer) writeShard(ctx context.Context, shardIdx int, chunks []uint32, writeTable bool) error {
	sink := w.dataSinks[shardIdx]
	table := w.shardTables[shardIdx]
	dims := w.cfg.Dimensions

	fileOffset := w.shardFileOffsets[shardIdx]

	for _, chunkIdx := range chunks {
		chunk := w.chunkBuffers[chunkIdx]
		if err := sink.Write(ctx, int64(fileOffset), chunk); err != nil {
			return errors.Wrapf(err, "arraywriter: failed to write chunk %d to shard %d", chunkIdx, shardIdx)
		}

		internalIdx := dims.ShardInternalIndex(chunkIdx)
		table[2*internalIdx] = fileOffset
		table[2*internalIdx+1] = uint64(len(chunk))

		fileOffset += uint64(len(chunk))
	}

	if writeTable {
		buf := make([]byte, 8*len(table))
		for i, v := range table {
			binary.LittleEndian.PutUint64(buf[8*i:], v)
		}
		if err := sink.Write(ctx, int64(fileOffset), buf); err != nil {
			return errors.Wrapf(err, "arraywriter: failed to write offset table for shard %d", shardIdx)
		}
	}

	w.shardFileOffsets[shardIdx] = fileOffset
	return nil
}

// writeArrayMetadataV3 (re)writes the {level}.array.json document.
func (w *ZarrV3Writer) writeArrayMetadataV3(ctx context.Context) error {
	if err := w.makeMetadataSinkIfAbsent(ctx); err != nil {
		return err
	}

	doc, err := metadata.ArrayV3(w.cfg.Dimensions, w.cfg.Dtype, uint64(w.framesWritten), w.cfg.CompressionParams)
	if err != nil {
		return err
	}

	return w.metadataSink.Write(ctx, 0, doc)
}
