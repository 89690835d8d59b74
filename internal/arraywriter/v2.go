package arraywriter

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/errors"
	"github.com/zarrstream/zarrstream/internal/metadata"
	"github.com/zarrstream/zarrstream/internal/pool"
)

// chunksAlongDim returns ceil(array_size_px / chunk_size_px) for d. Only
// ever called on dimensions 1..ndims-1, which are guaranteed by
// dimension.New to have a non-zero array_size_px.
func chunksAlongDim(d dimension.Dim) uint32 {
	return (d.ArraySizePx + d.ChunkSizePx - 1) / d.ChunkSizePx
}

// ZarrV2Writer writes one file per chunk, always rolling over after every
// flush (the array always has exactly one "version directory" worth of
// chunks live at a time), grounded on zarrv2.array.writer.cpp.
type ZarrV2Writer struct {
	*base
}

// NewZarrV2Writer constructs a writer for one array level under cfg.
func NewZarrV2Writer(cfg Config, p *pool.Pool) (*ZarrV2Writer, error) {
	if cfg.Dimensions == nil {
		return nil, errors.Fatal("arraywriter: dimensions must not be nil")
	}

	w := &ZarrV2Writer{base: newBase(cfg, p)}

	w.partsAlong = chunksAlongDim
	w.dataRoot = w.zarrV2DataRoot
	w.metadataPath = w.zarrV2MetadataPath
	w.rolloverDue = func() bool { return true }
	w.flushChunks = w.flushChunksV2
	w.writeArrayMetadata = w.writeArrayMetadataV2

	return w, nil
}

func (w *ZarrV2Writer) zarrV2DataRoot() string {
	return path.Join(w.cfg.StorePath, strconv.Itoa(w.cfg.LevelOfDetail), strconv.FormatUint(uint64(w.appendChunkIndex), 10))
}

func (w *ZarrV2Writer) zarrV2MetadataPath() string {
	return path.Join(w.cfg.StorePath, strconv.Itoa(w.cfg.LevelOfDetail), ".zarray")
}

// flushChunksV2 creates one file sink per chunk (if not already created)
// and writes each whole chunk buffer at offset 0, in parallel across the
// thread pool (flush_impl_ in the original).
func (w *ZarrV2Writer) flushChunksV2(ctx context.Context) error {
	if len(w.dataSinks) == 0 {
		if err := w.makeDataSinksLocalOrS3(ctx); err != nil {
			return err
		}
	}
	if len(w.dataSinks) != len(w.chunkBuffers) {
		return errors.Fatalf("arraywriter: data sink count %d does not match chunk buffer count %d", len(w.dataSinks), len(w.chunkBuffers))
	}

	errs := make([]error, len(w.dataSinks))
	var wg sync.WaitGroup

	w.mu.Lock()
	for i := range w.dataSinks {
		i := i
		wg.Add(1)
		w.pool.Submit(ctx, func() error {
			defer wg.Done()
			if err := w.dataSinks[i].Write(ctx, 0, w.chunkBuffers[i]); err != nil {
				errs[i] = errors.Wrapf(err, "failed to write chunk %d", i)
				return errs[i]
			}
			return nil
		})
	}
	w.mu.Unlock()

	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// writeArrayMetadataV2 (re)writes the .zarray document for this level.
func (w *ZarrV2Writer) writeArrayMetadataV2(ctx context.Context) error {
	if err := w.makeMetadataSinkIfAbsent(ctx); err != nil {
		return err
	}

	doc, err := metadata.ArrayV2(w.cfg.Dimensions, w.cfg.Dtype, uint64(w.framesWritten), w.cfg.CompressionParams)
	if err != nil {
		return err
	}

	return w.metadataSink.Write(ctx, 0, doc)
}
