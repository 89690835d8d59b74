package zarrstream

import (
	"context"
	"os"
	"path"
	"runtime"
	"sync"

	"github.com/zarrstream/zarrstream/internal/arraywriter"
	"github.com/zarrstream/zarrstream/internal/debug"
	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/errors"
	"github.com/zarrstream/zarrstream/internal/metadata"
	"github.com/zarrstream/zarrstream/internal/multiscale"
	"github.com/zarrstream/zarrstream/internal/pool"
	"github.com/zarrstream/zarrstream/internal/sink"
	"github.com/zarrstream/zarrstream/internal/sink/creator"
	"github.com/zarrstream/zarrstream/internal/sink/s3"
)

// Stream is the append-only handle to a Zarr store: one array writer per
// level of detail, an optional multiscale engine feeding levels ≥ 1, and
// the store's fixed set of metadata sinks. Grounded on ZarrStream_s.
type Stream struct {
	cfg Config

	pool   *pool.Pool
	s3Pool *s3.ConnectionPool

	writers       []arraywriter.Writer
	levelDims     []*dimension.Dimensions // one per writer, for metadata/frame sizing
	engine        *multiscale.Engine
	metadataSinks map[string]sink.Sink

	mu     sync.Mutex
	closed bool
}

// New builds a Stream from cfg: validates settings, creates (or clears)
// the destination store, builds the full-resolution writer plus any
// multiscale levels, and writes the store's base/group/external metadata
// documents. Mirrors the ZarrStream_s constructor's sequence.
func New(ctx context.Context, cfg Config) (*Stream, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Stream{cfg: cfg}

	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = runtime.GOMAXPROCS(0)
	}
	s.pool = pool.New(poolSize)

	if err := s.createStore(ctx); err != nil {
		s.pool.Close()
		return nil, err
	}

	if err := s.createWriters(); err != nil {
		s.pool.Close()
		return nil, err
	}

	s.createScaledFrameEngine()

	if err := s.createMetadataSinks(ctx); err != nil {
		s.pool.Close()
		return nil, err
	}

	if err := s.writeBaseMetadata(ctx); err != nil {
		s.pool.Close()
		return nil, err
	}
	if err := s.writeGroupMetadata(ctx); err != nil {
		s.pool.Close()
		return nil, err
	}
	if err := s.writeExternalMetadata(ctx); err != nil {
		s.pool.Close()
		return nil, err
	}

	return s, nil
}

// createStore prepares the destination: for S3, a connection pool (which
// itself performs the bucket-existence precheck); for the filesystem, a
// clean store_path directory.
func (s *Stream) createStore(ctx context.Context) error {
	if s.cfg.isS3() {
		p, err := s3.NewConnectionPool(ctx, s.cfg.s3Config())
		if err != nil {
			return errors.Wrap(err, "zarrstream: create S3 connection pool")
		}
		s.s3Pool = p
		return nil
	}

	if err := removeAndRecreateDir(s.cfg.StorePath); err != nil {
		return errors.Wrapf(err, "zarrstream: prepare store path %s", s.cfg.StorePath)
	}
	return nil
}

// createWriters builds the level-0 writer at full resolution, then
// repeatedly downsamples the configuration and appends a writer per level
// until multiscale.Downsample reports the pyramid is complete (core spec
// "Supplemented Features" #5), or does nothing beyond level 0 if
// multiscale is disabled.
func (s *Stream) createWriters() error {
	v3 := s.cfg.Version == metadata.V3

	dims0, err := dimension.New(s.cfg.Dimensions, s.cfg.Dtype, v3)
	if err != nil {
		return errors.Wrap(err, "zarrstream: invalid dimensions")
	}

	w0, err := s.newWriter(dims0, 0)
	if err != nil {
		return err
	}
	s.writers = []arraywriter.Writer{w0}
	s.levelDims = []*dimension.Dimensions{dims0}

	if !s.cfg.Multiscale {
		return nil
	}

	current := dims0
	level := 1
	for {
		next, ok, err := multiscale.Downsample(current, v3)
		if err != nil {
			return errors.Wrap(err, "zarrstream: build multiscale level")
		}

		w, err := s.newWriter(next, level)
		if err != nil {
			return err
		}
		s.writers = append(s.writers, w)
		s.levelDims = append(s.levelDims, next)

		if !ok {
			return nil
		}
		current = next
		level++
	}
}

func (s *Stream) newWriter(dims *dimension.Dimensions, level int) (arraywriter.Writer, error) {
	cfg := arraywriter.Config{
		Dimensions:        dims,
		Dtype:             s.cfg.Dtype,
		LevelOfDetail:     level,
		StorePath:         s.cfg.StorePath,
		CompressionParams: s.cfg.CompressionParams,
		S3ConnectionPool:  s.s3Pool,
	}

	if s.cfg.Version == metadata.V3 {
		return arraywriter.NewZarrV3Writer(cfg, s.pool)
	}
	return arraywriter.NewZarrV2Writer(cfg, s.pool)
}

// createScaledFrameEngine allocates the per-level scaled-frame slots, a
// no-op when multiscale is disabled or only the full-resolution writer
// exists.
func (s *Stream) createScaledFrameEngine() {
	if !s.cfg.Multiscale || len(s.writers) < 2 {
		return
	}

	dims0 := s.levelDims[0]
	s.engine = multiscale.NewEngine(s.cfg.Dtype, int(dims0.WidthDim().ArraySizePx), int(dims0.HeightDim().ArraySizePx), len(s.writers))
}

// createMetadataSinks creates the store-level metadata documents (base,
// group, level-0 attrs placeholder, external), one per the fixed name set
// for cfg.Version.
func (s *Stream) createMetadataSinks(ctx context.Context) error {
	c := creator.New(s.pool)

	var sinks map[string]sink.Sink
	var err error
	if s.cfg.isS3() {
		sinks, err = c.MakeMetadataSinksS3(ctx, s.s3Pool, s.cfg.Version, s.cfg.StorePath)
	} else {
		sinks, err = c.MakeMetadataSinksLocal(ctx, s.cfg.Version, s.cfg.StorePath)
	}
	if err != nil {
		return errors.Wrap(err, "zarrstream: create metadata sinks")
	}

	s.metadataSinks = sinks
	return nil
}

func (s *Stream) multiscaleDoc() ([]byte, error) {
	return metadata.Multiscale(s.levelDims[0], len(s.writers))
}

func (s *Stream) metadataSink(name string) (sink.Sink, error) {
	sk, ok := s.metadataSinks[name]
	if !ok {
		return nil, errors.Fatalf("zarrstream: metadata sink %q not found", name)
	}
	return sk, nil
}

// writeBaseMetadata writes .zattrs (v2, containing the multiscales
// document) or zarr.json (v3, the protocol-level base document).
func (s *Stream) writeBaseMetadata(ctx context.Context) error {
	multiscales, err := s.multiscaleDoc()
	if err != nil {
		return err
	}

	var name string
	var doc []byte
	if s.cfg.Version == metadata.V2 {
		name = ".zattrs"
		doc, err = metadata.BaseV2(multiscales)
	} else {
		name = "zarr.json"
		doc, err = metadata.BaseV3()
	}
	if err != nil {
		return err
	}

	sk, err := s.metadataSink(name)
	if err != nil {
		return err
	}
	return sk.Write(ctx, 0, doc)
}

// writeGroupMetadata writes .zgroup (v2) or meta/root.group.json (v3,
// carrying attributes.multiscales).
func (s *Stream) writeGroupMetadata(ctx context.Context) error {
	var name string
	var doc []byte
	var err error

	if s.cfg.Version == metadata.V2 {
		name = ".zgroup"
		doc, err = metadata.GroupV2()
	} else {
		name = "meta/root.group.json"
		var multiscales []byte
		multiscales, err = s.multiscaleDoc()
		if err != nil {
			return err
		}
		doc, err = metadata.GroupV3(multiscales)
	}
	if err != nil {
		return err
	}

	sk, err := s.metadataSink(name)
	if err != nil {
		return err
	}
	return sk.Write(ctx, 0, doc)
}

// writeExternalMetadata writes the caller-supplied JSON as acquire.json
// (v2) or meta/acquire.json (v3); a no-op if none was supplied.
func (s *Stream) writeExternalMetadata(ctx context.Context) error {
	if len(s.cfg.CustomMetadata) == 0 {
		return nil
	}

	doc, err := metadata.External(s.cfg.CustomMetadata)
	if err != nil {
		return err
	}

	name := "acquire.json"
	if s.cfg.Version == metadata.V3 {
		name = path.Join("meta", name)
	}

	sk, err := s.metadataSink(name)
	if err != nil {
		return err
	}
	return sk.Write(ctx, 0, doc)
}

// frameByteSize is bytes_of_frame: one full 2-D slice of the full
// resolution array.
func (s *Stream) frameByteSize() int {
	dims0 := s.levelDims[0]
	return s.cfg.Dtype.BytesPerType() * int(dims0.HeightDim().ArraySizePx) * int(dims0.WidthDim().ArraySizePx)
}

// Append consumes as many whole frames from data as it contains, writing
// each to the full-resolution writer and feeding the multiscale engine,
// stopping early if the underlying writer reports it wrote zero bytes.
// Mirrors ZarrStream_s::append.
func (s *Stream) Append(ctx context.Context, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.Fatal("zarrstream: stream is closed")
	}
	if err := s.pool.Err(); err != nil {
		return 0, errors.Wrap(err, "zarrstream: cannot append, a prior task failed")
	}

	frameSize := s.frameByteSize()
	if frameSize == 0 {
		return 0, errors.Fatal("zarrstream: frame size is zero")
	}

	total := 0
	for len(data)-total >= frameSize {
		frame := data[total : total+frameSize]

		written, err := s.writers[0].WriteFrame(ctx, frame)
		if err != nil {
			return total, errors.Wrap(err, "zarrstream: write full-resolution frame")
		}
		if written == 0 {
			break
		}

		if s.engine != nil {
			if err := s.engine.Apply(frame, func(level int, scaled []byte) error {
				return s.writers[level].WriteFrame(ctx, scaled)
			}); err != nil {
				return total, err
			}
		}

		total += written
		debug.Log("zarrstream: appended frame, %d bytes total", total)
	}

	return total, nil
}

// Close flushes and finalizes every writer, in reverse-construction
// order: group metadata is rewritten one last time (it must precede the
// chunk files closing), metadata sinks are finalized, every array writer
// is finalized, then the worker pool is closed. Mirrors ~ZarrStream_s.
// Close is idempotent.
func (s *Stream) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if err != nil {
			debug.Log("zarrstream: error finalizing stream: %v", err)
		}
	}

	record(s.writeGroupMetadata(ctx))

	for name, sk := range s.metadataSinks {
		if err := sk.Finalize(ctx); err != nil {
			record(errors.Wrapf(err, "zarrstream: finalize metadata sink %s", name))
		}
	}
	s.metadataSinks = nil

	for i, w := range s.writers {
		if err := w.Finalize(ctx); err != nil {
			record(errors.Wrapf(err, "zarrstream: finalize writer level %d", i))
		}
	}

	s.pool.Close()

	return firstErr
}

// removeAndRecreateDir discards any existing contents of dir and recreates
// it empty, mirroring create_store_'s fs::remove_all + fs::create_directories
// for a filesystem destination.
func removeAndRecreateDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrap(err, "remove existing store path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create store path")
	}
	return nil
}
