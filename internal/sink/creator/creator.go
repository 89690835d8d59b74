// Package creator materializes the tree of sinks for an array writer: one
// file or shard-object sink per leaf of the chunk/shard lattice, plus the
// fixed set of metadata sinks for a given Zarr version (core spec §4.4),
// grounded on the original's sink.creator.cpp.
package creator

import (
	"context"
	"os"
	"path"
	"strconv"
	"sync"

	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/errors"
	"github.com/zarrstream/zarrstream/internal/metadata"
	"github.com/zarrstream/zarrstream/internal/pool"
	"github.com/zarrstream/zarrstream/internal/sink"
	"github.com/zarrstream/zarrstream/internal/sink/local"
	"github.com/zarrstream/zarrstream/internal/sink/s3"
)

// PartsAlongDimension returns, for a given dimension, how many leaves the
// path tree should fan out into at that level: chunks_along(d) for the
// ZarrV2 writer, shards_along(d) for ZarrV3.
type PartsAlongDimension func(d dimension.Dim) uint32

// Creator builds sink trees, parallelizing local file/directory creation
// across the shared thread pool. S3 object sinks are built serially
// (construction is cheap; no thread-pool job is warranted, matching the
// original's make_s3_objects_).
type Creator struct {
	pool              *pool.Pool
	dirMode, fileMode os.FileMode
}

// New returns a Creator using p for local filesystem fan-out.
func New(p *pool.Pool) *Creator {
	return &Creator{pool: p, dirMode: 0o755, fileMode: 0o644}
}

// dataSinkPaths performs the breadth-first path expansion described in the
// original's make_data_sink_paths_: one path segment per dimension from
// index 1 (skipping the append axis) through the width dimension.
func dataSinkPaths(basePath string, dims *dimension.Dimensions, partsAlong PartsAlongDimension) []string {
	paths := []string{basePath}

	n := dims.Ndims()
	for i := 1; i < n-1; i++ {
		nParts := partsAlong(dims.Dim(i))
		next := make([]string, 0, len(paths)*int(nParts))
		for _, p := range paths {
			for k := uint32(0); k < nParts; k++ {
				next = append(next, joinPath(p, strconv.FormatUint(uint64(k), 10)))
			}
		}
		paths = next
	}

	// final dimension: width.
	nParts := partsAlong(dims.WidthDim())
	next := make([]string, 0, len(paths)*int(nParts))
	for _, p := range paths {
		for j := uint32(0); j < nParts; j++ {
			next = append(next, joinPath(p, strconv.FormatUint(uint64(j), 10)))
		}
	}
	return next
}

func joinPath(base, leaf string) string {
	if base == "" {
		return leaf
	}
	return base + "/" + leaf
}

// metadataSinkPaths returns the fixed metadata document names for version,
// relative to the array's base path (core spec §4.6, §4.7).
func metadataSinkPaths(version metadata.Version) []string {
	switch version {
	case metadata.V2:
		return []string{".zattrs", ".zgroup", "0/.zattrs", "acquire.json"}
	case metadata.V3:
		return []string{"zarr.json", "meta/root.group.json", "meta/acquire.json"}
	default:
		panic("creator: invalid zarr version")
	}
}

// MakeDataSinksLocal creates one filesystem sink per leaf of the chunk (v2)
// or shard (v3) lattice rooted at basePath.
func (c *Creator) MakeDataSinksLocal(ctx context.Context, basePath string, dims *dimension.Dimensions, partsAlong PartsAlongDimension) ([]sink.Sink, error) {
	if basePath == "" {
		return nil, errors.Fatal("creator: base path must not be empty")
	}

	leaves := dataSinkPaths(basePath, dims, partsAlong)
	return c.makeFiles(ctx, leaves)
}

// MakeDataSinksS3 creates one S3 object sink per leaf, addressed as
// basePath/leaf under bucket.
func (c *Creator) MakeDataSinksS3(ctx context.Context, pool *s3.ConnectionPool, basePath string, dims *dimension.Dimensions, partsAlong PartsAlongDimension) ([]sink.Sink, error) {
	if basePath == "" {
		return nil, errors.Fatal("creator: base path must not be empty")
	}
	if pool == nil {
		return nil, errors.Fatal("creator: s3 connection pool not provided")
	}

	leaves := dataSinkPaths("", dims, partsAlong)
	sinks := make([]sink.Sink, len(leaves))
	for i, leaf := range leaves {
		key := path.Join(basePath, leaf)
		s, err := s3.New(pool, key)
		if err != nil {
			return nil, err
		}
		sinks[i] = s
	}
	return sinks, nil
}

// MakeMetadataSinksLocal creates the fixed set of metadata file sinks for
// version, rooted at basePath.
func (c *Creator) MakeMetadataSinksLocal(ctx context.Context, version metadata.Version, basePath string) (map[string]sink.Sink, error) {
	if basePath == "" {
		return nil, errors.Fatal("creator: base path must not be empty")
	}

	names := metadataSinkPaths(version)
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = path.Join(basePath, name)
	}

	sinks, err := c.makeFiles(ctx, paths)
	if err != nil {
		return nil, err
	}

	out := make(map[string]sink.Sink, len(names))
	for i, name := range names {
		out[name] = sinks[i]
	}
	return out, nil
}

// MakeMetadataSinksS3 creates the fixed set of metadata object sinks for
// version, addressed as basePath/name under bucket.
func (c *Creator) MakeMetadataSinksS3(ctx context.Context, pool *s3.ConnectionPool, version metadata.Version, basePath string) (map[string]sink.Sink, error) {
	if basePath == "" {
		return nil, errors.Fatal("creator: base path must not be empty")
	}
	if pool == nil {
		return nil, errors.Fatal("creator: s3 connection pool not provided")
	}

	names := metadataSinkPaths(version)
	out := make(map[string]sink.Sink, len(names))
	for _, name := range names {
		key := path.Join(basePath, name)
		s, err := s3.New(pool, key)
		if err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, nil
}

// makeFiles creates a local.Sink per path in parallel across the thread
// pool, waiting for every creation to finish and failing the whole batch
// if any one of them failed (all_successful in the original).
func (c *Creator) makeFiles(ctx context.Context, paths []string) ([]sink.Sink, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	sinks := make([]sink.Sink, len(paths))
	errs := make([]error, len(paths))

	var wg sync.WaitGroup
	for i, p := range paths {
		i, p := i, p
		wg.Add(1)
		c.pool.Submit(ctx, func() error {
			defer wg.Done()
			s, err := local.New(p, c.dirMode, c.fileMode)
			if err != nil {
				errs[i] = err
				return err
			}
			sinks[i] = s
			return nil
		})
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return sinks, nil
}
