// Package dimension implements the dimension model and index algebra that
// maps a linear frame index to chunk-lattice, shard-lattice and byte-offset
// positions (core spec §3, §4.1).
package dimension

import (
	"github.com/zarrstream/zarrstream/internal/datatype"
	"github.com/zarrstream/zarrstream/internal/errors"
)

// Kind classifies a dimension's semantic role. Only Channel is treated
// specially (never downsampled by the multiscale engine); the rest affect
// only naming/metadata.
type Kind int

const (
	Time Kind = iota
	Channel
	Space
	Other
)

// Dim describes one axis of the array. Index 0 is the outermost/append
// axis; the last two are height (second-to-last) and width (last).
type Dim struct {
	Name            string
	Kind            Kind
	ArraySizePx     uint32
	ChunkSizePx     uint32
	ShardSizeChunks uint32 // 0 means "not sharded"; required > 0 for v3
}

// Dimensions is the validated, ordered tuple of Dim plus the array's
// element type.
type Dimensions struct {
	dims  []Dim
	dtype datatype.DataType
}

// New validates dims and dtype and returns a Dimensions. Validation follows
// the core spec's §3 invariants and is eager: a malformed dimension set is
// an invalid_settings error, not a deferred panic.
func New(dims []Dim, dtype datatype.DataType, v3 bool) (*Dimensions, error) {
	if len(dims) < 3 {
		return nil, errors.Fatal("dimension: array must have at least three dimensions")
	}
	if !dtype.Valid() {
		return nil, errors.Fatal("dimension: invalid data type")
	}

	zeroSized := -1
	for i, d := range dims {
		if d.Name == "" {
			return nil, errors.Fatalf("dimension: dimension %d has empty name", i)
		}
		if d.ChunkSizePx == 0 {
			return nil, errors.Fatalf("dimension: dimension %d (%s) has zero chunk_size_px", i, d.Name)
		}
		if d.ArraySizePx == 0 {
			if zeroSized != -1 {
				return nil, errors.Fatalf("dimension: more than one dimension has array_size_px == 0 (%d and %d)", zeroSized, i)
			}
			zeroSized = i
		} else if d.ChunkSizePx > d.ArraySizePx {
			return nil, errors.Fatalf("dimension: dimension %d (%s) has chunk_size_px > array_size_px", i, d.Name)
		}
		if v3 && d.ShardSizeChunks == 0 {
			return nil, errors.Fatalf("dimension: dimension %d (%s) has zero shard_size_chunks, required for v3", i, d.Name)
		}
	}
	if zeroSized > 0 {
		return nil, errors.Fatalf("dimension: the zero-sized dimension must be index 0, got %d", zeroSized)
	}

	cp := make([]Dim, len(dims))
	copy(cp, dims)
	return &Dimensions{dims: cp, dtype: dtype}, nil
}

// Ndims returns the number of dimensions.
func (d *Dimensions) Ndims() int { return len(d.dims) }

// Dim returns the dimension at idx.
func (d *Dimensions) Dim(idx int) Dim { return d.dims[idx] }

// FinalDim returns the outermost/append dimension (index 0).
func (d *Dimensions) FinalDim() Dim { return d.dims[0] }

// HeightDim returns the second-to-last dimension.
func (d *Dimensions) HeightDim() Dim { return d.dims[len(d.dims)-2] }

// WidthDim returns the last dimension.
func (d *Dimensions) WidthDim() Dim { return d.dims[len(d.dims)-1] }

// DataType returns the array's element type.
func (d *Dimensions) DataType() datatype.DataType { return d.dtype }

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		panic("dimension: division by zero chunk_size_px")
	}
	return (a + b - 1) / b
}

// chunksAlong returns ceil(array_size_px / chunk_size_px) for dim. Never
// called on the append dimension (index 0), whose array_size_px may be 0.
func chunksAlong(dim Dim) uint32 {
	if dim.ChunkSizePx == 0 {
		panic("dimension: chunk_size_px must not be zero")
	}
	return ceilDiv(dim.ArraySizePx, dim.ChunkSizePx)
}

// shardsAlong returns ceil(chunks_along(dim) / shard_size_chunks).
func shardsAlong(dim Dim) uint32 {
	n := chunksAlong(dim)
	if dim.ShardSizeChunks == 0 {
		panic("dimension: shard_size_chunks must not be zero")
	}
	return ceilDiv(n, dim.ShardSizeChunks)
}

// ChunkLatticeIndex computes which chunk along dimIndex frame frameID
// belongs to, treating the frame axis as the Cartesian product of all
// non-spatial dimensions in outer-to-inner order (core spec §4.1).
func (d *Dimensions) ChunkLatticeIndex(frameID uint64, dimIndex int) uint32 {
	n := d.Ndims()
	if dimIndex < 0 || dimIndex >= n-2 {
		panic("dimension: invalid dimension index")
	}

	if dimIndex == 0 {
		divisor := uint64(d.dims[0].ChunkSizePx)
		for i := 1; i < n-2; i++ {
			divisor *= uint64(d.dims[i].ArraySizePx)
		}
		if divisor == 0 {
			panic("dimension: zero divisor in chunk_lattice_index")
		}
		return uint32(frameID / divisor)
	}

	modDivisor := uint64(1)
	divDivisor := uint64(1)
	for i := dimIndex; i < n-2; i++ {
		dim := d.dims[i]
		modDivisor *= uint64(dim.ArraySizePx)
		if i == dimIndex {
			divDivisor *= uint64(dim.ChunkSizePx)
		} else {
			divDivisor *= uint64(dim.ArraySizePx)
		}
	}
	if modDivisor == 0 || divDivisor == 0 {
		panic("dimension: zero divisor in chunk_lattice_index")
	}

	return uint32((frameID % modDivisor) / divDivisor)
}

// TileGroupOffset computes the offset, in units of chunks, within the
// current 2-D lattice slab of the chunk that will receive frameID.
func (d *Dimensions) TileGroupOffset(frameID uint64) uint32 {
	n := d.Ndims()
	strides := make([]uint64, n)
	strides[n-1] = 1
	for i := n - 1; i > 0; i-- {
		dim := d.dims[i]
		strides[i-1] = strides[i] * uint64(ceilDiv(dim.ArraySizePx, dim.ChunkSizePx))
	}

	var offset uint64
	for i := n - 3; i > 0; i-- {
		idx := d.ChunkLatticeIndex(frameID, i)
		offset += uint64(idx) * strides[i]
	}

	return uint32(offset)
}

// ChunkInternalOffset computes the byte offset within a chunk at which the
// tile for frameID begins.
func (d *Dimensions) ChunkInternalOffset(frameID uint64) uint64 {
	n := d.Ndims()
	tileSize := uint64(d.dtype.BytesPerType()) * uint64(d.WidthDim().ChunkSizePx) * uint64(d.HeightDim().ChunkSizePx)

	arrayStrides := make([]uint64, n-2)
	chunkStrides := make([]uint64, n-2)
	for i := range arrayStrides {
		arrayStrides[i] = 1
		chunkStrides[i] = 1
	}

	var offset uint64
	for i := n - 3; i > 0; i-- {
		dim := d.dims[i]
		internalIdx := (frameID / arrayStrides[i]) % uint64(dim.ArraySizePx) % uint64(dim.ChunkSizePx)

		arrayStrides[i-1] = arrayStrides[i] * uint64(dim.ArraySizePx)
		chunkStrides[i-1] = chunkStrides[i] * uint64(dim.ChunkSizePx)
		offset += internalIdx * chunkStrides[i]
	}

	// final (outermost) dimension: skip the array_size_px modulus.
	{
		dim := d.dims[0]
		internalIdx := (frameID / arrayStrides[0]) % uint64(dim.ChunkSizePx)
		offset += internalIdx * chunkStrides[0]
	}

	return offset * tileSize
}

// NumberOfChunksInMemory is the product of chunks_along(d) over all
// dimensions except the outermost.
func (d *Dimensions) NumberOfChunksInMemory() uint32 {
	n := uint32(1)
	for i := 1; i < d.Ndims(); i++ {
		n *= chunksAlong(d.dims[i])
	}
	return n
}

// BytesPerChunk is bytes_per_type times the product of every dimension's
// chunk_size_px.
func (d *Dimensions) BytesPerChunk() int {
	n := d.dtype.BytesPerType()
	for _, dim := range d.dims {
		n *= int(dim.ChunkSizePx)
	}
	return n
}

// NumberOfShards is the product of shards_along(d) over all dimensions
// except the outermost.
func (d *Dimensions) NumberOfShards() uint32 {
	n := uint32(1)
	for i := 1; i < d.Ndims(); i++ {
		n *= shardsAlong(d.dims[i])
	}
	return n
}

// ChunksPerShard is the product of shard_size_chunks over every dimension.
func (d *Dimensions) ChunksPerShard() uint32 {
	n := uint32(1)
	for _, dim := range d.dims {
		n *= dim.ShardSizeChunks
	}
	return n
}

// chunkStrides returns row-major strides over the chunk lattice, one per
// dimension, with the last dimension's stride fixed at 1.
func (d *Dimensions) chunkStrides() []uint64 {
	n := d.Ndims()
	strides := make([]uint64, n)
	strides[n-1] = 1
	for i := n - 1; i > 0; i-- {
		strides[i-1] = strides[i] * uint64(chunksAlong(d.dims[i]))
	}
	return strides
}

// ShardIndexForChunk returns the flat index of the shard containing
// chunkIndex.
func (d *Dimensions) ShardIndexForChunk(chunkIndex uint32) uint32 {
	n := d.Ndims()
	chunkStrides := d.chunkStrides()

	chunkLatticeIndices := make([]uint32, n)
	for i := n - 1; i > 0; i-- {
		chunkLatticeIndices[i] = uint32(uint64(chunkIndex) % chunkStrides[i-1] / chunkStrides[i])
	}

	shardStrides := make([]uint32, n)
	for i := range shardStrides {
		shardStrides[i] = 1
	}
	for i := n - 1; i > 0; i-- {
		shardStrides[i-1] = shardStrides[i] * shardsAlong(d.dims[i])
	}

	shardLatticeIndices := make([]uint32, n)
	for i := 0; i < n; i++ {
		shardLatticeIndices[i] = chunkLatticeIndices[i] / d.dims[i].ShardSizeChunks
	}

	var index uint32
	for i := 0; i < n; i++ {
		index += shardLatticeIndices[i] * shardStrides[i]
	}

	return index
}

// ShardInternalIndex returns the position of chunkIndex within its shard's
// offset table (units of chunks, not u64 pairs).
func (d *Dimensions) ShardInternalIndex(chunkIndex uint32) uint32 {
	n := d.Ndims()
	chunkStrides := d.chunkStrides()

	chunkLatticeIndices := make([]uint64, n)
	for i := n - 1; i > 0; i-- {
		chunkLatticeIndices[i] = uint64(chunkIndex) % chunkStrides[i-1] / chunkStrides[i]
	}
	chunkLatticeIndices[0] = uint64(chunkIndex) / chunkStrides[0]

	chunkInternalStrides := make([]uint64, n)
	for i := range chunkInternalStrides {
		chunkInternalStrides[i] = 1
	}
	for i := n - 1; i > 0; i-- {
		chunkInternalStrides[i-1] = chunkInternalStrides[i] * uint64(d.dims[i].ShardSizeChunks)
	}

	var index uint64
	for i := 0; i < n; i++ {
		index += (chunkLatticeIndices[i] % uint64(d.dims[i].ShardSizeChunks)) * chunkInternalStrides[i]
	}

	return uint32(index)
}
