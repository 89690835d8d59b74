// Package multiscale implements the pyramid engine: downsampling an array
// writer configuration for the next level of detail, and downsampling plus
// pairwise-averaging frame data as they flow into each level's writer (core
// spec §4.8), grounded on original_source/src/streaming/array.writer.cpp
// (downsample) and zarr.stream.cpp (scale_image<T>, average_two_frames<T>,
// write_multiscale_frames_).
package multiscale

import (
	"encoding/binary"
	"math"

	"github.com/zarrstream/zarrstream/internal/datatype"
	"github.com/zarrstream/zarrstream/internal/debug"
	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/errors"
)

// Downsample builds the dimension set one level of detail down from dims:
// every non-channel dimension has its array_size_px halved (rounding odd
// sizes up), its chunk_size_px clamped to the new array size, and its
// shard_size_chunks clamped to the new chunk count. It reports ok=false
// when any dimension's chunk size had to shrink, signaling that next is
// the last level of the pyramid.
func Downsample(dims *dimension.Dimensions, v3 bool) (next *dimension.Dimensions, ok bool, err error) {
	n := dims.Ndims()
	downsampled := make([]dimension.Dim, n)

	for i := 0; i < n; i++ {
		dim := dims.Dim(i)
		if dim.Kind == dimension.Channel {
			downsampled[i] = dim
			continue
		}

		arraySizePx := (dim.ArraySizePx + dim.ArraySizePx%2) / 2

		chunkSizePx := dim.ChunkSizePx
		if dim.ArraySizePx != 0 && dim.ChunkSizePx > arraySizePx {
			chunkSizePx = arraySizePx
		}
		if chunkSizePx == 0 {
			return nil, false, errors.Fatalf("multiscale: dimension %d (%s) downsampled to zero chunk_size_px", i, dim.Name)
		}

		nChunks := (arraySizePx + chunkSizePx - 1) / chunkSizePx
		shardSizeChunks := dim.ShardSizeChunks
		if dim.ArraySizePx == 0 {
			shardSizeChunks = 1
		} else if nChunks < dim.ShardSizeChunks {
			shardSizeChunks = nChunks
		}

		downsampled[i] = dimension.Dim{
			Name:            dim.Name,
			Kind:            dim.Kind,
			ArraySizePx:     arraySizePx,
			ChunkSizePx:     chunkSizePx,
			ShardSizeChunks: shardSizeChunks,
		}
	}

	next, err = dimension.New(downsampled, dims.DataType(), v3)
	if err != nil {
		return nil, false, errors.Wrap(err, "multiscale: downsampled dimensions are invalid")
	}

	for i := 0; i < n; i++ {
		if dims.Dim(i).ChunkSizePx > next.Dim(i).ChunkSizePx {
			return next, false, nil
		}
	}

	return next, true, nil
}

// decodeElement reads the idx-th element of buf as a float64, dispatching
// on dtype's width and signedness.
func decodeElement(dtype datatype.DataType, buf []byte, idx int) float64 {
	off := idx * dtype.BytesPerType()
	switch dtype {
	case datatype.Int8:
		return float64(int8(buf[off]))
	case datatype.Uint8:
		return float64(buf[off])
	case datatype.Int16:
		return float64(int16(binary.LittleEndian.Uint16(buf[off:])))
	case datatype.Uint16:
		return float64(binary.LittleEndian.Uint16(buf[off:]))
	case datatype.Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[off:])))
	case datatype.Uint32:
		return float64(binary.LittleEndian.Uint32(buf[off:]))
	case datatype.Int64:
		return float64(int64(binary.LittleEndian.Uint64(buf[off:])))
	case datatype.Uint64:
		return float64(binary.LittleEndian.Uint64(buf[off:]))
	case datatype.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])))
	case datatype.Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
	default:
		panic("multiscale: unknown data type")
	}
}

// encodeElement writes v as the idx-th element of buf, truncating to
// dtype's width the way a C `static_cast<T>` would.
func encodeElement(dtype datatype.DataType, buf []byte, idx int, v float64) {
	off := idx * dtype.BytesPerType()
	switch dtype {
	case datatype.Int8:
		buf[off] = byte(int8(v))
	case datatype.Uint8:
		buf[off] = byte(uint8(v))
	case datatype.Int16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(int16(v)))
	case datatype.Uint16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(v))
	case datatype.Int32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
	case datatype.Uint32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
	case datatype.Int64:
		binary.LittleEndian.PutUint64(buf[off:], uint64(int64(v)))
	case datatype.Uint64:
		binary.LittleEndian.PutUint64(buf[off:], uint64(v))
	case datatype.Float32:
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
	case datatype.Float64:
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
	default:
		panic("multiscale: unknown data type")
	}
}

// downsampleFrame halves src's width and height via 2x2 box averaging,
// padding odd dimensions by replicating the last row/column, ported from
// scale_image<T>. Unlike the original, elements are read and written at
// their true dtype width rather than as raw bytes, so the result is
// correct for every data type, not only single-byte ones.
func downsampleFrame(dtype datatype.DataType, src []byte, width, height int) ([]byte, int, int) {
	wPad := width + width%2
	hPad := height + height%2
	newWidth := wPad / 2
	newHeight := hPad / 2

	dst := make([]byte, newWidth*newHeight*dtype.BytesPerType())

	dstIdx := 0
	for row := 0; row < height; row += 2 {
		padHeight := row == height-1 && height != hPad
		for col := 0; col < width; col += 2 {
			srcIdx := row*width + col
			padWidth := col == width-1 && width != wPad

			here := decodeElement(dtype, src, srcIdx)
			right := decodeElement(dtype, src, srcIdx+rowStep(padWidth))
			down := decodeElement(dtype, src, srcIdx+width*rowStep(padHeight))
			diag := decodeElement(dtype, src, srcIdx+width*rowStep(padHeight)+rowStep(padWidth))

			encodeElement(dtype, dst, dstIdx, 0.25*(here+right+down+diag))
			dstIdx++
		}
	}

	return dst, newWidth, newHeight
}

// rowStep is 0 when the edge is padded (replicate the current element)
// and 1 otherwise (advance to the true neighbor).
func rowStep(pad bool) int {
	if pad {
		return 0
	}
	return 1
}

// averageFrames computes dst[i] = 0.5*(a[i]+b[i]) element-wise, ported
// from average_two_frames<T>.
func averageFrames(dtype datatype.DataType, a, b []byte) []byte {
	n := len(a) / dtype.BytesPerType()
	dst := make([]byte, len(a))
	for i := 0; i < n; i++ {
		v := 0.5 * (decodeElement(dtype, a, i) + decodeElement(dtype, b, i))
		encodeElement(dtype, dst, i, v)
	}
	return dst
}

// WriteFrameFunc writes a fully-assembled frame to the array writer at
// the given pyramid level.
type WriteFrameFunc func(level int, data []byte) error

// Engine advances the scaled-frame slot state machine across appended
// frames for levels 1..N-1 of a pyramid (core spec §4.8, "Scaled-frame
// slot").
type Engine struct {
	dtype  datatype.DataType
	width  int
	height int
	slots  [][]byte // index 0 unused; slots[i] holds a pending downsampled frame for level i
}

// NewEngine constructs an Engine for an array of numLevels writers (level
// 0 is full resolution and is not tracked here), with frameWidth/
// frameHeight the full-resolution frame dimensions.
func NewEngine(dtype datatype.DataType, frameWidth, frameHeight, numLevels int) *Engine {
	return &Engine{dtype: dtype, width: frameWidth, height: frameHeight, slots: make([][]byte, numLevels)}
}

// Apply runs one appended frame through the pyramid, writing to write for
// every level whose slot completes a pair, ported from
// write_multiscale_frames_.
func (e *Engine) Apply(frame []byte, write WriteFrameFunc) error {
	width, height := e.width, e.height
	current := frame

	for level := 1; level < len(e.slots); level++ {
		scaled, newWidth, newHeight := downsampleFrame(e.dtype, current, width, height)
		width, height = newWidth, newHeight

		if e.slots[level] == nil {
			e.slots[level] = scaled
			break
		}

		averaged := averageFrames(e.dtype, e.slots[level], scaled)
		e.slots[level] = nil

		debug.RunHook("multiscale.Engine.Apply", level)

		if err := write(level, averaged); err != nil {
			return errors.Wrapf(err, "multiscale: failed to write frame to level %d", level)
		}

		current = averaged
	}

	return nil
}
