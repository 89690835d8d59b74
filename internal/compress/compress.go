// Package compress implements the optional per-chunk Blosc-family
// compression stage run in parallel across chunk buffers during flush
// (core spec §4.5 step 2).
package compress

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"

	"github.com/zarrstream/zarrstream/internal/debug"
	"github.com/zarrstream/zarrstream/internal/errors"
	"github.com/zarrstream/zarrstream/internal/pool"
)

// Shuffle selects the byte-shuffle transform applied before compression.
type Shuffle int

const (
	ShuffleNone Shuffle = iota
	ShuffleByte
	ShuffleBit
)

// Params mirrors the core spec's compression_params: {codec_id, clevel,
// shuffle}.
type Params struct {
	CodecID string // "zstd", "lz4", or "blosclz"
	Clevel  int    // 0..=9
	Shuffle Shuffle
}

// Validate returns an invalid_settings error if p is malformed (core spec
// §7: "missing codec when compressor set").
func (p Params) Validate() error {
	switch p.CodecID {
	case "zstd", "lz4", "blosclz":
	default:
		return errors.Fatalf("compress: unknown codec_id %q", p.CodecID)
	}
	if p.Clevel < 0 || p.Clevel > 9 {
		return errors.Fatalf("compress: clevel %d out of range [0,9]", p.Clevel)
	}
	switch p.Shuffle {
	case ShuffleNone, ShuffleByte, ShuffleBit:
	default:
		return errors.Fatalf("compress: shuffle %d out of range {0,1,2}", int(p.Shuffle))
	}
	return nil
}

// shuffleBytes performs a byte-wise stride transpose of buf, grouping
// element i's byte k with every other element's byte k. This is the
// transform Blosc calls "byte shuffle"; it has no counterpart in
// klauspost/compress, so it is implemented directly (see DESIGN.md).
func shuffleBytes(buf []byte, bytesPerElem int) []byte {
	if bytesPerElem <= 1 || len(buf)%bytesPerElem != 0 {
		return buf
	}
	n := len(buf) / bytesPerElem
	out := make([]byte, len(buf))
	for k := 0; k < bytesPerElem; k++ {
		dst := out[k*n : (k+1)*n]
		for i := 0; i < n; i++ {
			dst[i] = buf[i*bytesPerElem+k]
		}
	}
	return out
}

// unshuffleBytes reverses shuffleBytes.
func unshuffleBytes(buf []byte, bytesPerElem int) []byte {
	if bytesPerElem <= 1 || len(buf)%bytesPerElem != 0 {
		return buf
	}
	n := len(buf) / bytesPerElem
	out := make([]byte, len(buf))
	for k := 0; k < bytesPerElem; k++ {
		src := buf[k*n : (k+1)*n]
		for i := 0; i < n; i++ {
			out[i*bytesPerElem+k] = src[i]
		}
	}
	return out
}

// Compress compresses src per params, applying a byte shuffle first if
// requested. bytesPerElem is the array's element byte size (bytes_per_px
// in the original), used only for shuffling.
func Compress(params Params, bytesPerElem int, src []byte) ([]byte, error) {
	if params.Shuffle == ShuffleByte || params.Shuffle == ShuffleBit {
		src = shuffleBytes(src, bytesPerElem)
	}

	switch params.CodecID {
	case "zstd":
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(params.Clevel)))
		if err != nil {
			return nil, errors.Wrap(err, "compress: new zstd encoder")
		}
		defer enc.Close()
		return enc.EncodeAll(src, nil), nil
	case "lz4", "blosclz":
		var buf bytes.Buffer
		w := s2.NewWriter(&buf, s2.WriterBetterCompression())
		if _, err := w.Write(src); err != nil {
			return nil, errors.Wrap(err, "compress: s2 write")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "compress: s2 close")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Fatalf("compress: unknown codec_id %q", params.CodecID)
	}
}

// Decompress reverses Compress.
func Decompress(params Params, bytesPerElem int, src []byte) ([]byte, error) {
	var out []byte
	switch params.CodecID {
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(err, "compress: new zstd decoder")
		}
		defer dec.Close()
		out, err = dec.DecodeAll(src, nil)
		if err != nil {
			return nil, errors.Wrap(err, "compress: zstd decode")
		}
	case "lz4", "blosclz":
		r := s2.NewReader(bytes.NewReader(src))
		buf, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, "compress: s2 read")
		}
		out = buf
	default:
		return nil, errors.Fatalf("compress: unknown codec_id %q", params.CodecID)
	}

	if params.Shuffle == ShuffleByte || params.Shuffle == ShuffleBit {
		out = unshuffleBytes(out, bytesPerElem)
	}
	return out, nil
}

func zstdLevel(clevel int) zstd.EncoderLevel {
	switch {
	case clevel <= 1:
		return zstd.SpeedFastest
	case clevel <= 4:
		return zstd.SpeedDefault
	case clevel <= 7:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// CompressBuffers compresses each of chunks in parallel via p, replacing
// chunks[i] with its compressed form in place. Mirrors the original's
// compress_buffers_: one thread-pool job per chunk, latch-awaited.
func CompressBuffers(ctx context.Context, p *pool.Pool, params Params, bytesPerElem int, chunks [][]byte) error {
	debug.Log("compress: compressing %d chunks", len(chunks))

	var wg sync.WaitGroup
	errs := make([]error, len(chunks))

	for i := range chunks {
		i := i
		wg.Add(1)
		p.Submit(ctx, func() error {
			defer wg.Done()
			out, err := Compress(params, bytesPerElem, chunks[i])
			if err != nil {
				errs[i] = err
				return err
			}
			chunks[i] = out
			return nil
		})
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
