// Package sink defines the offset-addressed, write-once-per-range sink
// contract used by array writers to dispatch chunk and shard data to a
// filesystem or object-store backend (core spec §4.2).
package sink

import "context"

// Sink is a polymorphic handle supporting append-style, offset-addressed
// writes followed by a single finalization. Once Finalize returns, the
// sink is consumed: no further Write or Finalize calls are valid.
//
// Writes must not observe offsets below the sink's last flushed
// watermark; implementations that buffer (object stores) reject such
// calls with an overflow error.
type Sink interface {
	// Write appends data at offset. For file-backed sinks this is a
	// seek+write; for object-backed sinks, offset must be non-decreasing
	// across calls.
	Write(ctx context.Context, offset int64, data []byte) error

	// Finalize flushes any buffered data and completes the underlying
	// resource (renames the temp file, completes the multipart upload).
	// Finalize is idempotent only in the sense that calling it more than
	// once is a programming error; callers finalize exactly once.
	Finalize(ctx context.Context) error
}
