package s3

import (
	"bytes"
	"context"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/zarrstream/zarrstream/internal/debug"
	"github.com/zarrstream/zarrstream/internal/errors"
)

// connectionPool is the subset of *ConnectionPool the sink depends on;
// tests substitute a fake pool handing out a fake Client.
type connectionPool interface {
	Acquire(ctx context.Context) (Client, error)
	Release()
	Bucket() string
}

// Sink is an S3-compatible object sink. It buffers writes into a fixed
// 5 MiB part, choosing between a single PUT (payload fits in one part)
// and explicit multipart upload (NewMultipartUpload / PutObjectPart /
// CompleteMultipartUpload), grounded on the original's s3.sink.cpp.
type Sink struct {
	pool      connectionPool
	objectKey string

	mu             sync.Mutex
	partBuffer     [partSize]byte
	nbytesBuffered int
	nbytesFlushed  int64

	uploadID string
	parts    []minio.CompletePart

	finished bool
}

// New creates a sink writing to objectKey in the pool's bucket.
func New(pool connectionPool, objectKey string) (*Sink, error) {
	if objectKey == "" {
		return nil, errors.Fatal("s3 sink: object key must not be empty")
	}
	if pool == nil {
		return nil, errors.Fatal("s3 sink: nil connection pool")
	}
	return &Sink{pool: pool, objectKey: objectKey}, nil
}

// Write buffers data starting at offset, flushing full 5 MiB parts to S3
// as they fill (core spec §4.2: "object sinks... offset must be
// non-decreasing").
func (s *Sink) Write(ctx context.Context, offset int64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return errors.Fatal("s3 sink: write after finalize")
	}
	if offset < s.nbytesFlushed {
		return errors.Fatalf("s3 sink: write at offset %d, already flushed to %d", offset, s.nbytesFlushed)
	}
	s.nbytesBuffered = int(offset - s.nbytesFlushed)

	for len(data) > 0 {
		room := partSize - s.nbytesBuffered
		n := len(data)
		if n > room {
			n = room
		}
		if n > 0 {
			copy(s.partBuffer[s.nbytesBuffered:], data[:n])
			s.nbytesBuffered += n
			data = data[n:]
		}

		if s.nbytesBuffered == partSize {
			if err := s.flushPart(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

// flushPart uploads the currently buffered bytes as one multipart part.
// Must be called with s.mu held.
func (s *Sink) flushPart(ctx context.Context) error {
	if s.nbytesBuffered == 0 {
		return nil
	}

	if err := s.ensureMultipartUpload(ctx); err != nil {
		return err
	}

	client, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release()

	partNumber := len(s.parts) + 1
	data := s.partBuffer[:s.nbytesBuffered]
	part, err := client.PutObjectPart(ctx, s.pool.Bucket(), s.objectKey, s.uploadID, partNumber,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
	if err != nil {
		return errors.Wrapf(err, "s3 sink: upload part %d of %s", partNumber, s.objectKey)
	}

	s.parts = append(s.parts, minio.CompletePart{
		PartNumber: partNumber,
		ETag:       part.ETag,
	})

	s.nbytesFlushed += int64(s.nbytesBuffered)
	s.nbytesBuffered = 0

	debug.Log("s3 sink: flushed part %d (%d bytes) of %s", partNumber, len(data), s.objectKey)
	return nil
}

// ensureMultipartUpload lazily creates the multipart upload ID on first
// full part, matching the original's create_multipart_upload_.
func (s *Sink) ensureMultipartUpload(ctx context.Context) error {
	if s.uploadID != "" {
		return nil
	}

	client, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release()

	uploadID, err := client.NewMultipartUpload(ctx, s.pool.Bucket(), s.objectKey, minio.PutObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, "s3 sink: create multipart upload for %s", s.objectKey)
	}

	s.uploadID = uploadID
	return nil
}

// putObject uploads the buffered bytes as a single PUT, for payloads that
// never exceeded one part.
func (s *Sink) putObject(ctx context.Context) error {
	if s.nbytesBuffered == 0 {
		return nil
	}

	client, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release()

	data := s.partBuffer[:s.nbytesBuffered]
	_, err = client.PutObject(ctx, s.pool.Bucket(), s.objectKey, bytes.NewReader(data), int64(len(data)),
		"", "", nil, nil)
	if err != nil {
		return errors.Wrapf(err, "s3 sink: put object %s", s.objectKey)
	}

	s.nbytesFlushed = int64(s.nbytesBuffered)
	s.nbytesBuffered = 0
	return nil
}

// Finalize flushes any buffered bytes and completes the upload (single PUT
// or multipart, whichever was started).
func (s *Sink) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return errors.Fatal("s3 sink: finalize called twice")
	}
	s.finished = true

	if s.uploadID != "" {
		if s.nbytesBuffered > 0 {
			if err := s.flushPart(ctx); err != nil {
				return err
			}
		}
		return s.completeMultipartUpload(ctx)
	}

	if s.nbytesBuffered > 0 {
		return s.putObject(ctx)
	}

	return nil
}

func (s *Sink) completeMultipartUpload(ctx context.Context) error {
	client, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Release()

	_, err = client.CompleteMultipartUpload(ctx, s.pool.Bucket(), s.objectKey, s.uploadID, s.parts, minio.PutObjectOptions{})
	if err != nil {
		return errors.Wrapf(err, "s3 sink: complete multipart upload for %s", s.objectKey)
	}
	return nil
}
