package s3

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/encrypt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient records every call the sink makes, standing in for
// *minio.Core in tests.
type fakeClient struct {
	mu sync.Mutex

	uploadID      string
	parts         [][]byte
	putObjectData []byte
	completed     bool
}

func (f *fakeClient) NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadID = "upload-1"
	return f.uploadID, nil
}

func (f *fakeClient) PutObjectPart(ctx context.Context, bucket, object, uploadID string, partNumber int, data io.Reader, size int64, opts minio.PutObjectPartOptions) (minio.ObjectPart, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return minio.ObjectPart{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts = append(f.parts, buf)
	return minio.ObjectPart{PartNumber: partNumber, ETag: "etag"}, nil
}

func (f *fakeClient) CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []minio.CompletePart, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	return minio.UploadInfo{}, nil
}

func (f *fakeClient) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, md5Base64, sha256Hex string, metadata map[string]string, sse encrypt.ServerSide) (minio.UploadInfo, error) {
	buf, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.putObjectData = buf
	return minio.UploadInfo{}, nil
}

type fakePool struct {
	client *fakeClient
}

func (p *fakePool) Acquire(ctx context.Context) (Client, error) { return p.client, nil }
func (p *fakePool) Release()                                    {}
func (p *fakePool) Bucket() string                              { return "test-bucket" }

func TestSinkSmallWriteUsesSinglePut(t *testing.T) {
	client := &fakeClient{}
	s, err := New(&fakePool{client: client}, "path/to/object")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, 0, []byte("hello world")))
	require.NoError(t, s.Finalize(ctx))

	assert.Equal(t, "hello world", string(client.putObjectData))
	assert.Empty(t, client.parts)
	assert.False(t, client.completed)
}

func TestSinkLargeWriteUsesMultipart(t *testing.T) {
	client := &fakeClient{}
	s, err := New(&fakePool{client: client}, "path/to/object")
	require.NoError(t, err)

	ctx := context.Background()

	first := bytes.Repeat([]byte{0xAB}, partSize)
	second := []byte("tail bytes")

	require.NoError(t, s.Write(ctx, 0, first))
	require.NoError(t, s.Write(ctx, int64(len(first)), second))
	require.NoError(t, s.Finalize(ctx))

	require.Len(t, client.parts, 2)
	assert.Equal(t, first, client.parts[0])
	assert.Equal(t, second, client.parts[1])
	assert.True(t, client.completed)
	assert.Equal(t, "upload-1", client.uploadID)
}

func TestSinkRejectsOffsetBelowFlushed(t *testing.T) {
	client := &fakeClient{}
	s, err := New(&fakePool{client: client}, "path/to/object")
	require.NoError(t, err)

	ctx := context.Background()
	first := bytes.Repeat([]byte{1}, partSize)
	require.NoError(t, s.Write(ctx, 0, first))

	err = s.Write(ctx, 10, []byte("x"))
	assert.Error(t, err)
}

func TestSinkRejectsWriteAfterFinalize(t *testing.T) {
	client := &fakeClient{}
	s, err := New(&fakePool{client: client}, "path/to/object")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Write(ctx, 0, []byte("x")))
	require.NoError(t, s.Finalize(ctx))

	assert.Error(t, s.Write(ctx, 1, []byte("y")))
	assert.Error(t, s.Finalize(ctx))
}

func TestNewRejectsEmptyObjectKey(t *testing.T) {
	_, err := New(&fakePool{client: &fakeClient{}}, "")
	assert.Error(t, err)
}
