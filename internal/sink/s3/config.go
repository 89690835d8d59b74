// Package s3 implements an S3-compatible object-store Sink with explicit
// 5 MiB multipart control and an LRU-cached, semaphore-limited connection
// pool, grounded on restic's internal/backend/s3 and the original's
// s3.sink.cpp / S3ConnectionPool.
package s3

import (
	"net/url"
	"strings"

	"github.com/zarrstream/zarrstream/internal/errors"
)

// partSize is the fixed part-buffer size used for both single-PUT and
// multipart uploads (core spec §4.2: "buffered up to 5 MiB").
const partSize = 5 << 20

// Config describes how to reach an S3-compatible endpoint. Field names and
// validation mirror restic's internal/backend/s3.Config.
type Config struct {
	Endpoint string
	UseHTTP  bool
	Bucket   string
	KeyID    string
	Secret   string
	Region   string

	// MaxConnections bounds concurrent client operations through the
	// connection pool (core spec §4.9's "optionally an S3 connection
	// pool").
	MaxConnections int
}

// Validate returns an invalid_settings error for malformed configuration:
// an empty endpoint or bucket, a negative MaxConnections, or an endpoint
// whose scheme is not http or https. An endpoint without a scheme is
// accepted.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.Fatal("s3: endpoint must not be empty")
	}
	if c.Bucket == "" {
		return errors.Fatal("s3: bucket must not be empty")
	}
	if strings.Contains(c.Endpoint, "://") {
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			return errors.Wrap(err, "s3: parse endpoint")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.Fatalf("s3: endpoint scheme must be http(s), got %q", u.Scheme)
		}
	}
	if c.MaxConnections < 0 {
		return errors.Fatal("s3: max_connections must not be negative")
	}
	return nil
}
