// Package zarrstream streams chunked N-dimensional array data to a Zarr
// v2 or v3 store, optionally building a multiscale pyramid alongside the
// full-resolution array, grounded on original_source/src/streaming/
// zarr.stream.cpp (the ZarrStream_s / ArrayWriter design; the older
// Czar/Zarr hierarchy is superseded and not implemented here).
package zarrstream

import (
	"encoding/json"

	"github.com/zarrstream/zarrstream/internal/compress"
	"github.com/zarrstream/zarrstream/internal/datatype"
	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/errors"
	"github.com/zarrstream/zarrstream/internal/metadata"
	"github.com/zarrstream/zarrstream/internal/sink/s3"
)

// S3Settings selects an S3-compatible destination in place of the local
// filesystem. Leave the embedding Config.S3 nil for a filesystem store.
type S3Settings struct {
	Endpoint       string
	Bucket         string
	KeyID          string
	Secret         string
	Region         string
	UseHTTP        bool
	MaxConnections int
}

// Config describes a Stream's destination, data type, dimensions and
// optional compression/multiscale/custom-metadata settings. It mirrors
// ZarrStreamSettings_s, minus the C ABI-specific fields excluded by
// SPEC_FULL.md's Non-goals.
type Config struct {
	// Version selects the on-disk Zarr dialect: metadata.V2 or
	// metadata.V3.
	Version metadata.Version

	StorePath string

	// S3 is nil for a filesystem-backed store.
	S3 *S3Settings

	Dtype      datatype.DataType
	Dimensions []dimension.Dim

	// CompressionParams is nil to disable the Blosc-family compression
	// stage.
	CompressionParams *compress.Params

	// Multiscale enables the downsampling pyramid (core spec §4.8).
	Multiscale bool

	// CustomMetadata, if non-empty, must be parseable JSON; it is
	// re-indented and written as acquire.json (core spec "Supplemented
	// Features" #1: validated here, at construction, not deferred).
	CustomMetadata []byte

	// PoolSize bounds the worker pool; 0 selects pool.Clamp's default
	// (GOMAXPROCS).
	PoolSize int
}

func (c Config) isS3() bool { return c.S3 != nil }

// validate checks the cross-field invariants core spec §7 classifies as
// invalid_settings: unknown version, zero-size dimension set handled by
// dimension.New, and malformed custom metadata.
func (c Config) validate() error {
	if c.Version != metadata.V2 && c.Version != metadata.V3 {
		return errors.Fatalf("zarrstream: invalid zarr version %d", c.Version)
	}
	if c.StorePath == "" {
		return errors.Fatal("zarrstream: store_path must not be empty")
	}
	if c.isS3() {
		s3cfg := s3.Config{
			Endpoint:       c.S3.Endpoint,
			UseHTTP:        c.S3.UseHTTP,
			Bucket:         c.S3.Bucket,
			KeyID:          c.S3.KeyID,
			Secret:         c.S3.Secret,
			Region:         c.S3.Region,
			MaxConnections: c.S3.MaxConnections,
		}
		if err := s3cfg.Validate(); err != nil {
			return err
		}
	}
	if c.CompressionParams != nil {
		if err := c.CompressionParams.Validate(); err != nil {
			return err
		}
	}
	if len(c.CustomMetadata) > 0 && !json.Valid(c.CustomMetadata) {
		return errors.Fatal("zarrstream: custom_metadata is not valid JSON")
	}
	return nil
}

func (c Config) s3Config() s3.Config {
	return s3.Config{
		Endpoint:       c.S3.Endpoint,
		UseHTTP:        c.S3.UseHTTP,
		Bucket:         c.S3.Bucket,
		KeyID:          c.S3.KeyID,
		Secret:         c.S3.Secret,
		Region:         c.S3.Region,
		MaxConnections: c.S3.MaxConnections,
	}
}
