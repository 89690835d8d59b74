package metadata

// Version selects which Zarr metadata dialect (and on-disk layout) to
// emit: v2 one-file-per-chunk, or v3 sharded with a protocol-level JSON
// schema (core spec §4.6, §4.7).
type Version int

const (
	V2 Version = 2
	V3 Version = 3
)
