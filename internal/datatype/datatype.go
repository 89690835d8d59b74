// Package datatype describes the element types a zarrstream array can hold
// and the Zarr v2/v3 dtype codes used in metadata documents (core spec §6).
package datatype

import "fmt"

// DataType is the element type of an array writer's chunk buffers.
type DataType int

const (
	Int8 DataType = iota
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
)

var names = map[DataType]string{
	Int8:    "i8",
	Uint8:   "u8",
	Int16:   "i16",
	Uint16:  "u16",
	Int32:   "i32",
	Uint32:  "u32",
	Int64:   "i64",
	Uint64:  "u64",
	Float32: "f32",
	Float64: "f64",
}

func (d DataType) String() string {
	if s, ok := names[d]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// byteSize is the per-element size in bytes, indexed by DataType.
var byteSize = map[DataType]int{
	Int8:    1,
	Uint8:   1,
	Int16:   2,
	Uint16:  2,
	Int32:   4,
	Uint32:  4,
	Int64:   8,
	Uint64:  8,
	Float32: 4,
	Float64: 8,
}

// BytesPerType returns the per-element byte size of d. Panics on an
// unrecognized DataType, mirroring the core's "fixes the byte size per
// element" invariant — there is no valid zero value here.
func (d DataType) BytesPerType() int {
	n, ok := byteSize[d]
	if !ok {
		panic(fmt.Sprintf("datatype: unknown DataType %d", int(d)))
	}
	return n
}

// zarrV2Codes are the endian-prefixed Zarr v2 dtype strings (core spec §6
// table). i8/u8 carry no endian prefix per the Zarr v2 convention for
// single-byte types.
var zarrV2Codes = map[DataType]string{
	Int8:    "|i1",
	Uint8:   "|u1",
	Int16:   "<i2",
	Uint16:  "<u2",
	Int32:   "<i4",
	Uint32:  "<u4",
	Int64:   "<i8",
	Uint64:  "<u8",
	Float32: "<f4",
	Float64: "<f8",
}

// ZarrV2Code returns the endian-prefixed dtype code used in a .zarray
// document's "dtype" field.
func (d DataType) ZarrV2Code() string {
	c, ok := zarrV2Codes[d]
	if !ok {
		panic(fmt.Sprintf("datatype: unknown DataType %d", int(d)))
	}
	return c
}

// zarrV3Codes are the plain-name Zarr v3 data_type strings (core spec §6
// table).
var zarrV3Codes = map[DataType]string{
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Int64:   "int64",
	Uint64:  "uint64",
	Float32: "float32",
	Float64: "float64",
}

// ZarrV3Code returns the plain-name dtype code used in a {level}.array.json
// document's "data_type" field.
func (d DataType) ZarrV3Code() string {
	c, ok := zarrV3Codes[d]
	if !ok {
		panic(fmt.Sprintf("datatype: unknown DataType %d", int(d)))
	}
	return c
}

// Valid reports whether d is one of the ten recognized data types.
func (d DataType) Valid() bool {
	_, ok := byteSize[d]
	return ok
}
