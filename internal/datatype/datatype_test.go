package datatype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesPerType(t *testing.T) {
	cases := []struct {
		dt   DataType
		want int
	}{
		{Int8, 1}, {Uint8, 1},
		{Int16, 2}, {Uint16, 2},
		{Int32, 4}, {Uint32, 4}, {Float32, 4},
		{Int64, 8}, {Uint64, 8}, {Float64, 8},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.dt.BytesPerType(), "dtype %s", c.dt)
	}
}

func TestBytesPerTypeUnknownPanics(t *testing.T) {
	require.Panics(t, func() {
		DataType(999).BytesPerType()
	})
}

func TestZarrV2Codes(t *testing.T) {
	cases := map[DataType]string{
		Int8: "|i1", Uint8: "|u1",
		Int16: "<i2", Uint16: "<u2",
		Int32: "<i4", Uint32: "<u4", Float32: "<f4",
		Int64: "<i8", Uint64: "<u8", Float64: "<f8",
	}
	for dt, want := range cases {
		assert.Equal(t, want, dt.ZarrV2Code())
	}
}

func TestZarrV3Codes(t *testing.T) {
	cases := map[DataType]string{
		Int8: "int8", Uint8: "uint8",
		Int16: "int16", Uint16: "uint16",
		Int32: "int32", Uint32: "uint32", Float32: "float32",
		Int64: "int64", Uint64: "uint64", Float64: "float64",
	}
	for dt, want := range cases {
		assert.Equal(t, want, dt.ZarrV3Code())
	}
}

func TestValid(t *testing.T) {
	assert.True(t, Uint16.Valid())
	assert.False(t, DataType(42).Valid())
}
