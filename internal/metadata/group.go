package metadata

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/zarrstream/zarrstream/internal/dimension"
	"github.com/zarrstream/zarrstream/internal/errors"
)

// kindNames mirrors dimension_type_to_string in zarr.stream.cpp.
var kindNames = map[dimension.Kind]string{
	dimension.Time:    "time",
	dimension.Channel: "channel",
	dimension.Space:   "space",
	dimension.Other:   "other",
}

func kindName(k dimension.Kind) string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "(unknown)"
}

type axis struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`
}

type scaleTransform struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale"`
}

type dataset struct {
	Path                     string           `json:"path"`
	CoordinateTransformations []scaleTransform `json:"coordinateTransformations"`
}

type downsampleMethod struct {
	Description string      `json:"description"`
	Method      string      `json:"method"`
	Version     string      `json:"version"`
	Args        string      `json:"args"`
	Kwargs      interface{} `json:"kwargs"`
}

type multiscaleEntry struct {
	Version  string            `json:"version"`
	Axes     []axis            `json:"axes"`
	Datasets []dataset         `json:"datasets"`
	Type     string            `json:"type,omitempty"`
	Metadata *downsampleMethod `json:"metadata,omitempty"`
}

// Multiscale builds the OME-NGFF "multiscales" array: one entry describing
// the axes and, for every array level 0..numLevels-1, the scale factor
// applied relative to level 0 (core spec §4.9, grounded on
// zarr.stream.cpp::make_multiscale_metadata_). numLevels is always >= 1;
// values > 1 attach the "local_mean" downsampling provenance block
// (SUPPLEMENTED FEATURES #2).
func Multiscale(dims *dimension.Dimensions, numLevels int) ([]byte, error) {
	if numLevels < 1 {
		return nil, errors.Fatal("metadata: numLevels must be at least 1")
	}

	n := dims.Ndims()
	axes := make([]axis, 0, n)
	for i := 0; i < n; i++ {
		d := dims.Dim(i)
		a := axis{Name: d.Name, Type: kindName(d.Kind)}
		if i >= n-2 {
			a.Unit = "micrometer"
		}
		axes = append(axes, a)
	}

	identity := make([]float64, n)
	for i := range identity {
		identity[i] = 1.0
	}

	entry := multiscaleEntry{
		Version: "0.4",
		Axes:    axes,
		Datasets: []dataset{
			{
				Path:                      "0",
				CoordinateTransformations: []scaleTransform{{Type: "scale", Scale: identity}},
			},
		},
	}

	for level := 1; level < numLevels; level++ {
		factor := math.Pow(2, float64(level))
		scale := make([]float64, n)
		scale[0] = factor
		for i := 1; i < n-2; i++ {
			scale[i] = 1.0
		}
		scale[n-2] = factor
		scale[n-1] = factor

		entry.Datasets = append(entry.Datasets, dataset{
			Path:                      strconv.Itoa(level),
			CoordinateTransformations: []scaleTransform{{Type: "scale", Scale: scale}},
		})

		entry.Type = "local_mean"
		entry.Metadata = &downsampleMethod{
			Description: "The fields in the metadata describe how to reproduce this " +
				"multiscaling in scikit-image. The method and its parameters are given here.",
			Method:  "skimage.transform.downscale_local_mean",
			Version: "0.21.0",
			Args:    "[2]",
			Kwargs:  map[string]interface{}{"cval": 0},
		}
	}

	return json.MarshalIndent([]multiscaleEntry{entry}, "", "    ")
}

// GroupV2 builds the .zgroup document.
func GroupV2() ([]byte, error) {
	return json.MarshalIndent(map[string]int{"zarr_format": 2}, "", "    ")
}

// BaseV2 builds the .zattrs document, embedding the multiscales array.
func BaseV2(multiscales json.RawMessage) ([]byte, error) {
	doc := map[string]json.RawMessage{"multiscales": multiscales}
	return json.MarshalIndent(doc, "", "    ")
}

type zarrV3Base struct {
	Extensions        []interface{} `json:"extensions"`
	MetadataEncoding  string        `json:"metadata_encoding"`
	MetadataKeySuffix string        `json:"metadata_key_suffix"`
	ZarrFormat        string        `json:"zarr_format"`
}

// BaseV3 builds the top-level zarr.json protocol document.
func BaseV3() ([]byte, error) {
	doc := zarrV3Base{
		Extensions:        []interface{}{},
		MetadataEncoding:  "https://purl.org/zarr/spec/protocol/core/3.0",
		MetadataKeySuffix: ".json",
		ZarrFormat:        "https://purl.org/zarr/spec/protocol/core/3.0",
	}
	return json.MarshalIndent(doc, "", "    ")
}

// GroupV3 builds meta/root.group.json, embedding the multiscales array
// under "attributes".
func GroupV3(multiscales json.RawMessage) ([]byte, error) {
	doc := map[string]map[string]json.RawMessage{
		"attributes": {"multiscales": multiscales},
	}
	return json.MarshalIndent(doc, "", "    ")
}

// External re-serializes a caller-supplied JSON document (already validated
// as parseable at stream construction, SUPPLEMENTED FEATURES #1) with the
// same indentation used for every other metadata document, so acquire.json
// reads consistently with the rest of the store.
func External(raw json.RawMessage) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "metadata: external metadata is not valid JSON")
	}
	return json.MarshalIndent(v, "", "    ")
}
