// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the dataset semantic profile: the persisted result of
// the classification pipeline. The profile has a minimal common kernel
// (id/format/form/spatial/temporal/semantic) plus exactly one typed detail
// block matching the resolved form.
package datatypes

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// =============================================================================
// Data Forms
// =============================================================================

// DataForm is the resolved high-level shape of a dataset.
type DataForm string

const (
	FormRaster     DataForm = "Raster"
	FormVector     DataForm = "Vector"
	FormTable      DataForm = "Table"
	FormTimeseries DataForm = "Timeseries"
	FormParameter  DataForm = "Parameter"
	FormUnknown    DataForm = "Unknown"
)

// ParseDataForm normalizes a string into a DataForm, returning FormUnknown
// for unrecognized values.
func ParseDataForm(s string) DataForm {
	switch DataForm(s) {
	case FormRaster, FormVector, FormTable, FormTimeseries, FormParameter:
		return DataForm(s)
	default:
		return FormUnknown
	}
}

// =============================================================================
// Typed Detail Blocks
// =============================================================================

// Resolution is a raster cell size on both axes.
type Resolution struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RasterProfile describes gridded data.
type RasterProfile struct {
	Resolution Resolution `json:"resolution"`
	Unit       string     `json:"unit"`
	ValueRange []float64  `json:"value_range,omitempty"`
	NoData     float64    `json:"nodata"`
	BandCount  int        `json:"band_count"`
}

// VectorAttribute is one attribute column of a vector layer.
type VectorAttribute struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// VectorProfile describes geometry data.
type VectorProfile struct {
	GeometryType  string            `json:"geometry_type"`
	TopologyValid bool              `json:"topology_valid"`
	Attributes    []VectorAttribute `json:"attributes,omitempty"`
}

// TableProfile describes tabular data.
type TableProfile struct {
	PrimaryKey string `json:"primary_key,omitempty"`
	TimeField  string `json:"time_field,omitempty"`
}

// TimeStep is the sampling interval of a timeseries.
type TimeStep struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// TimeseriesProfile describes time-indexed data.
type TimeseriesProfile struct {
	TimeStep    *TimeStep `json:"time_step,omitempty"`
	Aggregation string    `json:"aggregation,omitempty"`
}

// ParameterProfile describes a scalar model parameter definition.
//
// ValueType is the normalized kernel type: one of int, float, boolean or
// string.
type ParameterProfile struct {
	ValueType string `json:"value_type"`
	Unit      string `json:"unit,omitempty"`
}

// =============================================================================
// Semantic Profile
// =============================================================================

// SpatialInfo is the optional spatial kernel of a profile.
type SpatialInfo struct {
	CRS    string    `json:"crs,omitempty"`
	Extent []float64 `json:"extent,omitempty"`
}

// TemporalInfo is the optional temporal kernel of a profile.
type TemporalInfo struct {
	HasTime   bool     `json:"has_time"`
	TimeRange []string `json:"time_range,omitempty"`
}

// DataSemanticProfile is the terminal classification result for one dataset.
//
// # Description
//
// The profile layers a minimal common kernel (identity, format, form,
// spatial/temporal coverage, free-text semantics) over exactly one typed
// detail block. It is created by the classifier, filled in by the profile
// extractor, optionally corrected by LLM refinement and then persisted as
// terminal. The ID is generated once and never replaced, not even by
// refinement output.
//
// # Invariants
//
//   - The populated detail block matches Form; all other blocks are nil.
//   - FormUnknown carries no detail block.
type DataSemanticProfile struct {
	ID       string        `json:"id"`
	Format   string        `json:"format"`
	Form     DataForm      `json:"form"`
	Spatial  *SpatialInfo  `json:"spatial,omitempty"`
	Temporal *TemporalInfo `json:"temporal,omitempty"`
	Semantic string        `json:"semantic,omitempty"`

	Raster     *RasterProfile     `json:"raster,omitempty"`
	Vector     *VectorProfile     `json:"vector,omitempty"`
	Table      *TableProfile      `json:"table,omitempty"`
	Timeseries *TimeseriesProfile `json:"timeseries,omitempty"`
	Parameter  *ParameterProfile  `json:"parameter,omitempty"`

	Domain string `json:"domain,omitempty"`
}

// Validate checks the detail-block invariant: exactly one block populated and
// it matches Form, except FormUnknown which carries none.
func (p *DataSemanticProfile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile has no id")
	}

	blocks := map[DataForm]bool{
		FormRaster:     p.Raster != nil,
		FormVector:     p.Vector != nil,
		FormTable:      p.Table != nil,
		FormTimeseries: p.Timeseries != nil,
		FormParameter:  p.Parameter != nil,
	}

	populated := 0
	for _, set := range blocks {
		if set {
			populated++
		}
	}

	if p.Form == FormUnknown {
		if populated != 0 {
			return fmt.Errorf("Unknown form must not carry a detail block")
		}
		return nil
	}
	if populated != 1 {
		return fmt.Errorf("profile must carry exactly one detail block, got %d", populated)
	}
	if !blocks[p.Form] {
		return fmt.Errorf("detail block does not match form %q", p.Form)
	}
	return nil
}

// NewProfileID generates a profile identifier of the form
// data_<unix-millis>_<hex-seed>.
func NewProfileID(now time.Time) string {
	seed := make([]byte, 3)
	_, _ = rand.Read(seed)
	return fmt.Sprintf("data_%d_%s", now.UnixMilli(), hex.EncodeToString(seed))
}

// =============================================================================
// Dataset Package
// =============================================================================

// DatasetPackage is the flat file listing a classification request operates
// on, built once by expanding any archives. Immutable after construction.
type DatasetPackage struct {
	RootPath    string   `json:"rootPath"`
	Files       []string `json:"files"`
	PrimaryFile string   `json:"primaryFile,omitempty"`
}
