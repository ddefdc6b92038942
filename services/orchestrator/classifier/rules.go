// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"path/filepath"
	"strings"

	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// Candidate is a provisional classification guess prior to resolution.
// Confidence is refined by later stages; the candidate set's identity never
// changes after Stage 1.
type Candidate struct {
	Form        datatypes.DataForm
	PrimaryFile string
	Confidence  float64

	// ruleOrder preserves the emitting rule's position for deterministic
	// tie-breaks in resolution.
	ruleOrder int
}

// ExtensionCandidates runs the Stage 1 rule table against a package.
//
// Rules are evaluated in fixed priority order and the first matching rule
// wins: its candidate set (singular for unambiguous extensions, plural for
// inherently ambiguous ones) is emitted and no later rule is consulted. A
// package matching no rule yields a single Unknown candidate at confidence 0.
func ExtensionCandidates(pkg *datatypes.DatasetPackage) []Candidate {
	byExt := indexByExtension(pkg.Files)

	// Rule 1: a parameter definition XML short-circuits everything else.
	if f, ok := byExt[".xml"]; ok {
		return []Candidate{{Form: datatypes.FormParameter, PrimaryFile: f, Confidence: 0.95}}
	}

	// Rule 2: the shapefile trio.
	if shp, ok := byExt[".shp"]; ok {
		if _, hasShx := byExt[".shx"]; hasShx {
			if _, hasDbf := byExt[".dbf"]; hasDbf {
				return []Candidate{{Form: datatypes.FormVector, PrimaryFile: shp, Confidence: 0.95}}
			}
		}
	}

	// Rule 3: markup geometry formats.
	for _, ext := range []string{".kml", ".gml"} {
		if f, ok := byExt[ext]; ok {
			return []Candidate{{Form: datatypes.FormVector, PrimaryFile: f, Confidence: 0.9}}
		}
	}

	// Rule 4: GeoJSON.
	if f, ok := byExt[".geojson"]; ok {
		return []Candidate{{Form: datatypes.FormVector, PrimaryFile: f, Confidence: 0.9}}
	}

	// Rule 5: bare JSON is ambiguous between geometry and records.
	if f, ok := byExt[".json"]; ok {
		return []Candidate{
			{Form: datatypes.FormVector, PrimaryFile: f, Confidence: 0.5},
			{Form: datatypes.FormTable, PrimaryFile: f, Confidence: 0.3, ruleOrder: 1},
		}
	}

	// Rule 6: raster formats.
	for _, ext := range []string{".tif", ".tiff", ".geotiff", ".img", ".asc", ".vrt"} {
		if f, ok := byExt[ext]; ok {
			return []Candidate{{Form: datatypes.FormRaster, PrimaryFile: f, Confidence: 0.9}}
		}
	}

	// Rule 7: HDF containers hold either grids or series.
	for _, ext := range []string{".hdf", ".h5", ".hdf5"} {
		if f, ok := byExt[ext]; ok {
			return []Candidate{
				{Form: datatypes.FormRaster, PrimaryFile: f, Confidence: 0.5},
				{Form: datatypes.FormTimeseries, PrimaryFile: f, Confidence: 0.5, ruleOrder: 1},
			}
		}
	}

	// Rule 8: spreadsheet formats; CSV may also carry coordinates.
	for _, ext := range []string{".csv", ".xlsx", ".xls"} {
		if f, ok := byExt[ext]; ok {
			candidates := []Candidate{{Form: datatypes.FormTable, PrimaryFile: f, Confidence: 0.85}}
			if ext == ".csv" {
				candidates = append(candidates,
					Candidate{Form: datatypes.FormVector, PrimaryFile: f, Confidence: 0.3, ruleOrder: 1})
			}
			return candidates
		}
	}

	// Rule 9: NetCDF is ambiguous between series and grids.
	if f, ok := byExt[".nc"]; ok {
		return []Candidate{
			{Form: datatypes.FormTimeseries, PrimaryFile: f, Confidence: 0.55},
			{Form: datatypes.FormRaster, PrimaryFile: f, Confidence: 0.55, ruleOrder: 1},
		}
	}

	// Rule 10: plain text readings.
	for _, ext := range []string{".txt", ".dat"} {
		if f, ok := byExt[ext]; ok {
			return []Candidate{{Form: datatypes.FormTimeseries, PrimaryFile: f, Confidence: 0.7}}
		}
	}

	// Rule 11: nothing matched.
	return []Candidate{{Form: datatypes.FormUnknown, PrimaryFile: pkg.PrimaryFile, Confidence: 0}}
}

// indexByExtension maps each lowercase extension to the first file carrying
// it, preserving the package's file order.
func indexByExtension(files []string) map[string]string {
	byExt := make(map[string]string)
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f))
		if ext == "" {
			continue
		}
		if _, seen := byExt[ext]; !seen {
			byExt[ext] = f
		}
	}
	return byExt
}
