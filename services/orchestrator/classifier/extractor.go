// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// =============================================================================
// Profile Extractor
// =============================================================================

var (
	xdoTagPattern  = regexp.MustCompile(`(?i)<XDO\s+([^/>]+?)\s*/>`)
	xdoAttrPattern = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"`)
)

// Extractor fills the typed detail block of a profile for one resolved form.
//
// # Description
//
// Each form branch is independently failable. The Parameter branch parses the
// file's text directly and does not depend on the content inspector; the
// other branches delegate to the inspector and leave their block empty when
// the inspector is unreachable rather than failing the profile.
type Extractor struct {
	inspector ContentInspector
	logger    *slog.Logger
}

// NewExtractor wires an extractor. Panics on nil inspector.
func NewExtractor(inspector ContentInspector, logger *slog.Logger) *Extractor {
	if inspector == nil {
		panic("NewExtractor: nil content inspector")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{inspector: inspector, logger: logger}
}

// Extract populates profile's detail block, spatial/temporal coverage and
// semantic description for the profile's resolved form, reading filePath.
// Idempotent: repeated calls produce identical output for the same inputs.
func (e *Extractor) Extract(ctx context.Context, profile *datatypes.DataSemanticProfile, filePath string) error {
	switch profile.Form {
	case datatypes.FormParameter:
		return e.extractParameter(profile, filePath)
	case datatypes.FormRaster, datatypes.FormVector, datatypes.FormTable, datatypes.FormTimeseries:
		e.extractInspected(ctx, profile, filePath)
		return nil
	case datatypes.FormUnknown:
		return nil
	default:
		return fmt.Errorf("no extractor branch for form %q", profile.Form)
	}
}

// extractParameter parses the first <XDO ... /> tag out of an XML parameter
// definition. Self-contained text parsing, no inspector involved.
func (e *Extractor) extractParameter(profile *datatypes.DataSemanticProfile, filePath string) error {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read parameter file: %w", err)
	}

	param := &datatypes.ParameterProfile{ValueType: "string", Unit: "Unknown"}

	if m := xdoTagPattern.FindSubmatch(raw); m != nil {
		attrs := parseXDOAttributes(string(m[1]))
		param.ValueType = normalizeKernelType(attrs["kerneltype"])
		if unit, ok := attrs["unit"]; ok && unit != "" {
			param.Unit = unit
		}
		if desc, ok := attrs["description"]; ok && desc != "" {
			profile.Semantic = desc
		} else if name, ok := attrs["name"]; ok && name != "" {
			profile.Semantic = fmt.Sprintf("Model parameter %s", name)
		}
	} else {
		e.logger.Warn("no XDO tag found in parameter file", "file", filePath)
	}

	if profile.Semantic == "" {
		profile.Semantic = "Scalar model parameter definition"
	}
	profile.Parameter = param
	profile.Temporal = &datatypes.TemporalInfo{HasTime: false}
	return nil
}

// extractInspected delegates to the content inspector and copies over the
// block matching the resolved form. Fail-open: an inspector error leaves an
// empty block of the right type so the profile invariant still holds.
func (e *Extractor) extractInspected(ctx context.Context, profile *datatypes.DataSemanticProfile, filePath string) {
	ext, err := e.inspector.Extract(ctx, filePath, profile.Form)
	if err != nil {
		e.logger.Warn("content inspector extraction failed, keeping empty detail block",
			"file", filePath, "form", profile.Form, "error", err)
		ext = &Extraction{}
	}

	switch profile.Form {
	case datatypes.FormRaster:
		if ext.Raster != nil {
			profile.Raster = ext.Raster
		} else {
			profile.Raster = &datatypes.RasterProfile{}
		}
	case datatypes.FormVector:
		if ext.Vector != nil {
			profile.Vector = ext.Vector
		} else {
			profile.Vector = &datatypes.VectorProfile{}
		}
	case datatypes.FormTable:
		if ext.Table != nil {
			profile.Table = ext.Table
		} else {
			profile.Table = &datatypes.TableProfile{}
		}
	case datatypes.FormTimeseries:
		if ext.Timeseries != nil {
			profile.Timeseries = ext.Timeseries
		} else {
			profile.Timeseries = &datatypes.TimeseriesProfile{}
		}
	}

	if ext.Spatial != nil {
		profile.Spatial = ext.Spatial
	}
	if ext.Temporal != nil {
		profile.Temporal = ext.Temporal
	}
	if ext.Semantic != "" {
		profile.Semantic = ext.Semantic
	} else if profile.Semantic == "" {
		profile.Semantic = defaultSemantic(profile.Form)
	}
}

// parseXDOAttributes splits an XDO tag's attribute list into a lowercase-keyed
// map. Attribute names are case-insensitive in the source files.
func parseXDOAttributes(attrText string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range xdoAttrPattern.FindAllStringSubmatch(attrText, -1) {
		attrs[strings.ToLower(m[1])] = m[2]
	}
	return attrs
}

// normalizeKernelType folds the free-form kernelType attribute into the four
// supported value types. Unrecognized and missing values default to string.
func normalizeKernelType(kernelType string) string {
	switch strings.ToLower(strings.TrimSpace(kernelType)) {
	case "int", "integer":
		return "int"
	case "float", "double", "number":
		return "float"
	case "bool", "boolean":
		return "boolean"
	default:
		return "string"
	}
}

func defaultSemantic(form datatypes.DataForm) string {
	switch form {
	case datatypes.FormRaster:
		return "Gridded raster dataset"
	case datatypes.FormVector:
		return "Geospatial vector dataset"
	case datatypes.FormTable:
		return "Tabular dataset"
	case datatypes.FormTimeseries:
		return "Time-indexed measurement series"
	default:
		return ""
	}
}
