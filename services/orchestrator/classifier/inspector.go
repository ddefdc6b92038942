// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// =============================================================================
// Content Inspector Contract
// =============================================================================

// Detection is the inspector's verdict on a file's actual bytes.
type Detection struct {
	DetectedForm string  `json:"detected_form"`
	Confidence   float64 `json:"confidence"`
}

// Extraction carries the structured metadata the inspector read for one
// form. Only the block matching the requested form is populated.
type Extraction struct {
	Raster     *datatypes.RasterProfile     `json:"raster,omitempty"`
	Vector     *datatypes.VectorProfile     `json:"vector,omitempty"`
	Table      *datatypes.TableProfile      `json:"table,omitempty"`
	Timeseries *datatypes.TimeseriesProfile `json:"timeseries,omitempty"`
	Spatial    *datatypes.SpatialInfo       `json:"spatial,omitempty"`
	Temporal   *datatypes.TemporalInfo      `json:"temporal,omitempty"`
	Semantic   string                       `json:"semantic,omitempty"`
}

// ContentInspector is the black-box collaborator that reads file bytes.
// Both operations are fail-open at call sites: an inspector failure degrades
// the pipeline, never aborts it.
type ContentInspector interface {
	Detect(ctx context.Context, filePath string) (*Detection, error)
	Extract(ctx context.Context, filePath string, form datatypes.DataForm) (*Extraction, error)
}

// =============================================================================
// HTTP Implementation
// =============================================================================

// HTTPInspector talks to the content inspector service.
type HTTPInspector struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ ContentInspector = (*HTTPInspector)(nil)

// NewHTTPInspector wires an inspector client.
// Panics on nil client: transport configuration is injected, never ambient.
func NewHTTPInspector(baseURL string, client *http.Client, logger *slog.Logger) *HTTPInspector {
	if client == nil {
		panic("NewHTTPInspector: nil http client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPInspector{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// Detect asks the inspector for the file's true form and confidence.
func (i *HTTPInspector) Detect(ctx context.Context, filePath string) (*Detection, error) {
	var out struct {
		Status string `json:"status"`
		Detection
	}
	err := i.post(ctx, "/detect", map[string]string{"file_path": filePath}, &out)
	if err != nil {
		return nil, err
	}
	if out.Status != "ok" && out.Status != "success" {
		return nil, fmt.Errorf("inspector detect returned status %q", out.Status)
	}
	return &out.Detection, nil
}

// Extract asks the inspector for form-specific structured metadata.
func (i *HTTPInspector) Extract(ctx context.Context, filePath string, form datatypes.DataForm) (*Extraction, error) {
	var out struct {
		Status string `json:"status"`
		Extraction
	}
	err := i.post(ctx, "/extract", map[string]string{
		"file_path": filePath,
		"form":      string(form),
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Status != "ok" && out.Status != "success" {
		return nil, fmt.Errorf("inspector extract returned status %q", out.Status)
	}
	return &out.Extraction, nil
}

func (i *HTTPInspector) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode inspector request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to build inspector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("inspector call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inspector returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode inspector response: %w", err)
	}
	return nil
}
