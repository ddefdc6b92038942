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

	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// ProfileRefiner submits a draft profile for LLM correction and completion.
// Strictly best effort: callers fall back to the draft on any failure.
type ProfileRefiner interface {
	Refine(ctx context.Context, filePath string, profile *datatypes.DataSemanticProfile) (*datatypes.DataSemanticProfile, error)
}

// HTTPRefiner calls the refinement endpoint of the inference backend.
type HTTPRefiner struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

var _ ProfileRefiner = (*HTTPRefiner)(nil)

// NewHTTPRefiner wires a refiner client. Panics on nil client.
func NewHTTPRefiner(endpoint string, client *http.Client, logger *slog.Logger) *HTTPRefiner {
	if client == nil {
		panic("NewHTTPRefiner: nil http client")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRefiner{endpoint: endpoint, client: client, logger: logger}
}

// Refine posts {filePath, profile} and returns the corrected profile.
//
// Non-OK statuses and transport errors are returned as errors; the caller
// keeps the pre-refinement profile in that case. Corrections and completions
// are diagnostic and only logged here.
func (r *HTTPRefiner) Refine(ctx context.Context, filePath string, profile *datatypes.DataSemanticProfile) (*datatypes.DataSemanticProfile, error) {
	body, err := json.Marshal(map[string]interface{}{
		"filePath": filePath,
		"profile":  profile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode refine request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build refine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refine call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refine endpoint returned status %d", resp.StatusCode)
	}

	var out struct {
		Status      string                         `json:"status"`
		Profile     *datatypes.DataSemanticProfile `json:"profile"`
		Corrections []string                       `json:"corrections"`
		Completions []string                       `json:"completions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode refine response: %w", err)
	}
	if out.Status != "ok" || out.Profile == nil {
		return nil, fmt.Errorf("refine returned status %q", out.Status)
	}

	if len(out.Corrections) > 0 || len(out.Completions) > 0 {
		r.logger.Info("profile refined",
			"profileId", profile.ID,
			"corrections", len(out.Corrections),
			"completions", len(out.Completions))
	}
	return out.Profile, nil
}
