// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// =============================================================================
// Test Doubles
// =============================================================================

type stubInspector struct {
	detect  func(filePath string) (*Detection, error)
	extract func(filePath string, form datatypes.DataForm) (*Extraction, error)
}

func (s *stubInspector) Detect(_ context.Context, filePath string) (*Detection, error) {
	if s.detect == nil {
		return nil, errors.New("inspector unavailable")
	}
	return s.detect(filePath)
}

func (s *stubInspector) Extract(_ context.Context, filePath string, form datatypes.DataForm) (*Extraction, error) {
	if s.extract == nil {
		return nil, errors.New("inspector unavailable")
	}
	return s.extract(filePath, form)
}

type stubRefiner struct {
	refine func(filePath string, profile *datatypes.DataSemanticProfile) (*datatypes.DataSemanticProfile, error)
}

func (s *stubRefiner) Refine(_ context.Context, filePath string, profile *datatypes.DataSemanticProfile) (*datatypes.DataSemanticProfile, error) {
	if s.refine == nil {
		return nil, errors.New("refiner unavailable")
	}
	return s.refine(filePath, profile)
}

func newTestClassifier(inspector ContentInspector, refiner ProfileRefiner) *Classifier {
	return NewClassifier(inspector, refiner, slog.Default())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// =============================================================================
// Pipeline Behavior
// =============================================================================

// A package holding both a parameter XML and a CSV must classify as
// Parameter: the XML rule outranks and short-circuits everything else.
func TestClassifier_ParameterXMLOutranksCSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "model.xml", `<XDO name="k" kernelType="float" unit="mm" />`)
	writeFile(t, dir, "data.csv", "a,b\n1,2\n")

	c := newTestClassifier(&stubInspector{}, &stubRefiner{})
	profile, err := c.Classify(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, datatypes.FormParameter, profile.Form)
	assert.Equal(t, "xml", profile.Format)
	require.NotNil(t, profile.Parameter)
	assert.Equal(t, "float", profile.Parameter.ValueType)
	assert.Nil(t, profile.Table)
}

// Content evidence must override the Vector-favoring extension heuristic for
// a bare JSON file when the inspector is confident it is tabular.
func TestClassifier_ContentEvidenceOverridesExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "readings.json", `[{"ts":"2026-01-01","v":1}]`)

	inspector := &stubInspector{
		detect: func(string) (*Detection, error) {
			return &Detection{DetectedForm: "Table", Confidence: 0.9}, nil
		},
		extract: func(_ string, form datatypes.DataForm) (*Extraction, error) {
			require.Equal(t, datatypes.FormTable, form)
			return &Extraction{Table: &datatypes.TableProfile{PrimaryKey: "ts"}}, nil
		},
	}

	c := newTestClassifier(inspector, &stubRefiner{})
	profile, err := c.Classify(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, datatypes.FormTable, profile.Form)
	require.NotNil(t, profile.Table)
	assert.Equal(t, "ts", profile.Table.PrimaryKey)
}

// The refiner never gets to change the profile identity, even when its
// response carries a different id.
func TestClassifier_RefinementPreservesIdentity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "model.xml", `<XDO name="k" kernelType="int" />`)

	var draftID string
	refiner := &stubRefiner{
		refine: func(_ string, profile *datatypes.DataSemanticProfile) (*datatypes.DataSemanticProfile, error) {
			draftID = profile.ID
			refined := *profile
			refined.ID = "llm-invented-id"
			refined.Semantic = "A calibration constant"
			return &refined, nil
		},
	}

	c := newTestClassifier(&stubInspector{}, refiner)
	profile, err := c.Classify(context.Background(), dir)

	require.NoError(t, err)
	require.NotEmpty(t, draftID)
	assert.Equal(t, draftID, profile.ID)
	assert.Equal(t, "A calibration constant", profile.Semantic)
}

func TestClassifier_RefinerFailureKeepsDraft(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "grid.tif", "not a real tiff")

	c := newTestClassifier(&stubInspector{}, &stubRefiner{})
	profile, err := c.Classify(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, datatypes.FormRaster, profile.Form)
	require.NotNil(t, profile.Raster)
	assert.NoError(t, profile.Validate())
}

// A refined profile that breaks the detail-block invariant is discarded.
func TestClassifier_InvalidRefinedProfileDiscarded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "grid.tif", "not a real tiff")

	refiner := &stubRefiner{
		refine: func(_ string, profile *datatypes.DataSemanticProfile) (*datatypes.DataSemanticProfile, error) {
			refined := *profile
			refined.Raster = nil
			refined.Vector = &datatypes.VectorProfile{GeometryType: "Point"}
			return &refined, nil
		},
	}

	c := newTestClassifier(&stubInspector{}, refiner)
	profile, err := c.Classify(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, datatypes.FormRaster, profile.Form)
	require.NotNil(t, profile.Raster)
	assert.Nil(t, profile.Vector)
}

func TestClassifier_PackageFaultsAreFatal(t *testing.T) {
	c := newTestClassifier(&stubInspector{}, &stubRefiner{})

	t.Run("missing path", func(t *testing.T) {
		_, err := c.Classify(context.Background(), "/nonexistent/dataset.zip")
		assert.Error(t, err)
	})

	t.Run("empty package", func(t *testing.T) {
		_, err := c.Classify(context.Background(), t.TempDir())
		assert.Error(t, err)
	})
}

func TestClassifier_UnknownFormProfile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "payload.bin", "\x00\x01")

	c := newTestClassifier(&stubInspector{}, &stubRefiner{})
	profile, err := c.Classify(context.Background(), dir)

	require.NoError(t, err)
	assert.Equal(t, datatypes.FormUnknown, profile.Form)
	assert.NoError(t, profile.Validate())
}

// =============================================================================
// Stage 2: Confidence Refinement
// =============================================================================

func TestRefineCandidates(t *testing.T) {
	t.Run("match raises to inspector confidence", func(t *testing.T) {
		inspector := &stubInspector{
			detect: func(string) (*Detection, error) {
				return &Detection{DetectedForm: "Vector", Confidence: 0.95}, nil
			},
		}
		c := newTestClassifier(inspector, &stubRefiner{})
		cands := []Candidate{{Form: datatypes.FormVector, PrimaryFile: "a.json", Confidence: 0.5}}
		c.refineCandidates(context.Background(), cands)
		assert.InDelta(t, 0.95, cands[0].Confidence, 1e-9)
	})

	t.Run("match never lowers confidence", func(t *testing.T) {
		inspector := &stubInspector{
			detect: func(string) (*Detection, error) {
				return &Detection{DetectedForm: "Raster", Confidence: 0.4}, nil
			},
		}
		c := newTestClassifier(inspector, &stubRefiner{})
		cands := []Candidate{{Form: datatypes.FormRaster, PrimaryFile: "a.tif", Confidence: 0.9}}
		c.refineCandidates(context.Background(), cands)
		assert.InDelta(t, 0.9, cands[0].Confidence, 1e-9)
	})

	t.Run("mismatch caps confidence", func(t *testing.T) {
		inspector := &stubInspector{
			detect: func(string) (*Detection, error) {
				return &Detection{DetectedForm: "Table", Confidence: 0.9}, nil
			},
		}
		c := newTestClassifier(inspector, &stubRefiner{})
		cands := []Candidate{{Form: datatypes.FormVector, PrimaryFile: "a.json", Confidence: 0.5}}
		c.refineCandidates(context.Background(), cands)
		assert.InDelta(t, 0.2, cands[0].Confidence, 1e-9)
	})

	t.Run("detect failure leaves confidence untouched", func(t *testing.T) {
		c := newTestClassifier(&stubInspector{}, &stubRefiner{})
		cands := []Candidate{{Form: datatypes.FormVector, PrimaryFile: "a.json", Confidence: 0.5}}
		c.refineCandidates(context.Background(), cands)
		assert.InDelta(t, 0.5, cands[0].Confidence, 1e-9)
	})
}

// =============================================================================
// Stage 3: Resolution
// =============================================================================

func TestResolve(t *testing.T) {
	c := newTestClassifier(&stubInspector{}, &stubRefiner{})

	t.Run("high confidence wins outright", func(t *testing.T) {
		winner := c.resolve([]Candidate{
			{Form: datatypes.FormTable, Confidence: 0.85},
			{Form: datatypes.FormVector, Confidence: 0.8},
		})
		assert.Equal(t, datatypes.FormTable, winner.Form)
	})

	t.Run("ambiguous band still selects top", func(t *testing.T) {
		winner := c.resolve([]Candidate{
			{Form: datatypes.FormTimeseries, Confidence: 0.55},
			{Form: datatypes.FormRaster, Confidence: 0.5, ruleOrder: 1},
		})
		assert.Equal(t, datatypes.FormTimeseries, winner.Form)
	})

	t.Run("equal confidence breaks ties by rule order", func(t *testing.T) {
		winner := c.resolve([]Candidate{
			{Form: datatypes.FormRaster, Confidence: 0.5, ruleOrder: 1},
			{Form: datatypes.FormTimeseries, Confidence: 0.5, ruleOrder: 0},
		})
		assert.Equal(t, datatypes.FormTimeseries, winner.Form)
	})
}
