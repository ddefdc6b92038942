// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package classifier resolves the semantic form of an uploaded dataset and
// builds its persisted profile. The pipeline has four stages: extension-based
// candidate generation, content-based confidence refinement, resolution and
// extraction plus LLM refinement. The first stage is pure rule matching; the
// later stages degrade gracefully when their external collaborators fail.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

const (
	// outrightThreshold is the confidence at which the top candidate is
	// selected without ambiguity analysis.
	outrightThreshold = 0.8

	// ambiguityBand is the confidence distance from the top candidate within
	// which competitors trigger an ambiguity warning.
	ambiguityBand = 0.1

	// mismatchCeiling caps a candidate's confidence when the content
	// inspector disagrees with its form.
	mismatchCeiling = 0.2
)

// ProgressFunc receives human-readable stage updates during classification.
// May be nil.
type ProgressFunc func(stage, message string)

// Classifier runs the four-stage form resolution pipeline.
type Classifier struct {
	inspector ContentInspector
	refiner   ProfileRefiner
	extractor *Extractor
	logger    *slog.Logger

	// now is swappable in tests for deterministic profile identifiers.
	now func() time.Time
}

// NewClassifier wires the pipeline. Panics on nil collaborators.
func NewClassifier(inspector ContentInspector, refiner ProfileRefiner, logger *slog.Logger) *Classifier {
	if inspector == nil {
		panic("NewClassifier: nil content inspector")
	}
	if refiner == nil {
		panic("NewClassifier: nil profile refiner")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		inspector: inspector,
		refiner:   refiner,
		extractor: NewExtractor(inspector, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Classify resolves a dataset path into a terminal semantic profile.
func (c *Classifier) Classify(ctx context.Context, path string) (*datatypes.DataSemanticProfile, error) {
	return c.ClassifyWithProgress(ctx, path, nil)
}

// ClassifyWithProgress is Classify with per-stage progress callbacks.
//
// Package construction faults (unreadable path, corrupt archive, empty
// package) abort the call. Inspector and refiner faults never do: they
// degrade the respective stage and the pipeline continues.
func (c *Classifier) ClassifyWithProgress(ctx context.Context, path string, progress ProgressFunc) (*datatypes.DataSemanticProfile, error) {
	report := func(stage, message string) {
		if progress != nil {
			progress(stage, message)
		}
	}

	report("package", "expanding dataset package")
	pkg, err := BuildPackage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to build dataset package: %w", err)
	}

	report("candidates", "matching file extensions")
	candidates := ExtensionCandidates(pkg)

	report("inspection", "refining candidates against file content")
	c.refineCandidates(ctx, candidates)

	winner := c.resolve(candidates)
	report("resolution", fmt.Sprintf("resolved form %s at confidence %.2f", winner.Form, winner.Confidence))

	report("extraction", "extracting profile details")
	profile, err := c.buildProfile(ctx, winner)
	if err != nil {
		return nil, err
	}

	report("refinement", "submitting profile for refinement")
	c.refineProfile(ctx, profile, winner.PrimaryFile)

	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("classification produced an invalid profile: %w", err)
	}
	return profile, nil
}

// =============================================================================
// Stage 2: Content Refinement
// =============================================================================

// refineCandidates adjusts candidate confidences against the inspector's
// verdict on each candidate's primary file. Fail-open: a detect failure
// leaves that candidate's confidence untouched.
func (c *Classifier) refineCandidates(ctx context.Context, candidates []Candidate) {
	detections := make(map[string]*Detection)

	for i := range candidates {
		cand := &candidates[i]
		if cand.Form == datatypes.FormUnknown || cand.PrimaryFile == "" {
			continue
		}

		det, seen := detections[cand.PrimaryFile]
		if !seen {
			var err error
			det, err = c.inspector.Detect(ctx, cand.PrimaryFile)
			if err != nil {
				c.logger.Warn("content detection failed, keeping extension confidence",
					"file", cand.PrimaryFile, "error", err)
				det = nil
			}
			detections[cand.PrimaryFile] = det
		}
		if det == nil {
			continue
		}

		if datatypes.ParseDataForm(det.DetectedForm) == cand.Form {
			if det.Confidence > cand.Confidence {
				cand.Confidence = det.Confidence
			}
		} else if cand.Confidence > mismatchCeiling {
			cand.Confidence = mismatchCeiling
		}
	}
}

// =============================================================================
// Stage 3: Resolution
// =============================================================================

// resolve picks the authoritative candidate. Confidence descending, ties by
// original rule order. Ambiguity below the outright threshold is warned
// about, never blocking.
func (c *Classifier) resolve(candidates []Candidate) Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Confidence != sorted[j].Confidence {
			return sorted[i].Confidence > sorted[j].Confidence
		}
		return sorted[i].ruleOrder < sorted[j].ruleOrder
	})

	top := sorted[0]
	if top.Confidence >= outrightThreshold {
		return top
	}

	contenders := 0
	for _, cand := range sorted {
		if top.Confidence-cand.Confidence <= ambiguityBand {
			contenders++
		}
	}
	if contenders > 1 {
		c.logger.Warn("ambiguous form resolution, selecting top candidate",
			"form", top.Form,
			"confidence", top.Confidence,
			"contenders", contenders)
	}
	return top
}

// =============================================================================
// Stage 4: Extraction + Refinement
// =============================================================================

func (c *Classifier) buildProfile(ctx context.Context, winner Candidate) (*datatypes.DataSemanticProfile, error) {
	profile := &datatypes.DataSemanticProfile{
		ID:     datatypes.NewProfileID(c.now()),
		Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(winner.PrimaryFile)), "."),
		Form:   winner.Form,
	}
	if err := c.extractor.Extract(ctx, profile, winner.PrimaryFile); err != nil {
		return nil, fmt.Errorf("profile extraction failed: %w", err)
	}
	return profile, nil
}

// refineProfile swaps in the refiner's corrected profile, forcing the
// original identity back. Never trusts the model for the id field. Any
// refiner failure or invariant violation keeps the pre-refinement profile.
func (c *Classifier) refineProfile(ctx context.Context, profile *datatypes.DataSemanticProfile, filePath string) {
	refined, err := c.refiner.Refine(ctx, filePath, profile)
	if err != nil {
		c.logger.Warn("profile refinement failed, keeping draft profile",
			"profileId", profile.ID, "error", err)
		return
	}

	refined.ID = profile.ID
	if err := refined.Validate(); err != nil {
		c.logger.Warn("refined profile violates invariants, keeping draft profile",
			"profileId", profile.ID, "error", err)
		return
	}
	*profile = *refined
}
