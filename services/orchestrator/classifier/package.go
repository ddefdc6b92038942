// Copyright (C) 2026 GeoScope AI (dev@geoscope.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package classifier infers the semantic form of uploaded datasets through a
// four-stage pipeline: extension heuristics, content inspection, candidate
// resolution and LLM refinement.
//
// This file builds the DatasetPackage a classification request operates on:
// archives are expanded, directories are walked, and the flat file listing is
// immutable afterwards. I/O failures here are fatal to the request; there is
// no silent Unknown fallback for a corrupt archive or a missing file.
package classifier

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/geoscope-ai/geoscope/services/orchestrator/datatypes"
)

// archiveExts are the archive formats the pipeline expands.
var archiveExts = map[string]bool{
	".zip": true,
	".tar": true,
	".gz":  true,
	".tgz": true,
}

// primaryFilePriority orders extensions for primary file selection inside
// expanded archives and directories.
var primaryFilePriority = []string{
	".xml",
	".shp",
	".tif", ".tiff", ".geotiff",
	".nc", ".netcdf",
	".geojson",
	".csv",
	".json",
	".h5", ".hdf", ".hdf5",
}

// BuildPackage expands path into an immutable DatasetPackage.
//
// # Inputs
//
//   - path: A single file, a directory, or an archive (.zip, .tar, .tar.gz).
//
// # Outputs
//
//   - *datatypes.DatasetPackage: Root path, flat file listing and the
//     priority-selected primary file.
//   - error: Non-nil when the path is missing, the archive is corrupt, or
//     the package is empty after expansion. All fatal to the request.
func BuildPackage(path string) (*datatypes.DatasetPackage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("dataset path %s does not exist: %w", path, err)
	}

	if info.IsDir() {
		files, err := collectFiles(path)
		if err != nil {
			return nil, err
		}
		return finishPackage(path, files)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if archiveExts[ext] {
		root, err := expandArchive(path, ext)
		if err != nil {
			return nil, err
		}
		files, err := collectFiles(root)
		if err != nil {
			return nil, err
		}
		return finishPackage(root, files)
	}

	return &datatypes.DatasetPackage{
		RootPath:    filepath.Dir(path),
		Files:       []string{path},
		PrimaryFile: path,
	}, nil
}

func finishPackage(root string, files []string) (*datatypes.DatasetPackage, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("dataset package at %s is empty after expansion", root)
	}
	return &datatypes.DatasetPackage{
		RootPath:    root,
		Files:       files,
		PrimaryFile: identifyPrimaryFile(files),
	}, nil
}

// collectFiles recursively lists regular files, skipping hidden and system
// entries.
func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "__") {
			if d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk dataset directory %s: %w", root, err)
	}
	return files, nil
}

// identifyPrimaryFile picks the highest-priority file from a listing, or the
// first file when nothing matches the priority table.
func identifyPrimaryFile(files []string) string {
	if len(files) == 0 {
		return ""
	}
	for _, ext := range primaryFilePriority {
		for _, file := range files {
			if strings.HasSuffix(strings.ToLower(file), ext) {
				return file
			}
		}
	}
	return files[0]
}

// expandArchive extracts an archive next to itself and returns the new root.
func expandArchive(path, ext string) (string, error) {
	dest, err := os.MkdirTemp("", "geoscope-dataset-*")
	if err != nil {
		return "", fmt.Errorf("failed to create extraction directory: %w", err)
	}

	switch ext {
	case ".zip":
		err = extractZip(path, dest)
	default:
		err = extractTar(path, dest)
	}
	if err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("failed to expand archive %s: %w", path, err)
	}
	return dest, nil
}

func extractZip(src, dest string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, entry := range reader.File {
		target, err := safeJoin(dest, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := writeEntry(target, func() (io.ReadCloser, error) { return entry.Open() }); err != nil {
			return err
		}
	}
	return nil
}

func extractTar(src, dest string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	var reader io.Reader = f
	if ext := strings.ToLower(filepath.Ext(src)); ext == ".gz" || ext == ".tgz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	}

	tr := tar.NewReader(reader)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, func() (io.ReadCloser, error) {
				return io.NopCloser(tr), nil
			}); err != nil {
				return err
			}
		}
	}
}

// safeJoin rejects entries that would escape the destination directory.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.Clean(name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", name)
	}
	return target, nil
}

func writeEntry(target string, open func() (io.ReadCloser, error)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
