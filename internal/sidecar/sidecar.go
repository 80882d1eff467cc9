// Package sidecar finds companion media files that belong to a primary file,
// such as an alternate-language audio track stored next to a video or in a
// "Sound" subdirectory.
package sidecar

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"trackprobe/internal/pathmask"
)

// ErrFilesystemAccess is returned when a directory consulted during
// discovery is missing or cannot be read.
var ErrFilesystemAccess = errors.New("filesystem access failure")

// Masks splits a comma-separated mask setting into its non-empty entries.
// Entries are returned untrimmed; trimming happens at match time.
func Masks(maskConfig string) []string {
	parts := strings.Split(maskConfig, ",")
	masks := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			masks = append(masks, part)
		}
	}
	return masks
}

// Locate returns the absolute paths of the sidecar files for primaryPath.
// A relative primaryPath is resolved against the working directory.
//
// Files in the same directory named "<stem>.*" come first, excluding
// primaryPath itself. Then, for each mask in order, every immediate
// subdirectory whose name matches the mask is searched recursively for
// "<stem>.*" files. Results keep directory enumeration order and are not
// de-duplicated: a subdirectory matched by two masks contributes its files
// twice. An empty or blank maskConfig disables discovery entirely.
func Locate(primaryPath, maskConfig string) ([]string, error) {
	if strings.TrimSpace(maskConfig) == "" {
		return []string{}, nil
	}

	primary, err := filepath.Abs(primaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", ErrFilesystemAccess, primaryPath, err)
	}
	dir := filepath.Dir(primary)
	stem := strings.TrimSuffix(filepath.Base(primary), filepath.Ext(primary))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrFilesystemAccess, dir, err)
	}

	var files []string
	var subdirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			subdirs = append(subdirs, entry.Name())
			continue
		}
		if !hasStem(entry.Name(), stem) {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		if candidate == primary {
			continue
		}
		files = append(files, candidate)
	}

	for _, mask := range Masks(maskConfig) {
		for _, name := range subdirs {
			if !pathmask.Match(mask, name) {
				continue
			}
			found, err := collect(filepath.Join(dir, name), stem)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
		}
	}

	if files == nil {
		files = []string{}
	}
	return files, nil
}

func collect(root, stem string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if hasStem(d.Name(), stem) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %w", ErrFilesystemAccess, root, err)
	}
	return files, nil
}

// hasStem reports whether name has the form "<stem>.<anything>".
func hasStem(name, stem string) bool {
	return strings.HasPrefix(name, stem+".")
}
