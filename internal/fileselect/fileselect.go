// Package fileselect turns user supplied paths and glob patterns into the
// list of files to upload.
package fileselect

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoFiles is returned when no pattern matched an uploadable file.
var ErrNoFiles = errors.New("no files to upload")

// Resolver ...
type Resolver struct {
	pathModifier pathutil.PathModifier
	pathChecker  pathutil.PathChecker
	logger       log.Logger
}

// NewResolver ...
func NewResolver(pathModifier pathutil.PathModifier, pathChecker pathutil.PathChecker, logger log.Logger) *Resolver {
	return &Resolver{
		pathModifier: pathModifier,
		pathChecker:  pathChecker,
		logger:       logger,
	}
}

// Resolve expands the patterns and returns the absolute paths of the
// matched regular files, in pattern order and without duplicates.
// Directories and missing paths are skipped with a warning.
func (r *Resolver) Resolve(patterns []string) ([]string, error) {
	var expandedPaths []string
	for _, path := range patterns {
		if !strings.ContainsAny(path, "*?[{") {
			expandedPaths = append(expandedPaths, path)
			continue
		}

		base, pattern := doublestar.SplitPattern(path)
		absBase, err := r.pathModifier.AbsPath(base)
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(os.DirFS(absBase), pattern, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
		if err != nil {
			r.logger.Warnf("Error in path pattern '%s': %s", path, err)
			continue
		}
		if len(matches) == 0 {
			r.logger.Warnf("No match for path pattern: %s", path)
			continue
		}

		sort.Strings(matches)
		for _, match := range matches {
			expandedPaths = append(expandedPaths, filepath.Join(absBase, match))
		}
	}

	seen := map[string]bool{}
	var finalPaths []string
	for _, path := range expandedPaths {
		absPath, err := r.pathModifier.AbsPath(path)
		if err != nil {
			r.logger.Warnf("Failed to parse path %s, error: %s", path, err)
			continue
		}
		if seen[absPath] {
			continue
		}

		exists, err := r.pathChecker.IsPathExists(absPath)
		if err != nil {
			r.logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if !exists {
			r.logger.Warnf("File doesn't exist: %s", path)
			continue
		}
		isDir, err := r.pathChecker.IsDirExists(absPath)
		if err != nil {
			r.logger.Warnf("Failed to check path %s, error: %s", absPath, err)
		}
		if isDir {
			r.logger.Warnf("Skipping directory: %s", path)
			continue
		}

		seen[absPath] = true
		finalPaths = append(finalPaths, absPath)
	}

	if len(finalPaths) == 0 {
		return nil, ErrNoFiles
	}
	return finalPaths, nil
}
