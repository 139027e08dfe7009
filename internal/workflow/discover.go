package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultDir is the conventional workflow directory relative to a
// repository root.
const DefaultDir = ".github/workflows"

// Discover finds all definition files in a directory. Only regular files
// with .yml or .yaml extensions are returned. Symlinks and entries that
// resolve outside the directory are skipped.
func Discover(dir string) ([]string, error) {
	return DiscoverMatching(dir, "")
}

// DiscoverMatching is Discover with an optional doublestar pattern applied
// to file base names, e.g. "ci-*" or "*deploy*".
func DiscoverMatching(dir, pattern string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("workflows directory cannot be empty")
	}
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid workflow pattern %q", pattern)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workflows directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading workflows directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		// Skip symlinks to prevent path traversal
		if entry.Type()&os.ModeSymlink != 0 {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		if pattern != "" {
			base := strings.TrimSuffix(entry.Name(), ext)
			if ok, _ := doublestar.Match(pattern, base); !ok {
				continue
			}
		}

		fullPath := filepath.Join(dir, entry.Name())
		absPath, err := filepath.Abs(fullPath)
		if err != nil {
			continue
		}

		// Ensure the resolved path stays within the directory
		relPath, err := filepath.Rel(absDir, absPath)
		if err != nil || strings.HasPrefix(relPath, "..") {
			continue
		}

		files = append(files, fullPath)
	}

	return files, nil
}
