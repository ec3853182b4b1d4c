package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hpungsan/scoper/internal/config"
	"github.com/hpungsan/scoper/internal/errors"
)

// PathCheckMode says whether a path is about to be read or written.
type PathCheckMode int

const (
	PathCheckRead  PathCheckMode = iota // import source
	PathCheckWrite                      // export destination
)

// ValidatePath checks an import source or export destination.
//
// The path must be a .jsonl file with no ".." component, sitting directly in
// ~/.scoper/exports or in an absolute allowed_paths entry. Subdirectories are
// refused so no intermediate component can be swapped for a symlink between
// this check and the open. Neither the file nor its directory may be a
// symlink. AllowUnsafePaths lifts the directory rule only. Read paths must exist.
func ValidatePath(path string, mode PathCheckMode, cfg *config.Config) error {
	switch {
	case path == "":
		return errors.NewInvalidRequest("path is required")
	case containsTraversal(path):
		return errors.NewInvalidRequest("path must not contain directory traversal (..)")
	case filepath.Ext(filepath.Clean(path)) != ".jsonl":
		return errors.NewInvalidRequest("path must have .jsonl extension")
	}

	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid path: %v", err))
	}

	if cfg == nil || !cfg.AllowUnsafePaths {
		if err := checkDirectory(filepath.Dir(abs), cfg); err != nil {
			return err
		}
	}

	info, statErr := os.Lstat(abs)
	if statErr == nil && info.Mode()&os.ModeSymlink != 0 {
		return errors.NewInvalidRequest("path must not be a symlink")
	}
	if mode == PathCheckRead && os.IsNotExist(statErr) {
		return errors.NewFileNotFound(path)
	}
	return nil
}

// checkDirectory requires dir to be exactly one of the allowed directories
// and not itself a symlink.
func checkDirectory(dir string, cfg *config.Config) error {
	allowed, err := allowedDirs(cfg)
	if err != nil {
		return err
	}
	dir = filepath.Clean(dir)
	for _, a := range allowed {
		if dir != a {
			continue
		}
		if isSymlink(dir) {
			return errors.NewInvalidRequest("parent directory must not be a symlink")
		}
		return nil
	}
	return errors.NewInvalidRequest(fmt.Sprintf(
		"file must be directly in an allowed directory (no subdirectories); allowed: %v", allowed))
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// allowedDirs returns the export directory plus absolute allowed_paths
// entries, cleaned, with symlinked entries resolved to their targets.
// Relative entries are ignored.
func allowedDirs(cfg *config.Config) ([]string, error) {
	exportsDir, err := DefaultExportsDir()
	if err != nil {
		return nil, err
	}

	candidates := []string{exportsDir}
	if cfg != nil {
		for _, p := range cfg.AllowedPaths {
			if filepath.IsAbs(p) {
				candidates = append(candidates, p)
			}
		}
	}

	dirs := make([]string, 0, len(candidates))
	for _, d := range candidates {
		d = filepath.Clean(d)
		if isSymlink(d) {
			resolved, err := filepath.EvalSymlinks(d)
			if err != nil {
				return nil, errors.NewInvalidRequest(fmt.Sprintf("cannot resolve symlink in allowed path: %v", err))
			}
			d = resolved
		}
		dirs = append(dirs, d)
	}
	return dirs, nil
}

// DefaultExportsDir returns ~/.scoper/exports.
func DefaultExportsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("failed to get home directory: %w", err))
	}
	return filepath.Join(home, config.DirName, "exports"), nil
}

// containsTraversal reports whether any path component is "..".
// Forward slashes count as separators on every platform.
func containsTraversal(path string) bool {
	parts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == filepath.Separator
	})
	for _, part := range parts {
		if part == ".." {
			return true
		}
	}
	return false
}

var dashRuns = regexp.MustCompile(`-{2,}`)

// SanitizeForFilename makes a user id safe to embed in an export file name.
func SanitizeForFilename(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '-'
		case r < 32 || r == 127:
			return -1
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, "..", "-")
	s = strings.Trim(dashRuns.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "unnamed"
	}
	return s
}
