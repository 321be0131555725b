/*
Package discover locates budget bundles on the local filesystem.

PURPOSE:
  A budget lives on disk as a directory bundle with a ".ynab4" extension,
  usually inside a Dropbox or Documents folder. Discovery walks a set of
  search roots (depth-limited, bundles sit at most one folder deep inside
  a root) and returns display-ready entries.

NAME CLEANING:
  Bundle directory names carry a "~GUID" suffix, e.g.
  "My Budget~B0DA1C43.ynab4". The suffix is stripped for display; the
  full path stays authoritative.

SEE ALSO:
  - cmd/server: exposes discovery through /api/budgets
*/
package discover

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const bundleExt = ".ynab4"

// maxDepth bounds the walk below each search root.
const maxDepth = 2

// BudgetInfo is one discovered budget bundle.
type BudgetInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// DefaultSearchPaths returns the common budget locations under the user's
// home directory. Missing directories are fine; the walk skips them.
func DefaultSearchPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(home, "Dropbox", "YNAB"),
		filepath.Join(home, "Dropbox", "Apps", "YNAB"),
		filepath.Join(home, "Documents", "YNAB"),
	}
}

// Find walks the given roots (or the defaults when none are given) and
// returns every budget bundle, deduplicated by path.
func Find(roots ...string) []BudgetInfo {
	if len(roots) == 0 {
		roots = DefaultSearchPaths()
	}

	var budgets []BudgetInfo
	seen := make(map[string]bool)

	for _, root := range roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			continue
		}

		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree, keep walking siblings
			}
			if !d.IsDir() {
				return nil
			}
			if depth(root, path) > maxDepth {
				return fs.SkipDir
			}
			if !strings.HasSuffix(d.Name(), bundleExt) {
				return nil
			}
			if !seen[path] {
				seen[path] = true
				budgets = append(budgets, BudgetInfo{Name: CleanName(d.Name()), Path: path})
			}
			return fs.SkipDir // don't descend into the bundle itself
		})
	}
	return budgets
}

// CleanName strips the bundle extension and the "~GUID" suffix from a
// bundle directory name.
func CleanName(dir string) string {
	name := strings.TrimSuffix(dir, bundleExt)
	if idx := strings.Index(name, "~"); idx >= 0 {
		name = name[:idx]
	}
	return name
}

func depth(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}
