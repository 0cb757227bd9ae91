package jobsys

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// MergeEnv overlays the given maps onto base ("K=V" entries). Later overlays
// win over earlier ones and all of them win over base. Overlay entries are
// appended in sorted key order to keep the result deterministic.
func MergeEnv(base []string, overlays ...map[string]string) []string {
	return mergeEnv(base, runtime.GOOS == "windows", overlays...)
}

// mergeEnv folds keys to upper case on both sides when foldCase is set, so an
// overlay "Path" replaces an ambient "PATH" on case-insensitive platforms.
func mergeEnv(base []string, foldCase bool, overlays ...map[string]string) []string {
	merged := make(map[string]string)
	for _, overlay := range overlays {
		for name, value := range overlay {
			if foldCase {
				name = strings.ToUpper(name)
			}
			merged[name] = value
		}
	}

	result := make([]string, 0, len(base)+len(merged))
	for _, item := range base {
		parts := strings.SplitN(item, "=", 2)
		if foldCase {
			parts[0] = strings.ToUpper(parts[0])
		}

		// skip overridden entries to avoid conflicts
		if _, present := merged[parts[0]]; !present {
			result = append(result, item)
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		result = append(result, fmt.Sprintf("%s=%s", name, merged[name]))
	}

	return result
}

// DetectRoot walks up from start until it finds version control metadata
// (a .git entry) and returns that directory.
func DetectRoot(start string) (string, error) {
	path, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", start)
	}

	for {
		_, err := os.Stat(filepath.Join(path, ".git"))
		if err == nil {
			return path, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", path)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("no version control metadata found above %s", start)
		}

		path = parent
	}
}

// RecipeFileNames lists the recipe files FindRecipeFile looks for, in order
// of preference.
var RecipeFileNames = []string{"runbot.star", "runbot.yaml", "runbot.yml"}

// FindRecipeFile walks up from start until it finds one of RecipeFileNames.
func FindRecipeFile(start string) (string, error) {
	path, err := filepath.Abs(start)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", start)
	}

	for {
		for _, name := range RecipeFileNames {
			candidate := filepath.Join(path, name)
			_, err := os.Stat(candidate)
			if err == nil {
				return candidate, nil
			}
			if !eris.Is(err, os.ErrNotExist) {
				return "", eris.Wrapf(err, "failed to check %s", candidate)
			}
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("no recipe file found above %s", start)
		}

		path = parent
	}
}

// resolvePath anchors a recipe path: "//" prefixes are relative to the
// workspace root, relative paths are relative to base and absolute paths are
// kept as-is.
func resolvePath(root, base, path string) string {
	switch {
	case strings.HasPrefix(path, "//"):
		return filepath.Clean(filepath.Join(root, path[2:]))
	case filepath.IsAbs(path):
		return filepath.Clean(path)
	default:
		return filepath.Clean(filepath.Join(base, path))
	}
}
