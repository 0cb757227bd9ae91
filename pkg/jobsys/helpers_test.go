package jobsys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeEnvLaterOverlaysWin(t *testing.T) {
	base := []string{"PATH=/usr/bin", "CC=gcc"}

	merged := MergeEnv(base,
		map[string]string{"CC": "clang", "CXX": "clang++"},
		map[string]string{"CC": "clang-18"},
	)

	assert.Contains(t, merged, "PATH=/usr/bin")
	assert.Contains(t, merged, "CC=clang-18")
	assert.Contains(t, merged, "CXX=clang++")
	assert.NotContains(t, merged, "CC=gcc")
	assert.NotContains(t, merged, "CC=clang")
}

func TestMergeEnvWithoutOverlays(t *testing.T) {
	base := []string{"A=1", "B=2"}
	assert.Equal(t, base, MergeEnv(base))
}

func TestMergeEnvFoldsCaseOnBothSides(t *testing.T) {
	base := []string{"PATH=/usr/bin", "Home=C:\\Users\\ci"}

	merged := mergeEnv(base, true,
		map[string]string{"Path": "C:\\tools"},
		map[string]string{"home": "C:\\Users\\other"},
	)

	// an overlay "Path" must replace the ambient "PATH", not join it
	assert.Equal(t, []string{"HOME=C:\\Users\\other", "PATH=C:\\tools"}, merged)
}

func TestDetectRootFindsGitMetadata(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "src", "lib")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	detected, err := DetectRoot(nested)
	require.NoError(t, err)
	assert.Equal(t, root, detected)
}

func TestDetectRootFailsWithoutMetadata(t *testing.T) {
	_, err := DetectRoot(t.TempDir())
	assert.Error(t, err)
}

func TestFindRecipeFileWalksUp(t *testing.T) {
	root := t.TempDir()
	recipe := filepath.Join(root, "runbot.yaml")
	require.NoError(t, os.WriteFile(recipe, []byte("jobs: {}\n"), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	found, err := FindRecipeFile(nested)
	require.NoError(t, err)
	assert.Equal(t, recipe, found)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/ws", "build"), resolvePath("/ws", "/ws/ci", "//build"))
	assert.Equal(t, filepath.Join("/ws", "ci", "out"), resolvePath("/ws", "/ws/ci", "out"))
	assert.Equal(t, "/abs", resolvePath("/ws", "/ws/ci", "/abs"))
}
