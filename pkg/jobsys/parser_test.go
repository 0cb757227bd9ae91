package jobsys

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecipe(t *testing.T, name, content string) (string, string) {
	t.Helper()

	root := t.TempDir()
	filename := filepath.Join(root, name)
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o644))
	return filename, root
}

func TestLoadYAML(t *testing.T) {
	filename, root := writeRecipe(t, "runbot.yaml", `
jobs:
  generic-debug:
    desc: debug build
    clean: true
    env:
      CC: clang
    steps:
      - label: generate
        run: cmake -G Ninja -S . -B .
        timeout: 30m
      - label: compile
        run: ["ninja", "-C", "."]
        artifacts: ["lib/**/*.a"]
  docs:
    steps:
      - label: build-docs
        importance: informational
        run: ninja docs
        dir: "//docs"
`)

	registry, err := LoadYAML(context.Background(), filename, root)
	require.NoError(t, err)

	assert.Equal(t, []string{"generic-debug", "docs"}, registry.List())

	debug, err := registry.Resolve("generic-debug")
	require.NoError(t, err)
	assert.Equal(t, "debug build", debug.Desc)
	assert.True(t, debug.Clean)
	assert.Equal(t, map[string]string{"CC": "clang"}, debug.Env)
	require.Len(t, debug.Steps, 2)

	generate := debug.Steps[0]
	assert.Equal(t, "cmake -G Ninja -S . -B .", generate.Shell)
	assert.Empty(t, generate.Command)
	assert.Equal(t, ImportanceBlocking, generate.Importance)
	assert.Equal(t, 30*time.Minute, generate.Timeout)

	compile := debug.Steps[1]
	assert.Equal(t, []string{"ninja", "-C", "."}, compile.Command)
	assert.Equal(t, []string{"lib/**/*.a"}, compile.Artifacts)

	docs, err := registry.Resolve("docs")
	require.NoError(t, err)
	assert.Equal(t, ImportanceInformational, docs.Steps[0].Importance)
	assert.Equal(t, filepath.Join(root, "docs"), docs.Steps[0].Dir)
}

func TestLoadYAMLRejectsUnknownImportance(t *testing.T) {
	filename, root := writeRecipe(t, "runbot.yaml", `
jobs:
  broken:
    steps:
      - run: "true"
        importance: critical
`)

	_, err := LoadYAML(context.Background(), filename, root)
	assert.ErrorContains(t, err, "importance")
}

func TestLoadYAMLRejectsStepsWithoutRun(t *testing.T) {
	filename, root := writeRecipe(t, "runbot.yaml", `
jobs:
  broken:
    steps:
      - label: missing
`)

	_, err := LoadYAML(context.Background(), filename, root)
	assert.ErrorContains(t, err, "run")
}

func TestLoadYAMLRejectsJoblessFiles(t *testing.T) {
	filename, root := writeRecipe(t, "runbot.yaml", "stages: []\n")

	_, err := LoadYAML(context.Background(), filename, root)
	assert.ErrorContains(t, err, "jobs")
}

func TestLoadYAMLRejectsEmptyJobs(t *testing.T) {
	filename, root := writeRecipe(t, "runbot.yaml", `
jobs:
  does-nothing:
    desc: no steps here
`)

	_, err := LoadYAML(context.Background(), filename, root)
	assert.ErrorContains(t, err, "no steps")
}
