package jobsys

import (
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecipe(name string) *JobRecipe {
	return &JobRecipe{
		Name:  name,
		Steps: []StepSpec{{Label: "noop", Command: []string{"true"}}},
	}
}

func TestRegistryResolveReturnsRegisteredRecipe(t *testing.T) {
	registry := NewRegistry()
	recipe := testRecipe("generic-debug")

	require.NoError(t, registry.Register(recipe))

	resolved, err := registry.Resolve("generic-debug")
	require.NoError(t, err)
	assert.Same(t, recipe, resolved)
}

func TestRegistryResolveRejectsUnknownNames(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(testRecipe("generic-debug")))

	resolved, err := registry.Resolve("unknown-xyz")
	assert.Nil(t, resolved)
	assert.True(t, eris.Is(err, ErrUnknownJob))
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	original := testRecipe("generic-debug")
	require.NoError(t, registry.Register(original))

	err := registry.Register(testRecipe("generic-debug"))
	assert.True(t, eris.Is(err, ErrDuplicateJob))

	// the original recipe stays resolvable and unchanged
	resolved, err := registry.Resolve("generic-debug")
	require.NoError(t, err)
	assert.Same(t, original, resolved)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryRejectsEmptyJobs(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(&JobRecipe{Name: "does-nothing"})
	assert.True(t, eris.Is(err, ErrEmptyJob))

	err = registry.Register(&JobRecipe{})
	assert.Error(t, err)
}

func TestRegistryListsInRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "midway"} {
		require.NoError(t, registry.Register(testRecipe(name)))
	}

	assert.Equal(t, []string{"zeta", "alpha", "midway"}, registry.List())
}

func TestRegistryFillsMissingStepLabels(t *testing.T) {
	registry := NewRegistry()
	recipe := &JobRecipe{
		Name:  "auto-label",
		Steps: []StepSpec{{Command: []string{"true"}}},
	}

	require.NoError(t, registry.Register(recipe))
	assert.True(t, strings.HasPrefix(recipe.Steps[0].Label, "step#"))
}
