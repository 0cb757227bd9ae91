package jobsys

import (
	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
)

// Registry maps job names to recipes. It is populated once at startup and
// read-only afterwards, so concurrent Resolve calls need no locking.
type Registry struct {
	names   []string
	recipes map[string]*JobRecipe
}

func NewRegistry() *Registry {
	return &Registry{recipes: make(map[string]*JobRecipe)}
}

// Register adds a recipe. Duplicate names and zero-step recipes are refused.
// Steps without a label get an auto-generated one.
func (r *Registry) Register(recipe *JobRecipe) error {
	if recipe.Name == "" {
		return eris.New("job name must not be empty")
	}

	if len(recipe.Steps) == 0 {
		return eris.Wrapf(ErrEmptyJob, "job %s", recipe.Name)
	}

	if _, present := r.recipes[recipe.Name]; present {
		return eris.Wrapf(ErrDuplicateJob, "job %s", recipe.Name)
	}

	for idx := range recipe.Steps {
		if recipe.Steps[idx].Label == "" {
			recipe.Steps[idx].Label = "step#" + nanoid.New()
		}
	}

	r.names = append(r.names, recipe.Name)
	r.recipes[recipe.Name] = recipe
	return nil
}

// Resolve returns the exact recipe registered under name.
func (r *Registry) Resolve(name string) (*JobRecipe, error) {
	recipe, found := r.recipes[name]
	if !found {
		return nil, eris.Wrapf(ErrUnknownJob, "job %s", name)
	}

	return recipe, nil
}

// List returns the job names in registration order.
func (r *Registry) List() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

func (r *Registry) Len() int {
	return len(r.names)
}
