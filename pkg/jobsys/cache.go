package jobsys

import (
	"encoding/gob"
	"os"

	"github.com/rotisserie/eris"
)

type cachePayload struct {
	Values  map[string]string
	Options map[string]ScriptOption
	Names   []string
	Recipes map[string]*JobRecipe
}

// WriteCache snapshots a parsed registry, the declared options and the option
// values the script was evaluated with, so later invocations can skip script
// evaluation without losing the job listing's option help.
func WriteCache(file string, values map[string]string, options map[string]ScriptOption, registry *Registry) error {
	handle, err := os.Create(file)
	if err != nil {
		return err
	}
	defer handle.Close()

	payload := cachePayload{
		Values:  values,
		Options: options,
		Names:   registry.names,
		Recipes: registry.recipes,
	}
	return gob.NewEncoder(handle).Encode(payload)
}

// ReadCache restores a registry snapshot written by WriteCache.
func ReadCache(file string) (map[string]string, map[string]ScriptOption, *Registry, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, nil, nil, err
	}
	defer handle.Close()

	var payload cachePayload
	err = gob.NewDecoder(handle).Decode(&payload)
	if err != nil {
		return nil, nil, nil, eris.Wrapf(err, "failed to decode cache %s", file)
	}

	registry := NewRegistry()
	for _, name := range payload.Names {
		recipe, found := payload.Recipes[name]
		if !found {
			return nil, nil, nil, eris.Errorf("cache %s is inconsistent, job %s is missing", file, name)
		}

		err = registry.Register(recipe)
		if err != nil {
			return nil, nil, nil, eris.Wrapf(err, "failed to restore cache %s", file)
		}
	}

	return payload.Values, payload.Options, registry, nil
}
