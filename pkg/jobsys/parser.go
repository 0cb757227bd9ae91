package jobsys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// yamlStep mirrors one step entry. `run` is either a single string (executed
// as a shell script) or a list of strings (spawned directly as argv).
type yamlStep struct {
	Label      string     `yaml:"label"`
	Run        yaml.Node  `yaml:"run"`
	Importance Importance `yaml:"importance"`
	Dir        string     `yaml:"dir"`
	Artifacts  []string   `yaml:"artifacts"`
	Timeout    string     `yaml:"timeout"`
}

type yamlJob struct {
	Desc  string            `yaml:"desc"`
	Env   map[string]string `yaml:"env"`
	Clean bool              `yaml:"clean"`
	Steps []yamlStep        `yaml:"steps"`
}

type yamlFile struct {
	Jobs yaml.Node `yaml:"jobs"`
}

// LoadYAML parses a recipe file into a fresh registry. The document order of
// the jobs mapping defines the registration order. Step directories and
// artifact patterns may use the //-prefix to anchor at projectRoot.
func LoadYAML(ctx context.Context, filename, projectRoot string) (*Registry, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", filename)
	}

	var file yamlFile
	err = yaml.Unmarshal(content, &file)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", filename)
	}

	if file.Jobs.Kind != yaml.MappingNode {
		return nil, eris.Errorf("%s does not declare a jobs mapping", filename)
	}

	projectRoot, err = filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(filename)

	registry := NewRegistry()
	// mapping nodes store keys and values as alternating entries
	for idx := 0; idx+1 < len(file.Jobs.Content); idx += 2 {
		name := file.Jobs.Content[idx].Value

		var job yamlJob
		err = file.Jobs.Content[idx+1].Decode(&job)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse job %s", name)
		}

		recipe, err := job.toRecipe(name, projectRoot, base)
		if err != nil {
			return nil, err
		}

		err = registry.Register(recipe)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to register job from %s", filename)
		}
	}

	log(ctx).Debug().
		Str("file", filename).
		Msgf("loaded %d jobs", registry.Len())

	return registry, nil
}

func (j yamlJob) toRecipe(name, projectRoot, base string) (*JobRecipe, error) {
	recipe := &JobRecipe{
		Name:  name,
		Desc:  j.Desc,
		Env:   j.Env,
		Clean: j.Clean,
		Steps: make([]StepSpec, 0, len(j.Steps)),
	}

	for idx, step := range j.Steps {
		spec := StepSpec{
			Label:      step.Label,
			Importance: step.Importance,
		}

		switch step.Run.Kind {
		case yaml.ScalarNode:
			err := step.Run.Decode(&spec.Shell)
			if err != nil {
				return nil, eris.Wrapf(err, "job %s: failed to parse run of step #%d", name, idx)
			}
		case yaml.SequenceNode:
			err := step.Run.Decode(&spec.Command)
			if err != nil {
				return nil, eris.Wrapf(err, "job %s: failed to parse run of step #%d", name, idx)
			}
		default:
			return nil, eris.Errorf("job %s: step #%d needs a run entry (string or list)", name, idx)
		}

		if step.Dir != "" {
			spec.Dir = resolvePath(projectRoot, base, step.Dir)
		}

		for _, pattern := range step.Artifacts {
			// relative patterns stay relative and are resolved against the
			// step's working directory at execution time
			if filepath.IsAbs(pattern) || strings.HasPrefix(pattern, "//") {
				pattern = resolvePath(projectRoot, base, pattern)
			}
			spec.Artifacts = append(spec.Artifacts, pattern)
		}

		if step.Timeout != "" {
			timeout, err := time.ParseDuration(step.Timeout)
			if err != nil {
				return nil, eris.Wrapf(err, "job %s: invalid timeout on step #%d", name, idx)
			}
			spec.Timeout = timeout
		}

		recipe.Steps = append(recipe.Steps, spec)
	}

	return recipe, nil
}
