package jobsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// ScriptOption describes an option() declared by a recipe script.
type ScriptOption struct {
	Default string
	Help    string
}

type scriptCtx struct {
	ctx          context.Context
	filename     string
	projectRoot  string
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	recipes      []*JobRecipe
	initPhase    bool
}

func getScriptCtx(thread *starlark.Thread) *scriptCtx {
	return thread.Local("scriptCtx").(*scriptCtx)
}

// stepValue wraps a StepSpec so step() results can be passed to job().

type stepValue struct {
	spec StepSpec
}

// String returns a string representation of the step
func (s *stepValue) String() string {
	return fmt.Sprintf("<step %s: %s>", s.spec.Label, s.spec.CommandString())
}

// Type always returns "step" to indicate this type
func (s *stepValue) Type() string {
	return "step"
}

// Freeze doesn't do anything since steps are immutable anyway
func (s *stepValue) Freeze() {}

// Truth always returns true since a step can't be nil or None
func (s *stepValue) Truth() starlark.Bool {
	return starlark.True
}

func (s *stepValue) Hash() (uint32, error) {
	return 0, eris.New("step is not a hashable type")
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func iterableToStringSlice(input starlarkIterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

func scriptPos(thread *starlark.Thread, sc *scriptCtx) string {
	pos := thread.CallFrame(1).Pos
	name := sc.filename
	if rel, err := filepath.Rel(sc.projectRoot, name); err == nil {
		name = "//" + filepath.ToSlash(rel)
	}
	return fmt.Sprintf("%s:%d:%d", name, pos.Line, pos.Col)
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	sc := getScriptCtx(thread)
	log(sc.ctx).Info().Msgf("%s: %s", scriptPos(thread, sc), message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	sc := getScriptCtx(thread)
	log(sc.ctx).Warn().Msgf("%s: %s", scriptPos(thread, sc), message)
	return starlark.None, nil
}

func starFail(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func starOption(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue string
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	sc := getScriptCtx(thread)
	if !sc.initPhase {
		return nil, eris.New("option() can only be called during the init phase (in the global scope)")
	}

	sc.options[name] = ScriptOption{
		Default: defaultValue,
		Help:    help,
	}

	value, ok := sc.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return starlark.String(defaultValue), nil
}

func starGetenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key)
	if err != nil {
		return nil, err
	}

	envOverrides := getScriptCtx(thread).envOverrides
	value, ok := envOverrides[key]
	if !ok {
		value = os.Getenv(key)
	}

	return starlark.String(value), nil
}

func starSetenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value)
	if err != nil {
		return nil, err
	}

	envOverrides := getScriptCtx(thread).envOverrides
	envOverrides[key] = value

	return starlark.True, nil
}

func starIsdir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dirPath string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &dirPath)
	if err != nil {
		return nil, err
	}

	sc := getScriptCtx(thread)
	dirPath = resolvePath(sc.projectRoot, filepath.Dir(sc.filename), dirPath)
	info, err := os.Stat(dirPath)
	return starlark.Bool(err == nil && info.IsDir()), nil
}

func starIsfile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var filePath string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &filePath)
	if err != nil {
		return nil, err
	}

	sc := getScriptCtx(thread)
	filePath = resolvePath(sc.projectRoot, filepath.Dir(sc.filename), filePath)
	info, err := os.Stat(filePath)
	return starlark.Bool(err == nil && info.Mode().IsRegular()), nil
}

func starStep(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var run starlark.Value
	var importance string
	var dir string
	var artifacts *starlark.List
	var timeout string

	step := new(stepValue)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "run", &run, "label?", &step.spec.Label,
		"importance?", &importance, "dir?", &dir, "artifacts?", &artifacts, "timeout?", &timeout)
	if err != nil {
		return nil, err
	}

	switch value := run.(type) {
	case starlark.String:
		step.spec.Shell = value.GoString()
	case *starlark.List:
		step.spec.Command, err = iterableToStringSlice(value, "run")
		if err != nil {
			return nil, err
		}
	case starlark.Tuple:
		step.spec.Command, err = iterableToStringSlice(value, "run")
		if err != nil {
			return nil, err
		}
	default:
		return nil, eris.Errorf("%s: unexpected type %s for run, only strings, tuples and lists are valid", fn.Name(), run.Type())
	}

	switch importance {
	case "", "blocking":
		step.spec.Importance = ImportanceBlocking
	case "informational", "info":
		step.spec.Importance = ImportanceInformational
	default:
		return nil, eris.Errorf("%s: unknown importance %q", fn.Name(), importance)
	}

	sc := getScriptCtx(thread)
	if dir != "" {
		step.spec.Dir = resolvePath(sc.projectRoot, filepath.Dir(sc.filename), dir)
	}

	if artifacts != nil {
		patterns, err := iterableToStringSlice(artifacts, "artifacts")
		if err != nil {
			return nil, err
		}
		for _, pattern := range patterns {
			if filepath.IsAbs(pattern) || strings.HasPrefix(pattern, "//") {
				pattern = resolvePath(sc.projectRoot, filepath.Dir(sc.filename), pattern)
			}
			step.spec.Artifacts = append(step.spec.Artifacts, pattern)
		}
	}

	if timeout != "" {
		step.spec.Timeout, err = time.ParseDuration(timeout)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: invalid timeout %q", fn.Name(), timeout)
		}
	}

	return step, nil
}

func starJob(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var env *starlark.Dict
	var steps *starlark.List

	recipe := new(JobRecipe)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &recipe.Name, "steps", &steps,
		"desc?", &recipe.Desc, "clean?", &recipe.Clean, "env?", &env)
	if err != nil {
		return nil, err
	}

	recipe.Env = map[string]string{}
	if env != nil {
		for _, rawKey := range env.Keys() {
			key, ok := rawKey.(starlark.String)
			if !ok {
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", rawKey.Type())
			}

			rawValue, _, err := env.Get(rawKey)
			if err != nil {
				return nil, err
			}
			value, ok := rawValue.(starlark.String)
			if !ok {
				return nil, eris.Errorf("found value of type %s for key %s but only strings are supported", rawValue.Type(), key.GoString())
			}
			recipe.Env[key.GoString()] = value.GoString()
		}
	}

	iter := steps.Iterate()
	defer iter.Done()

	var item starlark.Value
	idx := 0
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			// bare strings are shorthand for a shell step
			recipe.Steps = append(recipe.Steps, StepSpec{Shell: value.GoString()})
		case *stepValue:
			recipe.Steps = append(recipe.Steps, value.spec)
		default:
			return nil, eris.Errorf("%s: unexpected type %s for step #%d, only strings and step() values are valid", fn.Name(), item.Type(), idx)
		}
		idx++
	}

	sc := getScriptCtx(thread)
	sc.recipes = append(sc.recipes, recipe)
	return starlark.None, nil
}

// LoadStarlark evaluates a recipe script and returns the declared jobs plus
// the script's options. The script declares options and helpers at the top
// level and jobs inside a configure function, which is called once the init
// phase is done (top-level Starlark disallows control flow, hence the
// wrapper function).
func LoadStarlark(ctx context.Context, filename, projectRoot string, options map[string]string) (*Registry, map[string]ScriptOption, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, nil, err
	}

	builtins := starlark.StringDict{
		"OS":      starlark.String(runtime.GOOS),
		"ARCH":    starlark.String(runtime.GOARCH),
		"info":    starlark.NewBuiltin("info", starInfo),
		"warn":    starlark.NewBuiltin("warn", starWarn),
		"fail":    starlark.NewBuiltin("fail", starFail),
		"option":  starlark.NewBuiltin("option", starOption),
		"getenv":  starlark.NewBuiltin("getenv", starGetenv),
		"setenv":  starlark.NewBuiltin("setenv", starSetenv),
		"isdir":   starlark.NewBuiltin("isdir", starIsdir),
		"isfile":  starlark.NewBuiltin("isfile", starIsfile),
		"step":    starlark.NewBuiltin("step", starStep),
		"job":     starlark.NewBuiltin("job", starJob),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	sc := scriptCtx{
		ctx:          ctx,
		filename:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		recipes:      make([]*JobRecipe, 0),
		initPhase:    true,
	}
	thread.SetLocal("scriptCtx", &sc)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, eris.Wrap(err, "failed to read file")
	}

	globals, err := starlark.ExecFile(thread, filename, script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, nil, eris.Errorf("failed to execute %s:\n%s", filename, evalError.Backtrace())
		}
		return nil, nil, eris.Wrap(err, "failed to execute")
	}

	configure, ok := globals["configure"]
	if !ok {
		return nil, nil, eris.Errorf("%s did not declare a configure function", filename)
	}

	configureFunc, ok := configure.(starlark.Callable)
	if !ok {
		return nil, nil, eris.Errorf("%s did declare a configure value but it's not a function", filename)
	}

	sc.initPhase = false
	_, err = starlark.Call(thread, configureFunc, make(starlark.Tuple, 0), make([]starlark.Tuple, 0))
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, nil, eris.New(evalError.Backtrace())
		}
		return nil, nil, eris.Wrapf(err, "failed configure call in %s", filename)
	}

	registry := NewRegistry()
	for _, recipe := range sc.recipes {
		for name, value := range sc.envOverrides {
			_, present := recipe.Env[name]
			if !present {
				recipe.Env[name] = value
			}
		}

		err = registry.Register(recipe)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "failed to register job from %s", filename)
		}
	}

	return registry, sc.options, nil
}
