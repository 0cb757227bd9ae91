package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"runbot/pkg/jobsys"
)

var (
	flagRoot     string
	flagBuildDir string
	flagRecipe   string
	flagEnv      []string
	flagReport   string
	flagDry      bool
	flagNoColor  bool
	flagVerbose  bool
	flagTimeout  time.Duration
	flagCache    bool
)

var logger zerolog.Logger

var RootCmd = &cobra.Command{
	Use:   "runbot [flags] <job-name>... [key=value ...]",
	Short: "Configuration-driven build and test orchestration",
	Long: `runbot resolves named jobs from the first runbot.star or runbot.yaml file it
finds and executes their steps in order. Without a job name it lists the
available jobs. Bare key=value arguments override the job environment and the
recipe script's options.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	RootCmd.Flags().StringVar(&flagRoot, "root", "", "workspace root (default: auto-detected from version control metadata)")
	RootCmd.Flags().StringVar(&flagBuildDir, "build-dir", "", "working directory override (default: <root>/build/<job-name>)")
	RootCmd.Flags().StringVar(&flagRecipe, "recipe", "", "recipe file (default: the next runbot.star or runbot.yaml up the tree)")
	RootCmd.Flags().StringArrayVarP(&flagEnv, "env", "e", nil, "extra environment overrides (key=value, repeatable)")
	RootCmd.Flags().StringVar(&flagReport, "report", "", "append machine-readable JSON events to this file")
	RootCmd.Flags().BoolVarP(&flagDry, "dry", "n", false, "dry run; only print the commands, don't execute anything")
	RootCmd.Flags().BoolVar(&flagNoColor, "no-color", false, "disable colored output")
	RootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log step commands and print output of successful steps")
	RootCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "abort the whole run after this duration")
	RootCmd.Flags().BoolVar(&flagCache, "cache", false, "cache parsed recipe scripts next to the recipe file")
}

func Execute() {
	cobra.CheckErr(RootCmd.Execute())
}

// splitArgs separates job names from key=value overrides.
func splitArgs(args []string) ([]string, map[string]string) {
	jobs := make([]string, 0, len(args))
	overrides := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			overrides[part[:pos]] = part[pos+1:]
		} else {
			jobs = append(jobs, part)
		}
	}

	return jobs, overrides
}

func runRoot(cmd *cobra.Command, args []string) error {
	writer := NewConsoleWriter()
	if flagNoColor {
		writer.DisableColor()
	}

	logger = zerolog.New(writer)
	if flagVerbose {
		logger = logger.Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}

	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return eris.Wrap(err, "failed to load .env")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagTimeout)
		defer cancel()
	}

	ctx = jobsys.WithLogger(ctx, &logger)

	jobNames, overrides := splitArgs(args)
	for _, entry := range flagEnv {
		pos := strings.Index(entry, "=")
		if pos < 0 {
			return eris.Errorf("invalid --env entry %q, expected key=value", entry)
		}
		overrides[entry[:pos]] = entry[pos+1:]
	}

	wd, err := os.Getwd()
	if err != nil {
		return eris.Wrap(err, "failed to retrieve the current working directory")
	}

	root := flagRoot
	if root == "" {
		root, err = jobsys.DetectRoot(wd)
		if err != nil {
			logger.Warn().Msgf("falling back to the working directory as root: %s", eris.ToString(err, false))
			root = wd
		}
	}

	recipeFile := flagRecipe
	if recipeFile == "" {
		recipeFile, err = jobsys.FindRecipeFile(wd)
		if err != nil {
			return err
		}
	}

	registry, options, err := loadRegistry(ctx, recipeFile, root, overrides)
	if err != nil {
		return err
	}

	if len(jobNames) == 0 {
		printJobs(cmd.OutOrStdout(), registry, options)
		return nil
	}

	console := jobsys.NewConsoleSink(os.Stdout)
	if flagNoColor {
		console.DisableColor()
	}
	console.ShowOutput = flagVerbose

	sinks := jobsys.MultiSink{console}
	if flagReport != "" {
		report, err := os.OpenFile(flagReport, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return eris.Wrapf(err, "failed to open report file %s", flagReport)
		}
		defer report.Close()
		sinks = append(sinks, jobsys.NewJSONReportSink(report))
	}

	runner := &jobsys.Runner{
		Registry: registry,
		Executor: &jobsys.Executor{DryRun: flagDry},
		Sink:     sinks,
		Root:     root,
		BuildDir: flagBuildDir,
		Env:      overrides,
	}

	for _, name := range jobNames {
		result := runner.Run(ctx, name)
		switch result.Outcome {
		case jobsys.JobSucceeded:
		case jobsys.JobUnknown:
			return eris.Errorf("unknown job %q, run %s without arguments to list the available jobs", name, cmd.CommandPath())
		default:
			if result.Err != nil {
				return eris.Wrapf(result.Err, "job %s failed", name)
			}
			return eris.Errorf("job %s failed", name)
		}
	}

	return nil
}

// loadRegistry parses the recipe file; Starlark scripts optionally go
// through the gob cache when their option values match.
func loadRegistry(ctx context.Context, recipeFile, root string, overrides map[string]string) (*jobsys.Registry, map[string]jobsys.ScriptOption, error) {
	if !strings.HasSuffix(recipeFile, ".star") {
		registry, err := jobsys.LoadYAML(ctx, recipeFile, root)
		return registry, nil, err
	}

	cacheFile := recipeFile + ".cache"
	if flagCache {
		if registry, options, ok := readRecipeCache(cacheFile, recipeFile, overrides); ok {
			logger.Debug().Msgf("using cached recipes from %s", cacheFile)
			return registry, options, nil
		}
	}

	registry, options, err := jobsys.LoadStarlark(ctx, recipeFile, root, overrides)
	if err != nil {
		return nil, nil, err
	}

	if flagCache {
		err = jobsys.WriteCache(cacheFile, overrides, options, registry)
		if err != nil {
			logger.Warn().Err(err).Msgf("failed to write cache %s", cacheFile)
		}
	}

	return registry, options, nil
}

func readRecipeCache(cacheFile, recipeFile string, overrides map[string]string) (*jobsys.Registry, map[string]jobsys.ScriptOption, bool) {
	cacheInfo, err := os.Stat(cacheFile)
	if err != nil {
		return nil, nil, false
	}
	recipeInfo, err := os.Stat(recipeFile)
	if err != nil || recipeInfo.ModTime().After(cacheInfo.ModTime()) {
		return nil, nil, false
	}

	cachedValues, options, registry, err := jobsys.ReadCache(cacheFile)
	if err != nil {
		logger.Warn().Err(err).Msgf("ignoring unreadable cache %s", cacheFile)
		return nil, nil, false
	}

	if len(cachedValues) != len(overrides) || (len(overrides) > 0 && !reflect.DeepEqual(cachedValues, overrides)) {
		return nil, nil, false
	}

	return registry, options, true
}

func printJobs(w io.Writer, registry *jobsys.Registry, options map[string]jobsys.ScriptOption) {
	fmt.Fprintln(w, "Available jobs:")

	maxNameLen := 0
	names := registry.List()
	for _, name := range names {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range names {
		recipe, err := registry.Resolve(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, lineFmt, name+":", recipe.Desc)
	}

	if len(options) > 0 {
		optionNames := make([]string, 0, len(options))
		for name := range options {
			optionNames = append(optionNames, name)
		}
		sort.Strings(optionNames)

		fmt.Fprintln(w, "\nOptions (pass as key=value):")
		for _, name := range optionNames {
			fmt.Fprintf(w, " * %s (default: %q) %s\n", name, options[name].Default, options[name].Help)
		}
	}
}
