package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/pipegrid/internal/app"
	"github.com/vk/pipegrid/internal/config"
	"github.com/vk/pipegrid/internal/engine"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// versionList collects repeated -version flags. Each value may itself be a
// comma separated list.
type versionList []string

func (v *versionList) String() string {
	return strings.Join(*v, ",")
}

func (v *versionList) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("empty version in '%s'", s)
		}
		*v = append(*v, part)
	}
	return nil
}

// Parse processes command-line arguments on top of the environment
// configuration. It returns a populated Config, a boolean indicating if the
// program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer, env *config.Env) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("pipegrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
pipegrid - A declarative, cache-aware pipeline runner for versioned data files.

Usage:
  pipegrid [options] [PIPELINE]

Arguments:
  PIPELINE
    Entry module: a local .hcl or .hcl.json file, a remote identifier
    (github://owner/repo?ref=main&path=pipelines/main.hcl) or an http(s) URL.

Options:
`)
		flagSet.PrintDefaults()
	}

	var versions versionList
	pipelineFlag := flagSet.String("pipeline", "", "Entry module of the pipeline definitions.")
	pFlag := flagSet.String("p", "", "Entry module of the pipeline definitions (shorthand).")
	rootFlag := flagSet.String("root", ".", "Directory local modules are confined to.")
	flagSet.Var(&versions, "version", "Version to run. Repeatable; defaults to every declared version.")
	concurrencyFlag := flagSet.Int("concurrency", 0, "Maximum number of units running at once. 0 uses GOMAXPROCS.")
	batchFlag := flagSet.Int("version-batch", engine.DefaultVersionBatchSize, "Maximum number of versions executing at once.")
	timeoutFlag := flagSet.Duration("timeout", engine.DefaultOperationTimeout, "Timeout of every source and cache operation.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check, metrics and events server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	planFlag := flagSet.Bool("plan", false, "Print the execution order of every version and exit.")
	showFlag := flagSet.String("show", "", "Print the declaration of the named pipeline and exit.")

	var cacheDefault, eventsDefault string
	if env != nil {
		cacheDefault, eventsDefault = env.Cache, env.EventsFile
	}
	cacheFlag := flagSet.String("cache", cacheDefault, "Route cache backend: none, memory, fs, s3 or postgres. Overrides PIPEGRID_CACHE.")
	eventsFlag := flagSet.String("events-file", eventsDefault, "Write the execution event stream as JSON lines. Overrides PIPEGRID_EVENTS_FILE.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *pipelineFlag != "" {
		path = *pipelineFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Pipeline path determined.", "path", path)

	if path == "" {
		slog.Debug("No pipeline path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	if flagSet.NArg() > 1 || (flagSet.NArg() == 1 && path != flagSet.Arg(0)) {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	if env != nil {
		overridden := *env
		overridden.Cache = strings.ToLower(*cacheFlag)
		overridden.EventsFile = *eventsFlag
		env = &overridden
	}
	slog.Debug("CLI parameter validation complete.")

	cfg, err := app.NewConfig(app.Config{
		Pipeline:         path,
		Root:             *rootFlag,
		Versions:         versions,
		Concurrency:      *concurrencyFlag,
		VersionBatchSize: *batchFlag,
		OperationTimeout: *timeoutFlag,
		LogFormat:        logFormat,
		LogLevel:         logLevel,
		HealthcheckPort:  *healthPortFlag,
		Plan:             *planFlag,
		Show:             *showFlag,
		Env:              env,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "pipeline", cfg.Pipeline)
	return cfg, false, nil
}
