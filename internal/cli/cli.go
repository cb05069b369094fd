package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/phasegrid/internal/app"
	"github.com/vk/phasegrid/internal/genome"
	"github.com/vk/phasegrid/internal/manifest"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFatal   = 1
	ExitPartial = 2
	ExitUsage   = 64
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

// ExitCode maps an error returned by the app to the process exit code.
// Unfinished tasks are partial; anything else stopped the run before or
// instead of scheduling and is fatal.
func ExitCode(err error) int {
	var exitErr *ExitError
	var partial *app.PartialError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.As(err, &partial):
		return ExitPartial
	default:
		return ExitFatal
	}
}

const usageText = `
phasegrid - resumable trio-aware haplotype phasing across chromosomes.

Usage:
  phasegrid [run] -input DIR -output DIR -maps DIR -pedigree FILE [options]
  phasegrid status -output DIR

Exit codes:
  0   every task completed
  1   fatal pre-flight or graph error, nothing ran
  2   one or more tasks failed or the run was interrupted; rerun to resume
  64  invalid command line

Options:
`

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	if len(args) > 0 {
		switch args[0] {
		case string(app.CommandStatus):
			return parseStatus(args[1:], output)
		case string(app.CommandRun):
			args = args[1:]
		}
	}

	flagSet := flag.NewFlagSet("phasegrid", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, usageText)
		flagSet.PrintDefaults()
	}

	inputFlag := flagSet.String("input", "", "Directory of per-sample call sets (*.vcf.gz, *.bcf).")
	outputFlag := flagSet.String("output", "", "Output directory; also holds intermediates and run state.")
	mapsFlag := flagSet.String("maps", "", "Directory of genetic maps.")
	chunksFlag := flagSet.String("chunks", "", "Directory of chunk files. Defaults to -maps.")
	pedigreeFlag := flagSet.String("pedigree", "", "Trio pedigree file (kid father mother).")
	haploidsFlag := flagSet.String("haploids", "", "Haploid (male) sample list used on chromosome X.")
	concurrencyFlag := flagSet.Int("concurrency", 4, "Maximum number of tools running at once.")
	threadsFlag := flagSet.Int("threads", 4, "Threads passed to each tool.")
	chromosomesFlag := flagSet.String("chromosomes", "1-22,X", "Chromosomes to phase, e.g. '1-22,X' or '21'.")
	retriesFlag := flagSet.Int("retries", 1, "Retries of a task after a transient tool failure.")
	configFlag := flagSet.String("config", "", "Pipeline HCL file overriding the built-in defaults.")
	cleanupFlag := flagSet.Bool("cleanup", true, "Remove intermediates of fully phased chromosomes after the run.")
	notifyFlag := flagSet.String("notify-url", "", "socket.io server receiving live task transitions.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if len(args) == 0 {
		slog.Debug("No arguments provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	if flagSet.NArg() > 0 {
		return nil, false, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("unexpected argument %q", flagSet.Arg(0))}
	}

	logFormat, logLevel, err := logSettings(*logFormatFlag, *logLevelFlag)
	if err != nil {
		return nil, false, err
	}

	chromosomes, err := genome.ParseChromosomeSet(*chromosomesFlag)
	if err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: fmt.Sprintf("invalid -chromosomes: %v", err)}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		Command: app.CommandRun,
		Run: manifest.Options{
			InputDir:     *inputFlag,
			OutputDir:    *outputFlag,
			MapDir:       *mapsFlag,
			ChunkDir:     *chunksFlag,
			PedigreePath: *pedigreeFlag,
			HaploidsPath: *haploidsFlag,
			ConfigPath:   *configFlag,
			Chromosomes:  chromosomes,
			Threads:      *threadsFlag,
			Concurrency:  *concurrencyFlag,
			MaxRetries:   *retriesFlag,
			Cleanup:      *cleanupFlag,
			NotifyURL:    *notifyFlag,
		},
		HealthcheckPort: *healthPortFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.")
	return config, false, nil
}

func parseStatus(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("phasegrid status", flag.ContinueOnError)
	flagSet.SetOutput(output)
	outputFlag := flagSet.String("output", "", "Output directory of the run to inspect.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "warn", "Set the logging level.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	logFormat, logLevel, err := logSettings(*logFormatFlag, *logLevelFlag)
	if err != nil {
		return nil, false, err
	}

	config, err := app.NewConfig(app.Config{
		Command:   app.CommandStatus,
		Run:       manifest.Options{OutputDir: *outputFlag},
		LogFormat: logFormat,
		LogLevel:  logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	return config, false, nil
}

func logSettings(format, level string) (string, string, error) {
	format = strings.ToLower(format)
	if format != "text" && format != "json" {
		return "", "", &ExitError{Code: ExitUsage, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	level = strings.ToLower(level)
	switch level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return "", "", &ExitError{Code: ExitUsage, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	return format, level, nil
}
