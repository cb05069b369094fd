package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/vk/phasegrid/internal/engine"
	"github.com/vk/phasegrid/internal/tools"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx        context.Context
	outW       io.Writer
	logger     *slog.Logger
	config     *Config
	runner     tools.Runner
	httpServer *http.Server

	// engine is published once the task graph is built so /status can read it.
	engine atomic.Pointer[engine.Engine]
}

// NewApp is the constructor for the main application. Tools run as real
// subprocesses; tests swap the runner through SetupAppTest.
func NewApp(outW io.Writer, config *Config) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	logger.Debug("Logger configured successfully.")
	return &App{
		ctx:    context.Background(),
		outW:   outW,
		logger: logger,
		config: config,
		runner: tools.ProcessRunner{},
	}
}

// PartialError reports a run that ended with tasks not completed, either
// because they failed after retries or because the run was interrupted.
type PartialError struct {
	Unfinished []string
	Canceled   bool
}

func (e *PartialError) Error() string {
	reason := "tasks failed"
	if e.Canceled {
		reason = "run interrupted"
	}
	const shown = 5
	keys := e.Unfinished
	suffix := ""
	if len(keys) > shown {
		suffix = fmt.Sprintf(" and %d more", len(keys)-shown)
		keys = keys[:shown]
	}
	return fmt.Sprintf("%s: %d task(s) unfinished: %s%s", reason, len(e.Unfinished), strings.Join(keys, ", "), suffix)
}
