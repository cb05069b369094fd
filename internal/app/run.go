package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/phasegrid/internal/artifact"
	"github.com/vk/phasegrid/internal/chunk"
	"github.com/vk/phasegrid/internal/ctxlog"
	"github.com/vk/phasegrid/internal/dag"
	"github.com/vk/phasegrid/internal/engine"
	"github.com/vk/phasegrid/internal/faults"
	"github.com/vk/phasegrid/internal/manifest"
	"github.com/vk/phasegrid/internal/notify"
	"github.com/vk/phasegrid/internal/statestore"
	"github.com/vk/phasegrid/internal/tools"
)

// Run executes the configured command. A nil error means every task is
// complete. Pre-flight and graph errors wrap a fatal faults kind; a run that
// leaves tasks unfinished returns *PartialError.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.ctx = ctx
	a.logger.Debug("App.Run method started.", "command", a.config.Command)

	if a.config.Command == CommandStatus {
		return Status(a.outW, a.config.Run.OutputDir)
	}

	a.healthCheckServer()
	defer a.closeHealthCheckServer()

	m, err := manifest.New(ctx, a.config.Run)
	if err != nil {
		return err
	}

	store := artifact.NewStore(m.OutputDir)
	// No tool can be running yet, so every temporary file is an orphan.
	if n, err := store.SweepTemps(); err != nil {
		a.logger.Warn("Failed to sweep temporary files.", "error", err)
	} else if n > 0 {
		a.logger.Info("Removed orphaned temporary files.", "count", n)
	}

	catalog := chunk.NewCatalog(m.ChunkPath, m.NonPAR)
	graph, err := dag.Build(ctx, m, catalog, store)
	if err != nil {
		return fmt.Errorf("failed to build task graph: %w", err)
	}

	journal, closeJournal, err := a.journal(ctx, m, store)
	if err != nil {
		return err
	}
	defer closeJournal()

	eng := engine.New(graph, tools.NewDispatcher(m, store, a.runner), engine.Options{
		RunID:       m.RunID,
		Concurrency: m.Concurrency,
		Threads:     m.Threads,
		MaxRetries:  m.MaxRetries,
		RetryDelay:  m.RetryDelay,
		Journal:     journal,
	})
	a.engine.Store(eng)

	res, err := eng.Run(ctx)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	if m.Cleanup {
		a.cleanup(ctx, m, store, res)
	}

	if res.Complete() {
		a.logger.Info("✅ All chromosomes phased.", "run_id", m.RunID)
		return nil
	}
	return &PartialError{Unfinished: res.Unfinished(), Canceled: res.Canceled}
}

// journal assembles the transition observers: durable state records, the
// run log, the process log and, when configured, the live notifier.
func (a *App) journal(ctx context.Context, m *manifest.Manifest, store *artifact.Store) (engine.Journal, func(), error) {
	states, err := statestore.New(store.StateDir())
	if err != nil {
		return nil, nil, faults.Wrap(faults.ErrFatalPreflight, err, "state directory")
	}
	runLog, err := engine.OpenRunLog(store.RunLogPath())
	if err != nil {
		return nil, nil, faults.Wrap(faults.ErrFatalPreflight, err, "run log")
	}

	journals := engine.Journals{engine.NewStateJournal(states), runLog, engine.LogJournal{}}
	closers := []func() error{runLog.Close}

	if m.NotifyURL != "" {
		n, err := notify.Dial(ctx, m.NotifyURL, m.Pipeline.Notify.Namespace)
		if err != nil {
			a.logger.Warn("Notifier unavailable, continuing without live updates.", "url", m.NotifyURL, "error", err)
		} else {
			journals = append(journals, n)
			closers = append(closers, n.Close)
		}
	}

	closeAll := func() {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		if err := errors.Join(errs...); err != nil {
			a.logger.Error("Failed to close run journal.", "error", err)
		}
	}
	return journals, closeAll, nil
}

// cleanup removes the intermediates of every chromosome whose tasks are all
// complete. It runs only after the engine is done, so no task can still need
// an intermediate of this run.
func (a *App) cleanup(ctx context.Context, m *manifest.Manifest, store *artifact.Store, res *engine.Result) {
	logger := ctxlog.FromContext(ctx)
	for _, chrom := range m.Chromosomes {
		if !res.ChromosomeComplete(chrom) {
			logger.Info("Keeping intermediates of unfinished chromosome.", "chrom", chrom)
			continue
		}
		if err := store.Cleanup(chrom); err != nil {
			logger.Warn("Failed to remove intermediates.", "chrom", chrom, "error", err)
			continue
		}
		logger.Debug("Intermediates removed.", "chrom", chrom)
	}
}
