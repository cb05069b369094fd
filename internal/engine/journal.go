package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/vk/phasegrid/internal/ctxlog"
	"github.com/vk/phasegrid/internal/dag"
	"github.com/vk/phasegrid/internal/statestore"
)

// Transition is one task state change.
type Transition struct {
	RunID     string
	Task      dag.TaskID
	From      statestore.State
	To        statestore.State
	At        time.Time
	StartedAt time.Time
	// Attempt counts tool invocations of the task in this run, starting at 1.
	Attempt  int
	ExitCode int
	Cause    string
}

// Journal observes transitions. Implementations must be safe for concurrent
// use; the engine calls Record from its workers.
type Journal interface {
	Record(ctx context.Context, t Transition)
}

// Journals fans a transition out to several journals in order.
type Journals []Journal

func (js Journals) Record(ctx context.Context, t Transition) {
	for _, j := range js {
		j.Record(ctx, t)
	}
}

// StateJournal persists every transition to the durable state store.
type StateJournal struct {
	store *statestore.Store
}

// NewStateJournal returns a journal writing to store.
func NewStateJournal(store *statestore.Store) *StateJournal {
	return &StateJournal{store: store}
}

func (j *StateJournal) Record(ctx context.Context, t Transition) {
	rec := statestore.Record{
		RunID:     t.RunID,
		Task:      t.Task.Key(),
		Chrom:     string(t.Task.Chrom),
		Sample:    t.Task.Sample,
		Chunk:     t.Task.ChunkID(),
		Stage:     string(t.Task.Stage),
		State:     t.To,
		StartedAt: t.StartedAt,
		ExitCode:  t.ExitCode,
		Retries:   max(t.Attempt-1, 0),
		Cause:     t.Cause,
	}
	if t.To.Terminal() {
		rec.EndedAt = t.At
	}
	if err := j.store.Put(rec); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to persist task state.", "task", rec.Task, "error", err)
	}
}

// RunLog writes one JSON line per transition.
type RunLog struct {
	file   *os.File
	logger *slog.Logger
}

// OpenRunLog appends to the run log at path.
func OpenRunLog(path string) (*RunLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	return &RunLog{file: f, logger: slog.New(slog.NewJSONHandler(f, nil))}, nil
}

func (l *RunLog) Record(ctx context.Context, t Transition) {
	attrs := []slog.Attr{
		slog.String("run_id", t.RunID),
		slog.String("task", t.Task.Key()),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
		slog.Int("attempt", t.Attempt),
	}
	if t.ExitCode != 0 {
		attrs = append(attrs, slog.Int("exit_code", t.ExitCode))
	}
	if t.Cause != "" {
		attrs = append(attrs, slog.String("cause", t.Cause))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "transition", attrs...)
}

// Close flushes and closes the log file.
func (l *RunLog) Close() error {
	return errors.Join(l.file.Sync(), l.file.Close())
}

// LogJournal mirrors transitions to the process logger at debug level, and
// failures at warn.
type LogJournal struct{}

func (LogJournal) Record(ctx context.Context, t Transition) {
	logger := ctxlog.FromContext(ctx)
	level := slog.LevelDebug
	if t.To == statestore.Failed || t.To == statestore.UpstreamFailed {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "Task transition.",
		"task", t.Task.Key(), "from", t.From, "to", t.To, "attempt", t.Attempt, "cause", t.Cause)
}
