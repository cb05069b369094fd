// Package engine drives a task graph to completion: it skips tasks whose
// outputs already exist, runs the rest on a bounded worker pool, retries
// transient tool failures and contains permanent failures to the downstream
// tasks of the failing one, which never leave its chromosome.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/vk/phasegrid/internal/artifact"
	"github.com/vk/phasegrid/internal/ctxlog"
	"github.com/vk/phasegrid/internal/dag"
	"github.com/vk/phasegrid/internal/faults"
	"github.com/vk/phasegrid/internal/genome"
	"github.com/vk/phasegrid/internal/statestore"
	"github.com/vk/phasegrid/internal/tools"
	"golang.org/x/sync/errgroup"
)

// Executor runs a single task. It must not retry.
type Executor interface {
	Execute(ctx context.Context, task *dag.Task) error
}

// Options tune a run.
type Options struct {
	RunID       string
	Concurrency int
	// Threads is the per-tool thread count. It is only used to warn about
	// oversubscription.
	Threads    int
	MaxRetries int
	RetryDelay time.Duration
	Journal    Journal
	// Valid decides whether an existing artifact counts as done. Defaults to
	// artifact.Valid.
	Valid func(artifact.Artifact) (bool, error)
}

// Engine executes one graph once.
type Engine struct {
	graph   *dag.Graph
	exec    Executor
	opts    Options
	journal Journal

	mu          sync.Mutex
	states      map[string]statestore.State
	attempts    map[string]int
	started     map[string]time.Time
	depCount    map[string]int
	settled     map[string]bool
	invocations int
	canceled    bool

	wg      sync.WaitGroup
	readyCh chan string
}

// New returns an engine for graph. Concurrency below 1 is treated as 1.
func New(graph *dag.Graph, exec Executor, opts Options) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Valid == nil {
		opts.Valid = artifact.Valid
	}
	journal := opts.Journal
	if journal == nil {
		journal = Journals{}
	}
	e := &Engine{
		graph:    graph,
		exec:     exec,
		opts:     opts,
		journal:  journal,
		states:   make(map[string]statestore.State, graph.Len()),
		attempts: make(map[string]int),
		started:  make(map[string]time.Time),
		depCount: make(map[string]int),
		settled:  make(map[string]bool),
	}
	for _, t := range graph.Tasks() {
		e.states[t.ID.Key()] = statestore.Pending
	}
	return e
}

// Run drives the graph until every task is terminal or ctx is cancelled.
// Task failures are reported in the Result, not as an error; the error is
// reserved for graphs that cannot be run at all.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	logger := ctxlog.FromContext(ctx)
	if e.readyCh != nil {
		return nil, errors.New("engine already ran")
	}

	order, err := e.graph.TopoOrder()
	if err != nil {
		return nil, err
	}
	if budget := e.opts.Concurrency * max(e.opts.Threads, 1); budget > runtime.NumCPU() {
		logger.Warn("Concurrency x threads exceeds available cores.",
			"concurrency", e.opts.Concurrency, "threads", e.opts.Threads, "cores", runtime.NumCPU())
	}

	done := e.resume(ctx, order)
	logger.Info("🚀 Starting execution.", "tasks", len(order), "already_complete", len(done), "concurrency", e.opts.Concurrency)

	e.readyCh = make(chan string, len(order))

	e.mu.Lock()
	for _, key := range order {
		if done[key] {
			e.settled[key] = true
			continue
		}
		e.wg.Add(1)
		n := 0
		for _, dep := range e.graph.Deps(key) {
			if !done[dep] {
				n++
			}
		}
		e.depCount[key] = n
	}
	for _, key := range order {
		if !done[key] && e.depCount[key] == 0 {
			e.markReady(ctx, key)
		}
	}
	e.mu.Unlock()

	go func() {
		e.wg.Wait()
		close(e.readyCh)
	}()

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for key := range e.readyCh {
		g.Go(func() error {
			return e.dispatch(ctx, key)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("Executor panicked; the task was marked failed.", "error", err)
	}

	res := e.result()
	logger.Info("🏁 Execution finished.",
		"succeeded", res.Count(statestore.Succeeded),
		"skipped", res.Count(statestore.Skipped),
		"failed", res.Count(statestore.Failed),
		"upstream_failed", res.Count(statestore.UpstreamFailed),
		"invocations", res.Invocations,
		"canceled", res.Canceled,
	)
	return res, nil
}

// resume marks as skipped every task that is already complete: its output is
// valid, or it has consumers and all of them are complete. The second rule
// keeps a rerun after cleanup from redoing work whose only purpose was
// feeding outputs that still exist.
func (e *Engine) resume(ctx context.Context, order []string) map[string]bool {
	logger := ctxlog.FromContext(ctx)
	done := make(map[string]bool)

	for i := len(order) - 1; i >= 0; i-- {
		key := order[i]
		task, _ := e.graph.Task(key)

		ok, err := e.opts.Valid(task.Output)
		if err != nil {
			logger.Warn("Cannot check task output, it will be rerun.", "task", key, "error", err)
			ok = false
		}
		if !ok {
			dependents := e.graph.Dependents(key)
			ok = len(dependents) > 0
			for _, d := range dependents {
				ok = ok && done[d]
			}
		}
		done[key] = ok
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, key := range order {
		if done[key] {
			e.transition(ctx, key, statestore.Skipped, 0, "output already complete")
		}
	}
	return done
}

// dispatch runs one ready task. A panicking executor fails only that task;
// the panic is returned so Run can report it.
func (e *Engine) dispatch(ctx context.Context, key string) (err error) {
	if ctx.Err() != nil {
		e.abandon(ctx, key)
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s: executor panic: %v", key, r)
			e.fail(ctx, key, faults.Wrap(faults.ErrPermanentTool, err, "executor"))
		}
	}()

	task, _ := e.graph.Task(key)
	e.runTask(ctxlog.With(ctx, "task", key), task)
	return nil
}

// runTask executes task with bounded retries of transient failures.
func (e *Engine) runTask(ctx context.Context, task *dag.Task) {
	logger := ctxlog.FromContext(ctx)
	key := task.ID.Key()

	for {
		e.mu.Lock()
		e.attempts[key]++
		e.invocations++
		attempt := e.attempts[key]
		e.started[key] = time.Now().UTC()
		e.transition(ctx, key, statestore.Running, 0, "")
		e.mu.Unlock()

		err := e.exec.Execute(ctx, task)
		switch {
		case err == nil:
			e.succeed(ctx, key)
			return
		case ctx.Err() != nil:
			e.abandon(ctx, key)
			return
		case faults.IsTransient(err) && attempt <= e.opts.MaxRetries:
			logger.Warn("Transient tool failure, retrying.", "attempt", attempt, "delay", e.opts.RetryDelay, "error", err)
			e.mu.Lock()
			e.transition(ctx, key, statestore.Ready, tools.ExitCode(err), err.Error())
			e.mu.Unlock()
			if !sleep(ctx, e.opts.RetryDelay) {
				e.abandon(ctx, key)
				return
			}
		default:
			logger.Error("Task failed.", "attempt", attempt, "error", err)
			e.fail(ctx, key, err)
			return
		}
	}
}

func (e *Engine) succeed(ctx context.Context, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.transition(ctx, key, statestore.Succeeded, 0, "")
	for _, d := range e.graph.Dependents(key) {
		if e.settled[d] {
			continue
		}
		e.depCount[d]--
		if e.depCount[d] == 0 && e.states[d] == statestore.Pending {
			e.markReady(ctx, d)
		}
	}
	e.settle(key)
}

// fail marks key failed and every task downstream of it upstream-failed.
// Downstream tasks share key's chromosome, so other chromosomes keep going.
func (e *Engine) fail(ctx context.Context, key string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.transition(ctx, key, statestore.Failed, tools.ExitCode(err), err.Error())
	e.settle(key)
	for _, d := range e.graph.Downstream(key) {
		if e.settled[d] || e.states[d] != statestore.Pending {
			continue
		}
		e.transition(ctx, d, statestore.UpstreamFailed, 0, fmt.Sprintf("upstream task %s failed", key))
		e.settle(d)
	}
}

// abandon returns a task interrupted by cancellation to pending and releases
// everything waiting on it. Pending tasks are picked up by the next run.
func (e *Engine) abandon(ctx context.Context, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.canceled = true
	if e.states[key] != statestore.Pending {
		e.transition(ctx, key, statestore.Pending, 0, "canceled")
	}
	e.settle(key)
	for _, d := range e.graph.Downstream(key) {
		if !e.settled[d] && e.states[d] == statestore.Pending {
			e.settle(d)
		}
	}
}

// markReady must be called with e.mu held.
func (e *Engine) markReady(ctx context.Context, key string) {
	e.transition(ctx, key, statestore.Ready, 0, "")
	e.readyCh <- key
}

// settle must be called with e.mu held. Each scheduled task settles once.
func (e *Engine) settle(key string) {
	if e.settled[key] {
		return
	}
	e.settled[key] = true
	e.wg.Done()
}

// transition must be called with e.mu held so records of one task are
// journaled in order.
func (e *Engine) transition(ctx context.Context, key string, to statestore.State, exitCode int, cause string) {
	task, _ := e.graph.Task(key)
	from := e.states[key]
	e.states[key] = to
	e.journal.Record(ctx, Transition{
		RunID:     e.opts.RunID,
		Task:      task.ID,
		From:      from,
		To:        to,
		At:        time.Now().UTC(),
		StartedAt: e.started[key],
		Attempt:   e.attempts[key],
		ExitCode:  exitCode,
		Cause:     cause,
	})
}

// State returns the current state of the task stored under key.
func (e *Engine) State(key string) statestore.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[key]
}

// Snapshot counts tasks per state. It is safe to call while Run is active.
func (e *Engine) Snapshot() map[statestore.State]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make(map[statestore.State]int)
	for _, s := range e.states {
		counts[s]++
	}
	return counts
}

func (e *Engine) result() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := &Result{
		States:      make(map[string]statestore.State, len(e.states)),
		Chrom:       make(map[string]genome.Chromosome, len(e.states)),
		Invocations: e.invocations,
		Canceled:    e.canceled,
	}
	for key, s := range e.states {
		res.States[key] = s
		task, _ := e.graph.Task(key)
		res.Chrom[key] = task.ID.Chrom
	}
	return res
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Result is the outcome of a run.
type Result struct {
	States      map[string]statestore.State
	Chrom       map[string]genome.Chromosome
	Invocations int
	Canceled    bool
}

// Count returns how many tasks ended in state s.
func (r *Result) Count(s statestore.State) int {
	n := 0
	for _, st := range r.States {
		if st == s {
			n++
		}
	}
	return n
}

// Complete reports whether every task succeeded or was already complete.
func (r *Result) Complete() bool {
	for _, s := range r.States {
		if s != statestore.Succeeded && s != statestore.Skipped {
			return false
		}
	}
	return true
}

// ChromosomeComplete reports whether every task of chrom succeeded or was
// already complete.
func (r *Result) ChromosomeComplete(chrom genome.Chromosome) bool {
	found := false
	for key, s := range r.States {
		if r.Chrom[key] != chrom {
			continue
		}
		found = true
		if s != statestore.Succeeded && s != statestore.Skipped {
			return false
		}
	}
	return found
}

// Unfinished returns the keys of tasks that did not complete, sorted.
func (r *Result) Unfinished() []string {
	var keys []string
	for key, s := range r.States {
		if s != statestore.Succeeded && s != statestore.Skipped {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}
