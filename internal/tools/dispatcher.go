// Package tools adapts the external collaborators (bcftools, the phasers) to
// tasks. An adapter turns a task into typed arguments, evaluates the tool's
// configured command, runs it against a temporary output and either commits
// the output into place or discards it. Adapters never retry and never record
// state.
package tools

import (
	"context"
	"fmt"

	"github.com/vk/phasegrid/internal/artifact"
	"github.com/vk/phasegrid/internal/ctxlog"
	"github.com/vk/phasegrid/internal/dag"
	"github.com/vk/phasegrid/internal/faults"
	"github.com/vk/phasegrid/internal/manifest"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Args is implemented by every typed argument set.
type Args interface {
	Vars() map[string]cty.Value
}

// Dispatcher executes tasks by stage.
type Dispatcher struct {
	m          *manifest.Manifest
	store      *artifact.Store
	runner     Runner
	classifier Classifier
}

// NewDispatcher returns a dispatcher running tools through runner.
func NewDispatcher(m *manifest.Manifest, store *artifact.Store, runner Runner) *Dispatcher {
	return &Dispatcher{
		m:      m,
		store:  store,
		runner: runner,
		classifier: Classifier{
			Patterns:  m.Pipeline.Retry.TransientPatterns,
			ExitCodes: m.Pipeline.Retry.TransientExitCodes,
		},
	}
}

// Execute runs the adapter for task's stage. Failures wrap
// faults.ErrTransientTool or faults.ErrPermanentTool; a cancelled context is
// returned as is.
func (d *Dispatcher) Execute(ctx context.Context, task *dag.Task) error {
	toolName, args, err := d.args(task)
	if err != nil {
		return faults.Wrap(faults.ErrPermanentTool, err, "%s", task.ID.Key())
	}
	return d.invoke(ctx, task, toolName, args)
}

// args maps a task to its tool and typed arguments.
func (d *Dispatcher) args(task *dag.Task) (string, Args, error) {
	chrom := task.ID.Chrom
	haploids := ""
	if chrom.IsX() {
		haploids = d.m.HaploidsPath
	}

	switch task.ID.Stage {
	case dag.StageSplit:
		return manifest.ToolSplit, SplitArgs{
			Sample: task.ID.Sample,
			Input:  task.Inputs[0].Path,
			Contig: chrom.Contig(),
		}, nil

	case dag.StageQC:
		return manifest.ToolQC, QCArgs{
			Inputs:   paths(task.Inputs),
			Region:   task.Region.String(),
			Pedigree: d.m.PedigreePath,
		}, nil

	case dag.StageNonPAR:
		return manifest.ToolNonPAR, NonPARArgs{
			Input:  task.Inputs[0].Path,
			Region: task.Region.String(),
		}, nil

	case dag.StagePhaseCommon:
		mapPath, err := d.m.MapPath(chrom)
		if err != nil {
			return "", nil, err
		}
		return manifest.ToolPhaseCommon, CommonArgs{
			Input:    task.Inputs[0].Path,
			Region:   task.Region.String(),
			Map:      mapPath,
			MAF:      d.m.Pipeline.Phasing.MAF,
			Pedigree: d.m.PedigreePath,
			Haploids: haploids,
		}, nil

	case dag.StageLigate:
		list, err := d.writeList(task, "ligate")
		if err != nil {
			return "", nil, err
		}
		return manifest.ToolLigate, LigateArgs{Inputs: paths(task.Inputs), InputList: list}, nil

	case dag.StagePhaseRare:
		mapPath, err := d.m.MapPath(chrom)
		if err != nil {
			return "", nil, err
		}
		return manifest.ToolPhaseRare, RareArgs{
			Input:          task.Inputs[0].Path,
			Scaffold:       task.Scaffold.Path,
			Region:         task.Region.String(),
			ScaffoldRegion: task.Core.String(),
			Map:            mapPath,
			Haploids:       haploids,
		}, nil

	case dag.StageConcat:
		list, err := d.writeList(task, "concat")
		if err != nil {
			return "", nil, err
		}
		return manifest.ToolConcat, ConcatArgs{Inputs: paths(task.Inputs), InputList: list}, nil
	}
	return "", nil, fmt.Errorf("no adapter for stage %q", task.ID.Stage)
}

// writeList writes the barrier inputs in the task's declared order, which is
// chunk index order, never completion order.
func (d *Dispatcher) writeList(task *dag.Task, name string) (string, error) {
	path := d.store.ListPath(task.ID.Chrom, name)
	if err := artifact.WriteList(path, paths(task.Inputs)); err != nil {
		return "", fmt.Errorf("writing %s input list: %w", name, err)
	}
	return path, nil
}

func (d *Dispatcher) invoke(ctx context.Context, task *dag.Task, toolName string, args Args) error {
	logger := ctxlog.FromContext(ctx).With("task", task.ID.Key(), "tool", toolName)
	out := task.Output

	if err := artifact.Prepare(out); err != nil {
		return faults.Wrap(faults.ErrPermanentTool, err, "preparing %s", out.Path)
	}
	tmp := artifact.TempPath(out)
	logPath := d.store.TaskLogPath(task.ID.Key())

	tool := d.m.Pipeline.Tools[toolName]
	vars := d.vars(task, args)
	vars["output"] = cty.StringVal(tmp)
	if err := d.run(ctx, tool, vars, logPath); err != nil {
		_ = artifact.Discard(tmp)
		return err
	}

	if out.Indexed && !tool.SelfIndexing {
		indexVars := d.vars(task, IndexArgs{Input: tmp})
		if err := d.run(ctx, d.m.Pipeline.Tools[manifest.ToolIndex], indexVars, logPath); err != nil {
			_ = artifact.Discard(tmp)
			return err
		}
	}

	ok, err := artifact.Valid(artifact.Artifact{Path: tmp, Indexed: out.Indexed})
	if err != nil || !ok {
		_ = artifact.Discard(tmp)
		if err == nil {
			err = fmt.Errorf("%s exited 0 but left no complete output", toolName)
		}
		return faults.Wrap(faults.ErrPermanentTool, err, "%s", toolName)
	}
	if err := artifact.Commit(tmp, out); err != nil {
		_ = artifact.Discard(tmp)
		return faults.Wrap(faults.ErrPermanentTool, err, "%s", toolName)
	}
	logger.Debug("Tool output committed.", "output", out.Path)
	return nil
}

// run evaluates tool's command against vars and executes it.
func (d *Dispatcher) run(ctx context.Context, tool *manifest.Tool, vars map[string]cty.Value, logPath string) error {
	argv, err := Command(d.m.Pipeline, tool, vars)
	if err != nil {
		return faults.Wrap(faults.ErrPermanentTool, err, "%s", tool.Name)
	}
	ctxlog.FromContext(ctx).Debug("Running tool.", "tool", tool.Name, "argv", argv)

	res, err := d.runner.Run(ctx, argv, logPath)
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", tool.Name, ctx.Err())
	}
	if err != nil {
		return faults.Wrap(faults.ErrPermanentTool, &ToolError{Tool: tool.Name, ExitCode: res.ExitCode, Tail: res.Tail}, "%s", tool.Name)
	}
	if res.ExitCode != 0 {
		return d.classifier.classify(tool.Name, res)
	}
	return nil
}

func (d *Dispatcher) vars(task *dag.Task, args Args) map[string]cty.Value {
	vars := baseVars()
	vars["threads"] = cty.NumberIntVal(int64(d.m.Threads))
	vars["chrom"] = cty.StringVal(string(task.ID.Chrom))
	vars["contig"] = cty.StringVal(task.ID.Chrom.Contig())
	for k, v := range args.Vars() {
		vars[k] = v
	}
	return vars
}

// Command evaluates tool's command expression to an argv.
func Command(p *manifest.Pipeline, tool *manifest.Tool, vars map[string]cty.Value) ([]string, error) {
	if tool == nil {
		return nil, fmt.Errorf("tool is not defined")
	}
	val, diags := tool.Command.Value(p.EvalContext(vars))
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluating %q command: %w", tool.Name, diags)
	}
	val, err := convert.Convert(val, cty.List(cty.String))
	if err != nil {
		return nil, fmt.Errorf("%q command must be a list of strings: %w", tool.Name, err)
	}
	if val.IsNull() || !val.IsWhollyKnown() {
		return nil, fmt.Errorf("%q command is not fully known", tool.Name)
	}
	var argv []string
	if err := gocty.FromCtyValue(val, &argv); err != nil {
		return nil, fmt.Errorf("%q command: %w", tool.Name, err)
	}
	if len(argv) == 0 || argv[0] == "" {
		return nil, fmt.Errorf("%q command is empty", tool.Name)
	}
	return argv, nil
}

func paths(as []artifact.Artifact) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Path
	}
	return out
}
