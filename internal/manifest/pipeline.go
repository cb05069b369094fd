package manifest

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"github.com/zclconf/go-cty/cty/gocty"
)

//go:embed default.hcl
var defaultPipeline []byte

// Tool names every pipeline must define.
const (
	ToolSplit       = "split"
	ToolQC          = "qc"
	ToolNonPAR      = "nonpar"
	ToolPhaseCommon = "phase_common"
	ToolLigate      = "ligate"
	ToolPhaseRare   = "phase_rare"
	ToolConcat      = "concat"
	ToolIndex       = "index"
)

var requiredTools = []string{
	ToolSplit, ToolQC, ToolNonPAR, ToolPhaseCommon, ToolLigate, ToolPhaseRare, ToolConcat, ToolIndex,
}

// Phasing holds the parameters passed through to the phasing tools and the
// path templates for per-chromosome resources.
type Phasing struct {
	MAF        float64        `hcl:"maf,optional"`
	GeneticMap hcl.Expression `hcl:"genetic_map,optional"`
	ChunkFile  hcl.Expression `hcl:"chunk_file,optional"`
}

// ChrX configures the chromosome X subgraph.
type ChrX struct {
	NonPARRegion string `hcl:"non_par_region,optional"`
	Haploids     string `hcl:"haploids,optional"`
}

// Retry configures transient failure classification.
type Retry struct {
	Delay              string   `hcl:"delay,optional"`
	TransientPatterns  []string `hcl:"transient_patterns,optional"`
	TransientExitCodes []int    `hcl:"transient_exit_codes,optional"`
}

// Notify configures the optional live transition feed.
type Notify struct {
	URL       string `hcl:"url,optional"`
	Namespace string `hcl:"namespace,optional"`
}

// Tool is one external collaborator. Command is evaluated per task against
// the task's variables and must yield a list of strings.
type Tool struct {
	Name    string         `hcl:"name,label"`
	Command hcl.Expression `hcl:"command"`
	// SelfIndexing tools write their own index; otherwise the index tool runs
	// after them.
	SelfIndexing bool `hcl:"self_indexing,optional"`
}

// Pipeline is the decoded pipeline file: tool commands plus the parameters
// they are evaluated with.
type Pipeline struct {
	Binaries map[string]string
	Phasing  Phasing
	ChrX     ChrX
	Retry    Retry
	Notify   Notify
	Tools    map[string]*Tool
}

var pipelineSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "binaries"},
		{Type: "phasing"},
		{Type: "chrx"},
		{Type: "retry"},
		{Type: "notify"},
		{Type: "tool", LabelNames: []string{"name"}},
	},
}

// functions are available to every expression in a pipeline file.
var functions = map[string]function.Function{
	"concat":  stdlib.ConcatFunc,
	"format":  stdlib.FormatFunc,
	"join":    stdlib.JoinFunc,
	"length":  stdlib.LengthFunc,
	"lower":   stdlib.LowerFunc,
	"replace": stdlib.ReplaceFunc,
	"upper":   stdlib.UpperFunc,
}

// LoadPipeline decodes the built-in pipeline and overlays the file at path,
// if any. Blocks in the override replace attributes one by one; tool blocks
// replace whole tools.
func LoadPipeline(path string) (*Pipeline, error) {
	p := &Pipeline{
		Binaries: make(map[string]string),
		Tools:    make(map[string]*Tool),
	}
	parser := hclparse.NewParser()

	file, diags := parser.ParseHCL(defaultPipeline, "default.hcl")
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse built-in pipeline: %w", diags)
	}
	if diags := p.merge(file.Body); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode built-in pipeline: %w", diags)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("pipeline file: %w", err)
		}
		file, diags := parser.ParseHCLFile(path)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
		}
		if diags := p.merge(file.Body); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
		}
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) merge(body hcl.Body) hcl.Diagnostics {
	content, diags := body.Content(pipelineSchema)
	if diags.HasErrors() {
		return diags
	}

	for _, name := range []string{"binaries", "phasing", "chrx", "retry", "notify"} {
		block, d := findUniqueBlock(content.Blocks, name)
		diags = append(diags, d...)
		if block == nil {
			continue
		}
		switch name {
		case "binaries":
			diags = append(diags, p.mergeBinaries(block.Body)...)
		case "phasing":
			prev := p.Phasing
			diags = append(diags, gohcl.DecodeBody(block.Body, nil, &p.Phasing)...)
			keepExpr(&p.Phasing.GeneticMap, prev.GeneticMap)
			keepExpr(&p.Phasing.ChunkFile, prev.ChunkFile)
		case "chrx":
			diags = append(diags, gohcl.DecodeBody(block.Body, nil, &p.ChrX)...)
		case "retry":
			diags = append(diags, gohcl.DecodeBody(block.Body, nil, &p.Retry)...)
		case "notify":
			diags = append(diags, gohcl.DecodeBody(block.Body, nil, &p.Notify)...)
		}
	}

	for _, block := range content.Blocks {
		if block.Type != "tool" {
			continue
		}
		tool := &Tool{Name: block.Labels[0]}
		diags = append(diags, gohcl.DecodeBody(block.Body, nil, tool)...)
		p.Tools[tool.Name] = tool
	}
	return diags
}

func (p *Pipeline) mergeBinaries(body hcl.Body) hcl.Diagnostics {
	attrs, diags := body.JustAttributes()
	for name, attr := range attrs {
		var bin string
		diags = append(diags, gohcl.DecodeExpression(attr.Expr, nil, &bin)...)
		p.Binaries[name] = bin
	}
	return diags
}

func (p *Pipeline) validate() error {
	for _, name := range requiredTools {
		if _, ok := p.Tools[name]; !ok {
			return fmt.Errorf("pipeline defines no %q tool", name)
		}
	}
	if !exprDefined(p.Phasing.GeneticMap) {
		return fmt.Errorf("pipeline phasing block has no genetic_map")
	}
	if !exprDefined(p.Phasing.ChunkFile) {
		return fmt.Errorf("pipeline phasing block has no chunk_file")
	}
	if _, err := p.RetryDelay(); err != nil {
		return err
	}
	return nil
}

// RetryDelay parses the configured pause between attempts.
func (p *Pipeline) RetryDelay() (time.Duration, error) {
	if p.Retry.Delay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(p.Retry.Delay)
	if err != nil {
		return 0, fmt.Errorf("invalid retry delay %q: %w", p.Retry.Delay, err)
	}
	return d, nil
}

// EvalContext returns an evaluation context exposing vars, the configured
// binaries as "bin" and the template functions.
func (p *Pipeline) EvalContext(vars map[string]cty.Value) *hcl.EvalContext {
	all := make(map[string]cty.Value, len(vars)+1)
	for k, v := range vars {
		all[k] = v
	}
	all["bin"] = p.binValue()
	return &hcl.EvalContext{Variables: all, Functions: functions}
}

func (p *Pipeline) binValue() cty.Value {
	if len(p.Binaries) == 0 {
		return cty.EmptyObjectVal
	}
	names := make([]string, 0, len(p.Binaries))
	for name := range p.Binaries {
		names = append(names, name)
	}
	sort.Strings(names)
	attrs := make(map[string]cty.Value, len(names))
	for _, name := range names {
		attrs[name] = cty.StringVal(p.Binaries[name])
	}
	return cty.ObjectVal(attrs)
}

// EvalString evaluates a path template to a string.
func (p *Pipeline) EvalString(expr hcl.Expression, vars map[string]cty.Value) (string, error) {
	val, diags := expr.Value(p.EvalContext(vars))
	if diags.HasErrors() {
		return "", diags
	}
	var s string
	if err := gocty.FromCtyValue(val, &s); err != nil {
		return "", fmt.Errorf("%s: %w", expr.Range(), err)
	}
	return s, nil
}

// findUniqueBlock returns the only block of type name, reporting duplicates.
func findUniqueBlock(blocks hcl.Blocks, name string) (*hcl.Block, hcl.Diagnostics) {
	var found *hcl.Block
	var diags hcl.Diagnostics
	for _, block := range blocks {
		if block.Type != name {
			continue
		}
		if found != nil {
			diags = append(diags, &hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate \"" + name + "\" block",
				Detail:   "Only one \"" + name + "\" block is allowed.",
				Subject:  &block.DefRange,
			})
		}
		found = block
	}
	return found, diags
}

// exprDefined reports whether expr was written in a file. gohcl fills omitted
// optional expressions with a zero-width null placeholder.
func exprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	return r.End.Byte > r.Start.Byte
}

func keepExpr(dst *hcl.Expression, prev hcl.Expression) {
	if !exprDefined(*dst) && prev != nil {
		*dst = prev
	}
}
