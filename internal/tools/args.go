package tools

import (
	"github.com/zclconf/go-cty/cty"
)

// Each collaborator has a typed argument set. Vars exposes it to the tool's
// command expression; output and threads are added by the dispatcher.

// SplitArgs extracts one chromosome from a sample's call set.
type SplitArgs struct {
	Sample string
	Input  string
	Contig string
}

func (a SplitArgs) Vars() map[string]cty.Value {
	return map[string]cty.Value{
		"sample": cty.StringVal(a.Sample),
		"input":  cty.StringVal(a.Input),
		"region": cty.StringVal(a.Contig),
	}
}

// QCArgs merges, normalises, annotates and filters one chunk of all samples.
type QCArgs struct {
	Inputs   []string
	Region   string
	Pedigree string
}

func (a QCArgs) Vars() map[string]cty.Value {
	return map[string]cty.Value{
		"inputs":   stringList(a.Inputs),
		"region":   cty.StringVal(a.Region),
		"pedigree": cty.StringVal(a.Pedigree),
	}
}

// NonPARArgs restricts chromosome X to its non-pseudoautosomal part.
type NonPARArgs struct {
	Input  string
	Region string
}

func (a NonPARArgs) Vars() map[string]cty.Value {
	return map[string]cty.Value{
		"input":  cty.StringVal(a.Input),
		"region": cty.StringVal(a.Region),
	}
}

// CommonArgs phases common variants of one chunk.
type CommonArgs struct {
	Input    string
	Region   string
	Map      string
	MAF      float64
	Pedigree string
	// Haploids is empty unless the chunk is on chromosome X.
	Haploids string
}

func (a CommonArgs) Vars() map[string]cty.Value {
	return map[string]cty.Value{
		"input":    cty.StringVal(a.Input),
		"region":   cty.StringVal(a.Region),
		"map":      cty.StringVal(a.Map),
		"maf":      cty.NumberFloatVal(a.MAF),
		"pedigree": cty.StringVal(a.Pedigree),
		"haploids": cty.StringVal(a.Haploids),
	}
}

// LigateArgs joins phased common chunks. InputList names a file holding
// Inputs one per line in chunk order.
type LigateArgs struct {
	Inputs    []string
	InputList string
}

func (a LigateArgs) Vars() map[string]cty.Value {
	return map[string]cty.Value{
		"inputs":     stringList(a.Inputs),
		"input_list": cty.StringVal(a.InputList),
	}
}

// RareArgs phases rare variants of one chunk on top of the scaffold.
type RareArgs struct {
	Input          string
	Scaffold       string
	Region         string
	ScaffoldRegion string
	Map            string
	Haploids       string
}

func (a RareArgs) Vars() map[string]cty.Value {
	return map[string]cty.Value{
		"input":           cty.StringVal(a.Input),
		"scaffold":        cty.StringVal(a.Scaffold),
		"region":          cty.StringVal(a.Region),
		"scaffold_region": cty.StringVal(a.ScaffoldRegion),
		"map":             cty.StringVal(a.Map),
		"haploids":        cty.StringVal(a.Haploids),
	}
}

// ConcatArgs concatenates phased rare chunks in chunk order.
type ConcatArgs struct {
	Inputs    []string
	InputList string
}

func (a ConcatArgs) Vars() map[string]cty.Value {
	return map[string]cty.Value{
		"inputs":     stringList(a.Inputs),
		"input_list": cty.StringVal(a.InputList),
	}
}

// IndexArgs builds the sidecar index of a freshly written file.
type IndexArgs struct {
	Input string
}

func (a IndexArgs) Vars() map[string]cty.Value {
	return map[string]cty.Value{"input": cty.StringVal(a.Input)}
}

func stringList(items []string) cty.Value {
	if len(items) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(items))
	for i, s := range items {
		vals[i] = cty.StringVal(s)
	}
	return cty.ListVal(vals)
}

// baseVars declares every variable a command may reference so an unused one
// evaluates to an empty value instead of an unknown-variable error.
func baseVars() map[string]cty.Value {
	return map[string]cty.Value{
		"input":           cty.StringVal(""),
		"inputs":          cty.ListValEmpty(cty.String),
		"input_list":      cty.StringVal(""),
		"output":          cty.StringVal(""),
		"region":          cty.StringVal(""),
		"scaffold":        cty.StringVal(""),
		"scaffold_region": cty.StringVal(""),
		"map":             cty.StringVal(""),
		"pedigree":        cty.StringVal(""),
		"haploids":        cty.StringVal(""),
		"threads":         cty.NumberIntVal(1),
		"maf":             cty.NumberFloatVal(0),
		"sample":          cty.StringVal(""),
		"chrom":           cty.StringVal(""),
		"contig":          cty.StringVal(""),
	}
}
