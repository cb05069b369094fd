// Package manifest builds the immutable description of one phasing run. It is
// created once at startup from CLI options and the pipeline file, checked for
// missing inputs and then shared read-only by every component.
package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vk/phasegrid/internal/ctxlog"
	"github.com/vk/phasegrid/internal/faults"
	"github.com/vk/phasegrid/internal/genome"
	"github.com/vk/phasegrid/internal/pedigree"
	"github.com/zclconf/go-cty/cty"
)

// Options are the user-supplied settings a Manifest is built from.
type Options struct {
	InputDir     string
	OutputDir    string
	MapDir       string
	ChunkDir     string
	PedigreePath string
	HaploidsPath string
	ConfigPath   string
	Chromosomes  []genome.Chromosome
	Threads      int
	Concurrency  int
	MaxRetries   int
	Cleanup      bool
	NotifyURL    string
}

// Sample is one input call set.
type Sample struct {
	Name string
	Path string
}

// Manifest is the run-wide configuration. Treat it as read-only.
type Manifest struct {
	RunID        string
	InputDir     string
	OutputDir    string
	MapDir       string
	ChunkDir     string
	PedigreePath string
	HaploidsPath string
	Chromosomes  []genome.Chromosome
	Threads      int
	Concurrency  int
	MaxRetries   int
	RetryDelay   time.Duration
	Cleanup      bool
	NotifyURL    string
	Samples      []Sample
	Pedigree     pedigree.Pedigree
	Pipeline     *Pipeline
	NonPAR       genome.Region
}

// sampleSuffixes lists the input file extensions recognised as samples.
var sampleSuffixes = []string{".vcf.gz", ".bcf"}

// New validates opts, loads the pipeline and checks every required input.
// Any missing input yields an error wrapping faults.ErrFatalPreflight.
func New(ctx context.Context, opts Options) (*Manifest, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Building run manifest.", "input", opts.InputDir, "output", opts.OutputDir)

	if opts.Threads < 1 || opts.Concurrency < 1 {
		return nil, faults.New(faults.ErrFatalPreflight, "threads and concurrency must be positive")
	}
	if opts.MaxRetries < 0 {
		return nil, faults.New(faults.ErrFatalPreflight, "retries must not be negative")
	}
	if len(opts.Chromosomes) == 0 {
		return nil, faults.New(faults.ErrFatalPreflight, "no chromosomes selected")
	}

	pipeline, err := LoadPipeline(opts.ConfigPath)
	if err != nil {
		return nil, faults.Wrap(faults.ErrFatalPreflight, err, "pipeline")
	}
	delay, err := pipeline.RetryDelay()
	if err != nil {
		return nil, faults.Wrap(faults.ErrFatalPreflight, err, "pipeline")
	}

	m := &Manifest{
		RunID:        uuid.NewString(),
		InputDir:     opts.InputDir,
		OutputDir:    opts.OutputDir,
		MapDir:       opts.MapDir,
		ChunkDir:     opts.ChunkDir,
		PedigreePath: opts.PedigreePath,
		HaploidsPath: opts.HaploidsPath,
		Chromosomes:  append([]genome.Chromosome(nil), opts.Chromosomes...),
		Threads:      opts.Threads,
		Concurrency:  opts.Concurrency,
		MaxRetries:   opts.MaxRetries,
		RetryDelay:   delay,
		Cleanup:      opts.Cleanup,
		NotifyURL:    opts.NotifyURL,
		Pipeline:     pipeline,
	}
	if m.ChunkDir == "" {
		m.ChunkDir = m.MapDir
	}
	if m.HaploidsPath == "" {
		m.HaploidsPath = pipeline.ChrX.Haploids
	}
	if m.NotifyURL == "" {
		m.NotifyURL = pipeline.Notify.URL
	}

	if err := m.preflight(ctx); err != nil {
		return nil, err
	}
	logger.Info("Run manifest ready.",
		"run_id", m.RunID,
		"samples", len(m.Samples),
		"chromosomes", len(m.Chromosomes),
		"concurrency", m.Concurrency,
		"threads", m.Threads,
	)
	return m, nil
}

func (m *Manifest) preflight(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	if err := requireDir(m.InputDir, "input directory"); err != nil {
		return err
	}
	if err := requireDir(m.MapDir, "map directory"); err != nil {
		return err
	}
	if err := requireDir(m.ChunkDir, "chunk directory"); err != nil {
		return err
	}
	if m.OutputDir == "" {
		return faults.New(faults.ErrFatalPreflight, "output directory is required")
	}
	if err := os.MkdirAll(m.OutputDir, 0o755); err != nil {
		return faults.Wrap(faults.ErrFatalPreflight, err, "output directory")
	}

	samples, err := discoverSamples(m.InputDir)
	if err != nil {
		return err
	}
	m.Samples = samples

	if m.PedigreePath == "" {
		return faults.New(faults.ErrFatalPreflight, "pedigree file is required")
	}
	ped, err := pedigree.Load(m.PedigreePath, m.SampleNames())
	if err != nil {
		return err
	}
	m.Pedigree = ped

	hasX := false
	for _, chrom := range m.Chromosomes {
		hasX = hasX || chrom.IsX()
		mapPath, err := m.MapPath(chrom)
		if err != nil {
			return err
		}
		if err := requireFile(mapPath, "genetic map for "+chrom.String()); err != nil {
			return err
		}
		if chrom.IsX() {
			continue
		}
		chunkPath, err := m.ChunkPath(chrom)
		if err != nil {
			return err
		}
		if err := requireFile(chunkPath, "chunk file for "+chrom.String()); err != nil {
			return err
		}
	}

	if hasX {
		region, err := genome.ParseRegion(m.Pipeline.ChrX.NonPARRegion)
		if err != nil {
			return faults.Wrap(faults.ErrFatalPreflight, err, "chrx non_par_region")
		}
		m.NonPAR = region
		if m.HaploidsPath == "" {
			logger.Warn("Chromosome X selected without a haploid list; all samples are phased as diploid.")
		}
	}
	if m.HaploidsPath != "" {
		if err := requireFile(m.HaploidsPath, "haploid list"); err != nil {
			return err
		}
	}
	return nil
}

// MapPath returns the genetic map for chrom.
func (m *Manifest) MapPath(chrom genome.Chromosome) (string, error) {
	path, err := m.Pipeline.EvalString(m.Pipeline.Phasing.GeneticMap, m.pathVars(chrom))
	if err != nil {
		return "", faults.Wrap(faults.ErrFatalPreflight, err, "genetic_map template")
	}
	return path, nil
}

// ChunkPath returns the chunk definition file for chrom. It satisfies
// chunk.PathFunc.
func (m *Manifest) ChunkPath(chrom genome.Chromosome) (string, error) {
	path, err := m.Pipeline.EvalString(m.Pipeline.Phasing.ChunkFile, m.pathVars(chrom))
	if err != nil {
		return "", faults.Wrap(faults.ErrFatalPreflight, err, "chunk_file template")
	}
	return path, nil
}

func (m *Manifest) pathVars(chrom genome.Chromosome) map[string]cty.Value {
	return map[string]cty.Value{
		"maps":   cty.StringVal(m.MapDir),
		"chunks": cty.StringVal(m.ChunkDir),
		"chrom":  cty.StringVal(string(chrom)),
		"contig": cty.StringVal(chrom.Contig()),
	}
}

// SampleNames returns the sample names in input order.
func (m *Manifest) SampleNames() []string {
	names := make([]string, len(m.Samples))
	for i, s := range m.Samples {
		names[i] = s.Name
	}
	return names
}

func discoverSamples(dir string) ([]Sample, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, faults.Wrap(faults.ErrFatalPreflight, err, "input directory")
	}
	var samples []Sample
	seen := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := sampleName(e.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[name]; dup {
			return nil, faults.New(faults.ErrFatalPreflight, "sample %s provided twice (%s, %s)", name, prev, e.Name())
		}
		seen[name] = e.Name()
		samples = append(samples, Sample{Name: name, Path: filepath.Join(dir, e.Name())})
	}
	if len(samples) == 0 {
		return nil, faults.New(faults.ErrFatalPreflight, "no *.vcf.gz or *.bcf samples in %s", dir)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples, nil
}

func sampleName(file string) (string, bool) {
	for _, suffix := range sampleSuffixes {
		if name, ok := strings.CutSuffix(file, suffix); ok && name != "" {
			return name, true
		}
	}
	return "", false
}

func requireDir(path, what string) error {
	if path == "" {
		return faults.New(faults.ErrFatalPreflight, "%s is required", what)
	}
	info, err := os.Stat(path)
	if err != nil {
		return faults.Wrap(faults.ErrFatalPreflight, err, what)
	}
	if !info.IsDir() {
		return faults.New(faults.ErrFatalPreflight, "%s %s is not a directory", what, path)
	}
	return nil
}

func requireFile(path, what string) error {
	info, err := os.Stat(path)
	if err != nil {
		return faults.Wrap(faults.ErrFatalPreflight, err, what)
	}
	if info.IsDir() {
		return faults.New(faults.ErrFatalPreflight, "%s %s is a directory", what, path)
	}
	return nil
}

// String summarises the manifest for logs.
func (m *Manifest) String() string {
	return fmt.Sprintf("run %s: %d samples, %d chromosomes, %d x %d threads",
		m.RunID, len(m.Samples), len(m.Chromosomes), m.Concurrency, m.Threads)
}
