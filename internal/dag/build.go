package dag

import (
	"context"
	"fmt"

	"github.com/vk/phasegrid/internal/artifact"
	"github.com/vk/phasegrid/internal/chunk"
	"github.com/vk/phasegrid/internal/ctxlog"
	"github.com/vk/phasegrid/internal/genome"
	"github.com/vk/phasegrid/internal/manifest"
)

// ChunkSource yields the ordered chunks of a chromosome.
type ChunkSource interface {
	Load(chrom genome.Chromosome) ([]chunk.Chunk, error)
}

// Build constructs the task graph for every chromosome of m. Autosomes get
// the chunked pipeline:
//
//	split(sample)... -> qc(chunk) -> phase-common(chunk) -> ligate
//	ligate + qc(chunk) -> phase-rare(chunk) -> concat
//
// and X gets split -> qc -> chrX-nonpar -> phase-common -> ligate -> phase-rare,
// with phase-rare writing the final artifact.
func Build(ctx context.Context, m *manifest.Manifest, chunks ChunkSource, store *artifact.Store) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Building task graph.", "chromosomes", len(m.Chromosomes), "samples", len(m.Samples))

	b := &builder{graph: New(), m: m, store: store}
	for _, chrom := range m.Chromosomes {
		var err error
		if chrom.IsX() {
			err = b.addChromosomeX(chunks)
		} else {
			err = b.addAutosome(chrom, chunks)
		}
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", chrom, err)
		}
	}

	if err := b.graph.DetectCycles(); err != nil {
		return nil, err
	}
	logger.Info("Task graph built.", "tasks", b.graph.Len())
	return b.graph, nil
}

type builder struct {
	graph *Graph
	m     *manifest.Manifest
	store *artifact.Store
}

func (b *builder) add(t *Task, deps ...*Task) error {
	if err := b.graph.AddTask(t); err != nil {
		return err
	}
	for _, d := range deps {
		if err := b.graph.AddEdge(d.ID.Key(), t.ID.Key()); err != nil {
			return err
		}
	}
	return nil
}

// addSplits adds one split task per sample and returns them in sample order.
func (b *builder) addSplits(chrom genome.Chromosome) ([]*Task, error) {
	splits := make([]*Task, 0, len(b.m.Samples))
	for _, s := range b.m.Samples {
		t := &Task{
			ID:     TaskID{Chrom: chrom, Sample: s.Name, Chunk: NoChunk, Stage: StageSplit},
			Inputs: []artifact.Artifact{{Path: s.Path}},
			Output: b.store.Split(s.Name, chrom),
			Region: genome.WholeContig(chrom.Contig()),
		}
		if err := b.add(t); err != nil {
			return nil, err
		}
		splits = append(splits, t)
	}
	return splits, nil
}

func outputs(tasks []*Task) []artifact.Artifact {
	out := make([]artifact.Artifact, len(tasks))
	for i, t := range tasks {
		out[i] = t.Output
	}
	return out
}

func (b *builder) addAutosome(chrom genome.Chromosome, source ChunkSource) error {
	chunks, err := source.Load(chrom)
	if err != nil {
		return err
	}
	splits, err := b.addSplits(chrom)
	if err != nil {
		return err
	}

	qcs := make([]*Task, len(chunks))
	commons := make([]*Task, len(chunks))
	for i, c := range chunks {
		qcs[i] = &Task{
			ID:     TaskID{Chrom: chrom, Chunk: c.Index, Stage: StageQC},
			Inputs: outputs(splits),
			Output: b.store.QC(chrom, c.ID()),
			Region: c.Buffer,
			Core:   c.Core,
		}
		if err := b.add(qcs[i], splits...); err != nil {
			return err
		}

		commons[i] = &Task{
			ID:     TaskID{Chrom: chrom, Chunk: c.Index, Stage: StagePhaseCommon},
			Inputs: []artifact.Artifact{qcs[i].Output},
			Output: b.store.Common(chrom, c.ID()),
			Region: c.Buffer,
			Core:   c.Core,
		}
		if err := b.add(commons[i], qcs[i]); err != nil {
			return err
		}
	}

	ligate := &Task{
		ID:     TaskID{Chrom: chrom, Chunk: NoChunk, Stage: StageLigate},
		Inputs: outputs(commons),
		Output: b.store.Ligated(chrom),
		Region: genome.WholeContig(chrom.Contig()),
	}
	if err := b.add(ligate, commons...); err != nil {
		return err
	}

	rares := make([]*Task, len(chunks))
	for i, c := range chunks {
		rares[i] = &Task{
			ID:       TaskID{Chrom: chrom, Chunk: c.Index, Stage: StagePhaseRare},
			Inputs:   []artifact.Artifact{qcs[i].Output},
			Output:   b.store.Rare(chrom, c.ID()),
			Scaffold: ligate.Output,
			Region:   c.Buffer,
			Core:     c.Core,
		}
		if err := b.add(rares[i], ligate, qcs[i]); err != nil {
			return err
		}
	}

	concat := &Task{
		ID:     TaskID{Chrom: chrom, Chunk: NoChunk, Stage: StageConcat},
		Inputs: outputs(rares),
		Output: b.store.Final(chrom),
		Region: genome.WholeContig(chrom.Contig()),
	}
	return b.add(concat, rares...)
}

func (b *builder) addChromosomeX(source ChunkSource) error {
	chrom := genome.X
	chunks, err := source.Load(chrom)
	if err != nil {
		return err
	}
	if len(chunks) != 1 {
		return fmt.Errorf("chromosome X is phased as one region, got %d chunks", len(chunks))
	}
	nonPAR := chunks[0].Core

	splits, err := b.addSplits(chrom)
	if err != nil {
		return err
	}

	qc := &Task{
		ID:     TaskID{Chrom: chrom, Chunk: NoChunk, Stage: StageQC},
		Inputs: outputs(splits),
		Output: b.store.QC(chrom, ""),
		Region: genome.WholeContig(chrom.Contig()),
	}
	if err := b.add(qc, splits...); err != nil {
		return err
	}

	extract := &Task{
		ID:     TaskID{Chrom: chrom, Chunk: NoChunk, Stage: StageNonPAR},
		Inputs: []artifact.Artifact{qc.Output},
		Output: b.store.NonPAR(chrom),
		Region: nonPAR,
		Core:   nonPAR,
	}
	if err := b.add(extract, qc); err != nil {
		return err
	}

	common := &Task{
		ID:     TaskID{Chrom: chrom, Chunk: NoChunk, Stage: StagePhaseCommon},
		Inputs: []artifact.Artifact{extract.Output},
		Output: b.store.Common(chrom, ""),
		Region: nonPAR,
		Core:   nonPAR,
	}
	if err := b.add(common, extract); err != nil {
		return err
	}

	ligate := &Task{
		ID:     TaskID{Chrom: chrom, Chunk: NoChunk, Stage: StageLigate},
		Inputs: []artifact.Artifact{common.Output},
		Output: b.store.Ligated(chrom),
		Region: nonPAR,
	}
	if err := b.add(ligate, common); err != nil {
		return err
	}

	rare := &Task{
		ID:       TaskID{Chrom: chrom, Chunk: NoChunk, Stage: StagePhaseRare},
		Inputs:   []artifact.Artifact{extract.Output},
		Output:   b.store.Final(chrom),
		Scaffold: ligate.Output,
		Region:   nonPAR,
		Core:     nonPAR,
	}
	return b.add(rare, ligate, extract)
}
