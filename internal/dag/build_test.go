package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/phasegrid/internal/artifact"
	"github.com/vk/phasegrid/internal/chunk"
	"github.com/vk/phasegrid/internal/faults"
	"github.com/vk/phasegrid/internal/genome"
	"github.com/vk/phasegrid/internal/manifest"
)

// fakeChunks returns n contiguous 1Mb chunks for each autosome and the
// non-PAR region for X.
type fakeChunks struct {
	n   map[genome.Chromosome]int
	err error
}

func (f fakeChunks) Load(chrom genome.Chromosome) ([]chunk.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	if chrom.IsX() {
		r := genome.Region{Contig: "chrX", Start: 2781480, End: 155701382}
		return []chunk.Chunk{{Chrom: chrom, Core: r, Buffer: r}}, nil
	}
	var out []chunk.Chunk
	for i := 0; i < f.n[chrom]; i++ {
		core := genome.Region{Contig: chrom.Contig(), Start: int64(i)*1_000_000 + 1, End: int64(i+1) * 1_000_000}
		buf := core
		if i > 0 {
			buf.Start -= 100_000
		}
		out = append(out, chunk.Chunk{Chrom: chrom, Index: i, Core: core, Buffer: buf})
	}
	return out, nil
}

func testManifest(chroms ...genome.Chromosome) *manifest.Manifest {
	return &manifest.Manifest{
		Chromosomes: chroms,
		Samples: []manifest.Sample{
			{Name: "S1", Path: "/in/S1.vcf.gz"},
			{Name: "S2", Path: "/in/S2.vcf.gz"},
		},
	}
}

func countStages(g *Graph) map[Stage]int {
	counts := make(map[Stage]int)
	for _, task := range g.Tasks() {
		counts[task.ID.Stage]++
	}
	return counts
}

func TestBuild_Autosome(t *testing.T) {
	store := artifact.NewStore("/out")
	g, err := Build(context.Background(), testManifest("21"), fakeChunks{n: map[genome.Chromosome]int{"21": 2}}, store)
	require.NoError(t, err)

	assert.Equal(t, 10, g.Len())
	assert.Equal(t, map[Stage]int{
		StageSplit: 2, StageQC: 2, StagePhaseCommon: 2, StageLigate: 1, StagePhaseRare: 2, StageConcat: 1,
	}, countStages(g))

	concat, ok := g.Task("chr21.concat")
	require.True(t, ok)
	assert.Equal(t, store.Final("21"), concat.Output)
	assert.Equal(t, []string{"chr21.chunk000.phase-rare", "chr21.chunk001.phase-rare"}, g.Deps("chr21.concat"))
	assert.Equal(t, []artifact.Artifact{store.Rare("21", "chunk000"), store.Rare("21", "chunk001")}, concat.Inputs)

	ligate, _ := g.Task("chr21.ligate")
	assert.Equal(t, []string{"chr21.chunk000.phase-common", "chr21.chunk001.phase-common"}, g.Deps("chr21.ligate"))
	assert.Equal(t, []artifact.Artifact{store.Common("21", "chunk000"), store.Common("21", "chunk001")}, ligate.Inputs)

	assert.Equal(t, []string{"chr21.chunk001.qc", "chr21.ligate"}, g.Deps("chr21.chunk001.phase-rare"))
	rare, _ := g.Task("chr21.chunk001.phase-rare")
	assert.Equal(t, store.Ligated("21"), rare.Scaffold)
	assert.Equal(t, int64(900_001), rare.Region.Start, "buffered window")
	assert.Equal(t, int64(1_000_001), rare.Core.Start)

	qc, _ := g.Task("chr21.chunk000.qc")
	assert.Equal(t, []string{"chr21.S1.split", "chr21.S2.split"}, g.Deps("chr21.chunk000.qc"))
	assert.Equal(t, []artifact.Artifact{store.Split("S1", "21"), store.Split("S2", "21")}, qc.Inputs)

	split, _ := g.Task("chr21.S1.split")
	assert.Equal(t, "/in/S1.vcf.gz", split.Inputs[0].Path)

	order, err := g.TopoOrder()
	require.NoError(t, err)
	assert.Equal(t, "chr21.concat", order[len(order)-1])
}

func TestBuild_ChromosomeX(t *testing.T) {
	store := artifact.NewStore("/out")
	g, err := Build(context.Background(), testManifest(genome.X), fakeChunks{}, store)
	require.NoError(t, err)

	assert.Equal(t, map[Stage]int{
		StageSplit: 2, StageQC: 1, StageNonPAR: 1, StagePhaseCommon: 1, StageLigate: 1, StagePhaseRare: 1,
	}, countStages(g))

	assert.Equal(t, []string{"chrX.chrX-nonpar"}, g.Deps("chrX.phase-common"))
	assert.Equal(t, []string{"chrX.qc"}, g.Deps("chrX.chrX-nonpar"))
	assert.Equal(t, []string{"chrX.chrX-nonpar", "chrX.ligate"}, g.Deps("chrX.phase-rare"))

	order, err := g.TopoOrder()
	require.NoError(t, err)
	pos := make(map[string]int)
	for i, k := range order {
		pos[k] = i
	}
	assert.Less(t, pos["chrX.chrX-nonpar"], pos["chrX.phase-common"])

	rare, _ := g.Task("chrX.phase-rare")
	assert.Equal(t, store.Final(genome.X), rare.Output)
	assert.True(t, rare.Output.Final)
	assert.Equal(t, "chrX:2781480-155701382", rare.Region.String())
}

func TestBuild_ChromosomesAreIndependentSubgraphs(t *testing.T) {
	g, err := Build(context.Background(), testManifest("7", "8"),
		fakeChunks{n: map[genome.Chromosome]int{"7": 3, "8": 1}}, artifact.NewStore("/out"))
	require.NoError(t, err)

	assert.Equal(t, []genome.Chromosome{"7", "8"}, g.Chromosomes())
	for _, k := range g.Downstream("chr7.S1.split") {
		task, _ := g.Task(k)
		assert.Equal(t, genome.Chromosome("7"), task.ID.Chrom)
	}
}

func TestBuild_ChunkErrorsPropagate(t *testing.T) {
	_, err := Build(context.Background(), testManifest("21"),
		fakeChunks{err: faults.New(faults.ErrEmptyChunkSet, "no chunks")}, artifact.NewStore("/out"))
	assert.ErrorIs(t, err, faults.ErrEmptyChunkSet)
}
