package dag

import (
	"fmt"
	"strings"

	"github.com/vk/phasegrid/internal/artifact"
	"github.com/vk/phasegrid/internal/chunk"
	"github.com/vk/phasegrid/internal/genome"
)

// Stage is the kind of work a task performs.
type Stage string

const (
	StageSplit       Stage = "split"
	StageQC          Stage = "qc"
	StageNonPAR      Stage = "chrX-nonpar"
	StagePhaseCommon Stage = "phase-common"
	StageLigate      Stage = "ligate"
	StagePhaseRare   Stage = "phase-rare"
	StageConcat      Stage = "concat"
)

// NoChunk is the chunk index of tasks that span a whole chromosome.
const NoChunk = -1

// IsBarrier reports whether tasks of this stage join all chunks of a
// chromosome.
func (s Stage) IsBarrier() bool {
	return s == StageLigate || s == StageConcat
}

// TaskID identifies a task by (chromosome, sample, chunk, stage). Sample is
// only set for split tasks.
type TaskID struct {
	Chrom  genome.Chromosome
	Sample string
	Chunk  int
	Stage  Stage
}

// Key returns the stable string form used for graph nodes, state records and
// task logs, e.g. "chr21.chunk002.phase-common" or "chr21.S1.split".
func (id TaskID) Key() string {
	parts := []string{id.Chrom.Contig()}
	if id.Sample != "" {
		parts = append(parts, id.Sample)
	}
	if id.Chunk != NoChunk {
		parts = append(parts, chunk.FormatID(id.Chunk))
	}
	parts = append(parts, string(id.Stage))
	return strings.Join(parts, ".")
}

func (id TaskID) String() string { return id.Key() }

// ChunkID returns the artifact-naming chunk id, or "" for whole-chromosome
// tasks.
func (id TaskID) ChunkID() string {
	if id.Chunk == NoChunk {
		return ""
	}
	return chunk.FormatID(id.Chunk)
}

// Task is one node of work. Inputs are ordered; for barrier tasks the order
// is chunk index order.
type Task struct {
	ID     TaskID
	Inputs []artifact.Artifact
	Output artifact.Artifact
	// Scaffold is the ligated common-variant backbone for phase-rare.
	Scaffold artifact.Artifact
	// Region is the processing window handed to the tool.
	Region genome.Region
	// Core is the part of Region the task is responsible for. It differs from
	// Region only for buffered chunks.
	Core genome.Region
}

func (t *Task) String() string {
	return fmt.Sprintf("%s -> %s", t.ID.Key(), t.Output.Path)
}
