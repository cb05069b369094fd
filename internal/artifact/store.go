// Package artifact owns the on-disk layout of everything a run produces.
//
// Layout under the output directory:
//
//	work/chr<N>/split/<sample>.chr<N>.vcf.gz    per-sample extraction
//	work/chr<N>/qc/chr<N>.<chunk>.qc.bcf        filtered + annotated chunk
//	work/chrX/nonpar/chrX.nonpar.bcf            non-PAR extraction
//	work/chr<N>/common/chr<N>.<chunk>.common.bcf
//	work/chr<N>/ligate/chr<N>.ligated.bcf       scaffold
//	work/chr<N>/rare/chr<N>.<chunk>.rare.bcf
//	work/chr<N>/lists/<name>.txt                ordered tool input lists
//	phased/chr<N>.phased.bcf                    final output
//	logs/run.jsonl, logs/tasks/<task>.log
//	.phasegrid/state/<task>.json
//
// Every file is first written under a temporary name in its final directory
// and renamed into place only after the producing tool succeeded. A valid
// artifact with its index is the authoritative completion signal.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/biogo/hts/bgzf"
	"github.com/google/uuid"
	"github.com/vk/phasegrid/internal/fsutil"
	"github.com/vk/phasegrid/internal/genome"
)

// IndexSuffix is appended to a variant file to name its index sidecar.
const IndexSuffix = ".csi"

// tempPrefix marks in-progress files. Anything carrying it is garbage once
// no tool is running.
const tempPrefix = ".tmp."

// Artifact is a file produced by exactly one task.
type Artifact struct {
	Path string
	// Indexed artifacts are only complete once their index sidecar exists.
	Indexed bool
	// Final artifacts are never removed by cleanup.
	Final bool
}

// IndexPath returns the sidecar index path.
func (a Artifact) IndexPath() string { return a.Path + IndexSuffix }

// IsZero reports whether a is unset.
func (a Artifact) IsZero() bool { return a.Path == "" }

// Store derives artifact paths from (chromosome, chunk, stage).
type Store struct {
	root string
}

// NewStore returns a store rooted at the run's output directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the output directory.
func (s *Store) Root() string { return s.root }

// WorkDir returns the directory holding every intermediate of chrom.
func (s *Store) WorkDir(chrom genome.Chromosome) string {
	return filepath.Join(s.root, "work", chrom.Contig())
}

// StateDir returns where durable task records live.
func (s *Store) StateDir() string { return filepath.Join(s.root, ".phasegrid", "state") }

// RunLogPath returns the structured transition log.
func (s *Store) RunLogPath() string { return filepath.Join(s.root, "logs", "run.jsonl") }

// TaskLogPath returns where a task's tool stderr is captured.
func (s *Store) TaskLogPath(taskKey string) string {
	return filepath.Join(s.root, "logs", "tasks", taskKey+".log")
}

func (s *Store) intermediate(chrom genome.Chromosome, stage, name string) Artifact {
	return Artifact{Path: filepath.Join(s.WorkDir(chrom), stage, name), Indexed: true}
}

func stem(chrom genome.Chromosome, chunkID string) string {
	if chunkID == "" {
		return chrom.Contig()
	}
	return chrom.Contig() + "." + chunkID
}

// Split is the per-(sample, chromosome) extraction of a sample's calls.
func (s *Store) Split(sample string, chrom genome.Chromosome) Artifact {
	return s.intermediate(chrom, "split", fmt.Sprintf("%s.%s.vcf.gz", sample, chrom.Contig()))
}

// QC is the filtered and annotated chunk. chunkID is empty for unchunked
// chromosomes.
func (s *Store) QC(chrom genome.Chromosome, chunkID string) Artifact {
	return s.intermediate(chrom, "qc", stem(chrom, chunkID)+".qc.bcf")
}

// NonPAR is the chrX extraction outside the pseudoautosomal regions.
func (s *Store) NonPAR(chrom genome.Chromosome) Artifact {
	return s.intermediate(chrom, "nonpar", chrom.Contig()+".nonpar.bcf")
}

// Common is a chunk phased at common sites.
func (s *Store) Common(chrom genome.Chromosome, chunkID string) Artifact {
	return s.intermediate(chrom, "common", stem(chrom, chunkID)+".common.bcf")
}

// Ligated is the chromosome-wide common-variant scaffold.
func (s *Store) Ligated(chrom genome.Chromosome) Artifact {
	return s.intermediate(chrom, "ligate", chrom.Contig()+".ligated.bcf")
}

// Rare is a chunk phased at rare sites on top of the scaffold.
func (s *Store) Rare(chrom genome.Chromosome, chunkID string) Artifact {
	return s.intermediate(chrom, "rare", stem(chrom, chunkID)+".rare.bcf")
}

// Final is the per-chromosome phased output.
func (s *Store) Final(chrom genome.Chromosome) Artifact {
	return Artifact{
		Path:    filepath.Join(s.root, "phased", chrom.Contig()+".phased.bcf"),
		Indexed: true,
		Final:   true,
	}
}

// ListPath returns where an ordered tool input list is written.
func (s *Store) ListPath(chrom genome.Chromosome, name string) string {
	return filepath.Join(s.WorkDir(chrom), "lists", name+".txt")
}

// TempPath returns a fresh temporary path next to a's final location. The
// extension is kept so tools infer the output format correctly.
func TempPath(a Artifact) string {
	dir, base := filepath.Split(a.Path)
	return filepath.Join(dir, tempPrefix+uuid.NewString()+"."+base)
}

// IsTemp reports whether path names an in-progress file.
func IsTemp(path string) bool {
	return strings.HasPrefix(filepath.Base(path), tempPrefix)
}

// Prepare creates the directory a's temporary and final files live in.
func Prepare(a Artifact) error {
	return os.MkdirAll(filepath.Dir(a.Path), 0o755)
}

// Commit moves a successfully written temporary file (and its index) into
// place. The index is moved first so a final-named data file never exists
// without its sidecar.
func Commit(tmp string, a Artifact) error {
	if a.Indexed {
		if err := os.Rename(tmp+IndexSuffix, a.IndexPath()); err != nil {
			return fmt.Errorf("committing index of %s: %w", a.Path, err)
		}
	}
	if err := os.Rename(tmp, a.Path); err != nil {
		return fmt.Errorf("committing %s: %w", a.Path, err)
	}
	return nil
}

// Discard removes a temporary file and its index, ignoring missing files.
func Discard(tmp string) error {
	return errors.Join(removeIfExists(tmp), removeIfExists(tmp+IndexSuffix))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Valid reports whether a is complete: non-empty, terminated with a BGZF EOF
// block when block-compressed, and accompanied by a non-empty index when
// Indexed.
func Valid(a Artifact) (bool, error) {
	ok, err := nonEmpty(a.Path)
	if err != nil || !ok {
		return false, err
	}
	if isBlockCompressed(a.Path) {
		ok, err := hasEOF(a.Path)
		if err != nil || !ok {
			return false, err
		}
	}
	if a.Indexed {
		return nonEmpty(a.IndexPath())
	}
	return true, nil
}

func nonEmpty(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular() && info.Size() > 0, nil
}

func isBlockCompressed(path string) bool {
	return strings.HasSuffix(path, ".bcf") || strings.HasSuffix(path, ".gz")
}

// hasEOF checks for the BGZF end-of-file marker. A truncated write leaves it
// missing.
func hasEOF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	ok, err := bgzf.HasEOF(f)
	if err != nil {
		// Too short or not BGZF at all: treat as incomplete rather than fatal.
		return false, nil
	}
	return ok, nil
}

// WriteList writes paths one per line to dst through a temporary file.
func WriteList(dst string, paths []string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := TempPath(Artifact{Path: dst})
	body := strings.Join(paths, "\n") + "\n"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// SweepTemps deletes orphaned temporary files left by an interrupted run. It
// must only be called while no tool is running.
func (s *Store) SweepTemps() (int, error) {
	temps, err := fsutil.FindFiles(s.root, IsTemp)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range temps {
		if err := removeIfExists(path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Cleanup removes every intermediate of chrom. Final artifacts live outside
// the work tree and are never touched.
func (s *Store) Cleanup(chrom genome.Chromosome) error {
	return os.RemoveAll(s.WorkDir(chrom))
}
